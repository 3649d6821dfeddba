package kernel_test

import (
	"context"
	"testing"

	"github.com/pspoerri/stencilgrid/examples"
	"github.com/pspoerri/stencilgrid/kernel"
	"github.com/pspoerri/stencilgrid/stencil"
	"github.com/pspoerri/stencilgrid/tdv"
)

// runTile wires a grid.Store-free, in-memory tile through k and returns the
// output cells in column-major order, for a single tile that covers the
// whole (tw x th) region with no grid beyond it (GridWidth=tw, GridHeight=th).
func runTile[C any, V any](t *testing.T, k kernel.Kernel[C, V], cfg kernel.Config[C, V], input []C) []C {
	t.Helper()

	in := make(chan C, len(input))
	for _, v := range input {
		in <- v
	}
	close(in)

	out := make(chan C, cfg.TileWidth*cfg.TileHeight+1)
	if err := k.Run(context.Background(), cfg, tdv.Inline[V]{Func: cfg.TransFunc.TDV}, in, out); err != nil {
		t.Fatalf("kernel.Run: %v", err)
	}
	close(out)

	var got []C
	for v := range out {
		got = append(got, v)
	}
	return got
}

func haloExtendedInput[C any](grid [][]C, haloRadius int, haloValue C) []C {
	w := len(grid)
	h := 0
	if w > 0 {
		h = len(grid[0])
	}
	var input []C
	for c := -haloRadius; c < w+haloRadius; c++ {
		for r := -haloRadius; r < h+haloRadius; r++ {
			if c < 0 || r < 0 || c >= w || r >= h {
				input = append(input, haloValue)
			} else {
				input = append(input, grid[c][r])
			}
		}
	}
	return input
}

// naiveReference applies transFunc to grid depth times, one whole-grid
// generation at a time, substituting haloValue for every out-of-bounds
// neighbor on every generation. It has none of Pipeline's shift-register
// bookkeeping or Direct's shrinking-region bookkeeping, so it serves as an
// independent correctness oracle for both.
func naiveReference[C any, V any](transFunc stencil.TransitionFunction[C, V], g [][]C, haloValue C, depth int) [][]C {
	width := len(g)
	height := 0
	if width > 0 {
		height = len(g[0])
	}
	radius := transFunc.StencilRadius()
	diameter := stencil.Diameter(radius)
	nsub := uint64(transFunc.NSubiterations())

	cur := g
	for gen := 0; gen < depth; gen++ {
		iteration := uint64(gen) / nsub
		subiteration := int(uint64(gen) % nsub)
		tdvValue := transFunc.TDV(iteration)

		next := make([][]C, width)
		for c := range next {
			next[c] = make([]C, height)
		}
		for c := 0; c < width; c++ {
			for r := 0; r < height; r++ {
				patch := make([]C, diameter*diameter)
				for dc := -radius; dc <= radius; dc++ {
					for dr := -radius; dr <= radius; dr++ {
						gc, gr := c+dc, r+dr
						var v C
						if gc < 0 || gr < 0 || gc >= width || gr >= height {
							v = haloValue
						} else {
							v = cur[gc][gr]
						}
						patch[(dc+radius)*diameter+(dr+radius)] = v
					}
				}
				st := stencil.New[C, V](c, r, width, height, iteration, subiteration, tdvValue, radius, patch)
				next[c][r] = transFunc.Apply(st)
			}
		}
		cur = next
	}
	return cur
}

func TestPipelineAndDirectAgreeWithHaloAtDepthTwo(t *testing.T) {
	// Reproduces the corner/edge halo-leak scenario directly: a 3x3 all-ones
	// grid summed by HaloCounter fused two deep. Depth=2 means the halo band
	// is 2 cells wide, so the shrinking/growing region in both kernels still
	// covers out-of-grid positions after the first of the two stages; any
	// kernel that forgets to re-substitute HaloValue on the second stage will
	// read the first stage's computed (nonzero) value instead.
	transFunc := examples.HaloCounter{}
	width, height := 3, 3
	depth := 2
	haloRadius := transFunc.StencilRadius() * depth

	g := make([][]uint64, width)
	for c := range g {
		g[c] = make([]uint64, height)
		for r := range g[c] {
			g[c][r] = 1
		}
	}
	input := haloExtendedInput(g, haloRadius, 0)

	cfg := kernel.Config[uint64, struct{}]{
		TransFunc:        transFunc,
		Depth:            depth,
		TileWidth:        width,
		TileHeight:       height,
		IGeneration:      0,
		TargetGeneration: uint64(depth),
		GridColOffset:    0,
		GridRowOffset:    0,
		GridWidth:        width,
		GridHeight:       height,
		HaloValue:        0,
	}

	pipelineOut := runTile[uint64, struct{}](t, kernel.NewPipeline[uint64, struct{}](nil), cfg, append([]uint64(nil), input...))
	directOut := runTile[uint64, struct{}](t, kernel.Direct[uint64, struct{}]{}, cfg, append([]uint64(nil), input...))
	want := naiveReference[uint64, struct{}](transFunc, g, 0, depth)

	for c := 0; c < width; c++ {
		for r := 0; r < height; r++ {
			idx := c*height + r
			if pipelineOut[idx] != want[c][r] {
				t.Errorf("pipeline cell (%d,%d) = %d, want %d (naive reference)", c, r, pipelineOut[idx], want[c][r])
			}
			if directOut[idx] != want[c][r] {
				t.Errorf("direct cell (%d,%d) = %d, want %d (naive reference)", c, r, directOut[idx], want[c][r])
			}
		}
	}
}

func TestPipelineAndDirectAgreeOnLifeAtDepthTwo(t *testing.T) {
	// A glider one cell from the corner: its neighborhood touches the grid
	// boundary on both axes at once, the sharpest halo-handling case Life
	// can pose.
	transFunc := examples.Life{}
	width, height := 6, 6
	depth := 2
	haloRadius := transFunc.StencilRadius() * depth

	g := make([][]bool, width)
	for c := range g {
		g[c] = make([]bool, height)
	}
	for _, p := range [][2]int{{1, 0}, {2, 1}, {0, 2}, {1, 2}, {2, 2}} {
		g[p[0]][p[1]] = true
	}
	input := haloExtendedInput[bool](g, haloRadius, false)

	cfg := kernel.Config[bool, struct{}]{
		TransFunc:        transFunc,
		Depth:            depth,
		TileWidth:        width,
		TileHeight:       height,
		IGeneration:      0,
		TargetGeneration: uint64(depth),
		GridColOffset:    0,
		GridRowOffset:    0,
		GridWidth:        width,
		GridHeight:       height,
		HaloValue:        false,
	}

	pipelineOut := runTile[bool, struct{}](t, kernel.NewPipeline[bool, struct{}](nil), cfg, append([]bool(nil), input...))
	directOut := runTile[bool, struct{}](t, kernel.Direct[bool, struct{}]{}, cfg, append([]bool(nil), input...))
	want := naiveReference[bool, struct{}](transFunc, g, false, depth)

	for c := 0; c < width; c++ {
		for r := 0; r < height; r++ {
			idx := c*height + r
			if pipelineOut[idx] != want[c][r] {
				t.Errorf("pipeline cell (%d,%d) = %v, want %v (naive reference)", c, r, pipelineOut[idx], want[c][r])
			}
			if directOut[idx] != want[c][r] {
				t.Errorf("direct cell (%d,%d) = %v, want %v (naive reference)", c, r, directOut[idx], want[c][r])
			}
		}
	}
}

func TestPipelineAndDirectAgreeWithSubiterationsGreaterThanOne(t *testing.T) {
	// TwoPhase has NSubiterations()=2: a fused pass with Depth=4 spans two
	// full logical iterations, requiring both kernels to alternate the two
	// sub-steps in lockstep with the flattened generation counter.
	transFunc := examples.TwoPhase{}
	width, height := 5, 5
	depth := 4
	haloRadius := transFunc.StencilRadius() * depth

	g := make([][]uint64, width)
	for c := range g {
		g[c] = make([]uint64, height)
	}
	input := haloExtendedInput(g, haloRadius, 0)

	cfg := kernel.Config[uint64, struct{}]{
		TransFunc:        transFunc,
		Depth:            depth,
		TileWidth:        width,
		TileHeight:       height,
		IGeneration:      0,
		TargetGeneration: uint64(depth),
		GridColOffset:    0,
		GridRowOffset:    0,
		GridWidth:        width,
		GridHeight:       height,
		HaloValue:        0,
	}

	pipelineOut := runTile[uint64, struct{}](t, kernel.NewPipeline[uint64, struct{}](nil), cfg, append([]uint64(nil), input...))
	directOut := runTile[uint64, struct{}](t, kernel.Direct[uint64, struct{}]{}, cfg, append([]uint64(nil), input...))
	want := naiveReference[uint64, struct{}](transFunc, g, 0, depth)

	for c := 0; c < width; c++ {
		for r := 0; r < height; r++ {
			idx := c*height + r
			if pipelineOut[idx] != want[c][r] {
				t.Errorf("pipeline cell (%d,%d) = %d, want %d (naive reference)", c, r, pipelineOut[idx], want[c][r])
			}
			if directOut[idx] != want[c][r] {
				t.Errorf("direct cell (%d,%d) = %d, want %d (naive reference)", c, r, directOut[idx], want[c][r])
			}
		}
	}
}

func TestPipelineAndDirectAgreeWithNaiveReference(t *testing.T) {
	transFunc := examples.Counter{}
	width, height := 4, 4
	depths := []int{1, 2, 4}

	base := make([][]uint64, width)
	for c := range base {
		base[c] = make([]uint64, height)
	}

	for _, depth := range depths {
		haloRadius := transFunc.StencilRadius() * depth
		input := haloExtendedInput(base, haloRadius, 0)

		cfg := kernel.Config[uint64, struct{}]{
			TransFunc:        transFunc,
			Depth:            depth,
			TileWidth:        width,
			TileHeight:       height,
			IGeneration:      0,
			TargetGeneration: uint64(depth),
			GridColOffset:    0,
			GridRowOffset:    0,
			GridWidth:        width,
			GridHeight:       height,
			HaloValue:        0,
		}

		pipelineOut := runTile[uint64, struct{}](t, kernel.NewPipeline[uint64, struct{}](nil), cfg, append([]uint64(nil), input...))
		directOut := runTile[uint64, struct{}](t, kernel.Direct[uint64, struct{}]{}, cfg, append([]uint64(nil), input...))
		want := naiveReference[uint64, struct{}](transFunc, base, 0, depth)

		if len(pipelineOut) != width*height {
			t.Fatalf("depth %d: pipeline produced %d cells, want %d", depth, len(pipelineOut), width*height)
		}
		if len(directOut) != len(pipelineOut) {
			t.Fatalf("depth %d: direct produced %d cells, pipeline produced %d", depth, len(directOut), len(pipelineOut))
		}
		for i := range pipelineOut {
			// Counter increments every cell by one per fused iteration;
			// after `depth` fused iterations every cell equals depth.
			if pipelineOut[i] != uint64(depth) {
				t.Errorf("depth %d: pipeline cell %d = %d, want %d", depth, i, pipelineOut[i], depth)
			}
			if directOut[i] != pipelineOut[i] {
				t.Errorf("depth %d: direct cell %d = %d, pipeline = %d", depth, i, directOut[i], pipelineOut[i])
			}
			if ref := want[i/height][i%height]; pipelineOut[i] != ref {
				t.Errorf("depth %d: pipeline cell %d = %d, want %d (naive reference)", depth, i, pipelineOut[i], ref)
			}
		}
	}
}

func TestPipelineAndDirectAgreeOnHaloCounter(t *testing.T) {
	transFunc := examples.HaloCounter{}
	width, height := 3, 3
	depth := 1
	haloRadius := transFunc.StencilRadius() * depth

	grid := make([][]uint64, width)
	for c := range grid {
		grid[c] = make([]uint64, height)
		for r := range grid[c] {
			grid[c][r] = 1
		}
	}
	input := haloExtendedInput(grid, haloRadius, 0)

	cfg := kernel.Config[uint64, struct{}]{
		TransFunc:        transFunc,
		Depth:            depth,
		TileWidth:        width,
		TileHeight:       height,
		IGeneration:      0,
		TargetGeneration: uint64(depth),
		GridColOffset:    0,
		GridRowOffset:    0,
		GridWidth:        width,
		GridHeight:       height,
		HaloValue:        0,
	}

	pipelineOut := runTile[uint64, struct{}](t, kernel.NewPipeline[uint64, struct{}](nil), cfg, append([]uint64(nil), input...))
	directOut := runTile[uint64, struct{}](t, kernel.Direct[uint64, struct{}]{}, cfg, append([]uint64(nil), input...))

	// Column-major output: index c*height+r.
	want := map[[2]int]uint64{
		{0, 0}: 4, {0, 2}: 4, {2, 0}: 4, {2, 2}: 4, // corners
		{0, 1}: 6, {1, 0}: 6, {1, 2}: 6, {2, 1}: 6, // edges
		{1, 1}: 9, // interior
	}
	for pos, want := range want {
		idx := pos[0]*height + pos[1]
		if pipelineOut[idx] != want {
			t.Errorf("pipeline cell %v = %d, want %d", pos, pipelineOut[idx], want)
		}
		if directOut[idx] != want {
			t.Errorf("direct cell %v = %d, want %d", pos, directOut[idx], want)
		}
	}
}
