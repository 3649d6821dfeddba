package kernel

import (
	"context"

	"github.com/pspoerri/stencilgrid/stencil"
	"github.com/pspoerri/stencilgrid/tdv"
)

// Direct is the non-pipelined reference kernel: it reads the whole
// halo-extended input tile into memory, then applies Config.Depth fused
// stencil applications one at a time over a shrinking double-buffered
// region (each application consumes one ring of halo), until only the
// clipped output region remains. Grounded on StencilStream's cpu backend,
// which exists there for the same reason it exists here: a CPU has no use
// for the shift-register/line-cache machinery a streaming hardware
// pipeline needs, since it can simply hold the whole tile in RAM.
type Direct[C any, V any] struct{}

// Run implements Kernel.
func (Direct[C, V]) Run(ctx context.Context, cfg Config[C, V], supplier tdv.Supplier[V], in <-chan C, out chan<- C) error {
	radius := cfg.TransFunc.StencilRadius()
	nsub := uint64(cfg.TransFunc.NSubiterations())
	diameter := stencil.Diameter(radius)
	haloRadius := cfg.HaloRadius()

	outW := cfg.outputWidth()
	outH := cfg.outputHeight()
	curW := outW + 2*haloRadius
	curH := outH + 2*haloRadius

	cur := make([]C, curW*curH)
	for c := 0; c < curW; c++ {
		for r := 0; r < curH; r++ {
			cell, ok := <-in
			if !ok {
				return errShortInput
			}
			cur[c*curH+r] = cell
		}
	}

	// offC, offR is the global coordinate of cur's (0,0) element.
	offC := cfg.GridColOffset - haloRadius
	offR := cfg.GridRowOffset - haloRadius

	// cellAt returns the value of cur at local position (c,r), substituting
	// cfg.HaloValue if that position's global coordinate falls outside the
	// grid. This re-check happens on every stage, not just the initial read:
	// once a stage applies F, the halo band still present in cur holds
	// F-applied garbage (computed from a patch that mixed real and halo
	// cells), which must not leak into the next stage's neighborhood as if
	// it were real data.
	cellAt := func(originC, originR, c, r int) C {
		globalC := originC + c
		globalR := originR + r
		if globalC < 0 || globalR < 0 || globalC >= cfg.GridWidth || globalR >= cfg.GridHeight {
			return cfg.HaloValue
		}
		return cur[c*curH+r]
	}

	generation := cfg.IGeneration
	for pe := 0; pe < cfg.Depth; pe++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		curOriginC, curOriginR := offC, offR

		nextW := curW - 2*radius
		nextH := curH - 2*radius
		offC += radius
		offR += radius

		next := make([]C, nextW*nextH)
		applyF := generation < cfg.TargetGeneration
		iteration := generation / nsub
		subiteration := int(generation % nsub)

		var tdvValue V
		if applyF {
			tdvValue = supplier.Value(iteration)
		}

		for c := 0; c < nextW; c++ {
			for r := 0; r < nextH; r++ {
				if !applyF {
					next[c*nextH+r] = cellAt(curOriginC, curOriginR, c+radius, r+radius)
					continue
				}

				patch := make([]C, diameter*diameter)
				for dc := 0; dc < diameter; dc++ {
					for dr := 0; dr < diameter; dr++ {
						patch[dc*diameter+dr] = cellAt(curOriginC, curOriginR, c+dc, r+dr)
					}
				}
				st := stencil.New[C, V](offC+c, offR+r, cfg.GridWidth, cfg.GridHeight, iteration, subiteration, tdvValue, radius, patch)
				next[c*nextH+r] = cfg.TransFunc.Apply(st)
			}
		}

		cur = next
		curW, curH = nextW, nextH
		generation++
	}

	for c := 0; c < curW; c++ {
		for r := 0; r < curH; r++ {
			select {
			case out <- cur[c*curH+r]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
