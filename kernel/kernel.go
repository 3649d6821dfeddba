// Package kernel implements the pipelined update kernel (C2 in the design
// notes): the component that consumes a tile-with-halo from an input
// channel and emits an updated tile core to an output channel, fusing up
// to Depth consecutive transition-function applications into one pass.
//
// Two interchangeable implementations are provided. Pipeline emulates the
// shift-register/line-cache streaming kernel literally, in column-major
// scan order, the way a hardware pipeline would. Direct computes the same
// result with a plain double-buffered neighborhood scan, trading the
// pipeline-depth performance multiplier for simplicity. Both satisfy the
// Kernel interface and are required to agree bit-for-bit on every input.
package kernel

import (
	"context"

	"github.com/pspoerri/stencilgrid/stencil"
	"github.com/pspoerri/stencilgrid/tdv"
)

// Config configures one kernel invocation over one tile for one pass.
type Config[C any, V any] struct {
	// TransFunc is the caller-supplied transition function.
	TransFunc stencil.TransitionFunction[C, V]

	// Depth is the pipeline depth P: the number of transition-function
	// applications fused into this pass. Must be a multiple of
	// TransFunc.NSubiterations().
	Depth int

	// TileWidth, TileHeight are the tile's nominal dimensions (before
	// clipping at the grid edge).
	TileWidth, TileHeight int

	// IGeneration is the flat substep counter
	// (iteration*NSubiterations+subiteration) that stage 0 of this pass
	// starts at.
	IGeneration uint64

	// TargetGeneration is the flat substep counter this pass must not
	// advance past; stages at or beyond it pass their center cell through
	// unchanged instead of invoking TransFunc.
	TargetGeneration uint64

	// GridColOffset, GridRowOffset are the tile's column/row offset in
	// the grid, not including halo.
	GridColOffset, GridRowOffset int

	// GridWidth, GridHeight are the full grid's dimensions.
	GridWidth, GridHeight int

	// HaloValue substitutes for neighborhood positions outside the grid.
	HaloValue C
}

// HaloRadius is the number of halo cells needed in each direction for this
// configuration: stencil_radius * Depth.
func (c Config[C, V]) HaloRadius() int {
	return c.TransFunc.StencilRadius() * c.Depth
}

// outputWidth is the clipped output tile width Tw' = min(TileWidth, GridWidth-GridColOffset).
func (c Config[C, V]) outputWidth() int {
	w := c.TileWidth
	if rem := c.GridWidth - c.GridColOffset; rem < w {
		w = rem
	}
	return w
}

// outputHeight is the clipped output tile height Th' = min(TileHeight, GridHeight-GridRowOffset).
func (c Config[C, V]) outputHeight() int {
	h := c.TileHeight
	if rem := c.GridHeight - c.GridRowOffset; rem < h {
		h = rem
	}
	return h
}

// Kernel applies Config.Depth fused transition-function applications to
// one tile, reading exactly (Tw'+2*HaloRadius)*(Th'+2*HaloRadius) cells
// from in and writing exactly Tw'*Th' cells to out, in column-major order,
// where Tw', Th' are Config's clipped output dimensions.
type Kernel[C any, V any] interface {
	Run(ctx context.Context, cfg Config[C, V], supplier tdv.Supplier[V], in <-chan C, out chan<- C) error
}
