// Package driver implements the update driver (C3 in the design notes):
// it repeatedly schedules read -> update -> write passes over every tile
// of a grid until the requested iteration count is reached, managing
// double buffering and time-dependent-value precomputation so the caller
// never has to think about either.
package driver

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pspoerri/stencilgrid/grid"
	"github.com/pspoerri/stencilgrid/kernel"
	"github.com/pspoerri/stencilgrid/stencil"
	"github.com/pspoerri/stencilgrid/tdv"
)

// TDVStrategy selects how the time-dependent value is supplied to the
// kernel for a pass. All three strategies are required to produce
// bit-identical output for the same inputs.
type TDVStrategy int

const (
	// Inline recomputes the time-dependent value on every call.
	Inline TDVStrategy = iota
	// PrecomputeHost fills a pass's worth of values before dispatching any tile.
	PrecomputeHost
	// PrecomputeDevice fills the same buffer lazily, on first use within the pass.
	PrecomputeDevice
)

// Params configures one Update call.
type Params[C any] struct {
	// HaloValue substitutes for grid positions outside [0,W)x[0,H).
	HaloValue C
	// IterationOffset is the logical iteration index the source grid
	// represents (I0 in the design notes).
	IterationOffset uint64
	// NIterations is the number of iterations to advance.
	NIterations uint64
	// Depth is the pipeline depth P: the number of transition-function
	// applications fused into one pass. Must be a positive multiple of
	// the transition function's NSubiterations.
	Depth int
	// Strategy selects the time-dependent-value supply strategy.
	Strategy TDVStrategy
	// Blocking, if true, makes Update wait for the whole run to complete
	// before returning (it always does; Update has no asynchronous mode,
	// but the field is kept as part of the update parameter set).
	Blocking bool
	// Verbose logs one line per completed pass.
	Verbose bool
}

// Stats accumulates throughput counters across an Update call.
type Stats struct {
	CellsProcessed  atomic.Int64
	TilesProcessed  atomic.Int64
	PassesCompleted atomic.Int64
}

// ErrInvalidConfiguration mirrors grid.ErrInvalidConfiguration for
// configuration problems detected at the driver level (pipeline depth,
// tile-vs-halo sizing) rather than at the grid-store level.
var ErrInvalidConfiguration = grid.ErrInvalidConfiguration

func (p Params[C]) validate(nsub int) error {
	if p.Depth <= 0 {
		return errors.Wrapf(ErrInvalidConfiguration, "pipeline depth must be positive, got %d", p.Depth)
	}
	if p.Depth%nsub != 0 {
		return errors.Wrapf(ErrInvalidConfiguration, "pipeline depth %d must be a multiple of n_subiterations %d", p.Depth, nsub)
	}
	return nil
}

// Update advances source by params.NIterations iterations of transFunc,
// using k to execute each tile's fused pass of transition-function
// applications. It allocates and returns a fresh grid of the same
// dimensions; source is never mutated. Stats is always non-nil, even on
// error, and reflects the work completed before the error occurred.
func Update[C any, V any](ctx context.Context, source *grid.Store[C], transFunc stencil.TransitionFunction[C, V], k kernel.Kernel[C, V], params Params[C]) (*grid.Store[C], *Stats, error) {
	stats := &Stats{}

	nsub := transFunc.NSubiterations()
	if err := params.validate(nsub); err != nil {
		return nil, stats, err
	}

	haloRadius := transFunc.StencilRadius() * params.Depth
	if source.TileWidth() <= 2*haloRadius || source.TileHeight() <= 2*haloRadius {
		return nil, stats, errors.Wrapf(ErrInvalidConfiguration,
			"tile size %dx%d is too small for halo radius %d", source.TileWidth(), source.TileHeight(), haloRadius)
	}

	if params.NIterations == 0 {
		result := source.Similar()
		if err := result.CopyFrom(source.CopyTo()); err != nil {
			return nil, stats, err
		}
		return result, stats, nil
	}

	swapA := source.Similar()
	swapB := source.Similar()

	passSource := source
	passTarget := swapB
	first := true

	itersPerPass := uint64(params.Depth / nsub)
	target := params.IterationOffset + params.NIterations

	for i := params.IterationOffset; i < target; {
		itersThisPass := itersPerPass
		if target-i < itersThisPass {
			itersThisPass = target - i
		}

		supplier := buildSupplier[V](params.Strategy, transFunc.TDV, i, int(itersThisPass))

		if err := runPass(ctx, passSource, passTarget, transFunc, k, supplier, params, haloRadius, i, itersThisPass, stats); err != nil {
			return nil, stats, err
		}

		stats.PassesCompleted.Add(1)
		if params.Verbose {
			cols, rows := passSource.TileRange()
			log.Printf("pass %d: iterations [%d,%d), %d tiles", stats.PassesCompleted.Load(), i, i+itersThisPass, cols*rows)
		}

		if first {
			passSource, passTarget = swapB, swapA
			first = false
		} else {
			passSource, passTarget = passTarget, passSource
		}

		i += itersThisPass
	}

	return passSource, stats, nil
}

func buildSupplier[V any](strategy TDVStrategy, fn func(uint64) V, base uint64, n int) tdv.Supplier[V] {
	switch strategy {
	case PrecomputeHost:
		return tdv.NewPrecomputeHost(fn, base, n)
	case PrecomputeDevice:
		return tdv.NewPrecomputeDevice(fn, base, n)
	default:
		return tdv.Inline[V]{Func: fn}
	}
}

func runPass[C any, V any](ctx context.Context, src, dst *grid.Store[C], transFunc stencil.TransitionFunction[C, V], k kernel.Kernel[C, V], supplier tdv.Supplier[V], params Params[C], haloRadius int, iGeneration0 uint64, itersThisPass uint64, stats *Stats) error {
	nsub := uint64(transFunc.NSubiterations())
	iGeneration := iGeneration0 * nsub
	targetGeneration := (iGeneration0 + itersThisPass) * nsub

	cols, rows := src.TileRange()

	g, gctx := errgroup.WithContext(ctx)
	for tc := 0; tc < cols; tc++ {
		for tr := 0; tr < rows; tr++ {
			tc, tr := tc, tr
			g.Go(func() error {
				return runTile(gctx, src, dst, transFunc, k, supplier, params, haloRadius, iGeneration, targetGeneration, tc, tr, stats)
			})
		}
	}
	return g.Wait()
}

func runTile[C any, V any](ctx context.Context, src, dst *grid.Store[C], transFunc stencil.TransitionFunction[C, V], k kernel.Kernel[C, V], supplier tdv.Supplier[V], params Params[C], haloRadius int, iGeneration, targetGeneration uint64, tileCol, tileRow int, stats *Stats) error {
	inCh := make(chan C, src.TileHeight()+1)
	outCh := make(chan C, src.TileHeight()+1)

	cfg := kernel.Config[C, V]{
		TransFunc:        transFunc,
		Depth:            params.Depth,
		TileWidth:        src.TileWidth(),
		TileHeight:       src.TileHeight(),
		IGeneration:      iGeneration,
		TargetGeneration: targetGeneration,
		GridColOffset:    tileCol * src.TileWidth(),
		GridRowOffset:    tileRow * src.TileHeight(),
		GridWidth:        src.Width(),
		GridHeight:       src.Height(),
		HaloValue:        params.HaloValue,
	}

	var readErr, kernelErr, writeErr error
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		readErr = src.ReadTile(ctx, tileCol, tileRow, haloRadius, params.HaloValue, inCh)
	}()
	go func() {
		defer wg.Done()
		kernelErr = k.Run(ctx, cfg, supplier, inCh, outCh)
	}()
	go func() {
		defer wg.Done()
		writeErr = dst.WriteTile(ctx, tileCol, tileRow, outCh)
	}()
	wg.Wait()

	tw := cfg.TileWidth
	if rem := cfg.GridWidth - cfg.GridColOffset; rem < tw {
		tw = rem
	}
	th := cfg.TileHeight
	if rem := cfg.GridHeight - cfg.GridRowOffset; rem < th {
		th = rem
	}
	stats.TilesProcessed.Add(1)
	stats.CellsProcessed.Add(int64(tw * th))

	if readErr != nil {
		return readErr
	}
	if kernelErr != nil {
		return kernelErr
	}
	return writeErr
}
