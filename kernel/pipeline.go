package kernel

import (
	"context"

	"github.com/pspoerri/stencilgrid/internal/bufpool"
	"github.com/pspoerri/stencilgrid/stencil"
	"github.com/pspoerri/stencilgrid/tdv"
)

// Pipeline is the streaming shift-register kernel: it holds Config.Depth
// processing stages, each carrying its own stencil shift register and a
// double-buffered line cache, and scans the input tile in column-major
// order exactly once, emitting one output cell for each input position whose
// column and row both lie at least 2*HaloRadius into the input tile (the
// warm-up latency). Grounded on StencilStream's tiling ExecutionKernel.
//
// Pipeline is expressed as a single sequential Go loop carrying per-stage
// state in slices, not as one goroutine per stage: a hardware pipeline's
// stages run concurrently because each is a separate piece of silicon, but
// on a CPU there is no clock to hide channel-handoff latency behind, so a
// literal goroutine-per-stage translation would only add synchronization
// overhead for the same result. This is the same tradeoff StencilStream's
// own cpu backend makes.
type Pipeline[C any, V any] struct {
	stencilPool *bufpool.Pool[C]
	cachePool   *bufpool.Pool[C]
}

// NewPipeline creates a Pipeline kernel. If pool is nil, a private pool is
// used for the stencil shift registers; pass the same *bufpool.Pool[C] to
// every Pipeline sharing a driver to reuse scratch buffers across tile and
// pass invocations.
func NewPipeline[C any, V any](pool *bufpool.Pool[C]) *Pipeline[C, V] {
	if pool == nil {
		pool = bufpool.New[C]()
	}
	return &Pipeline[C, V]{stencilPool: pool, cachePool: bufpool.New[C]()}
}

// Run implements Kernel.
func (k *Pipeline[C, V]) Run(ctx context.Context, cfg Config[C, V], supplier tdv.Supplier[V], in <-chan C, out chan<- C) error {
	radius := cfg.TransFunc.StencilRadius()
	nsub := uint64(cfg.TransFunc.NSubiterations())
	diameter := stencil.Diameter(radius)
	haloRadius := cfg.HaloRadius()
	depth := cfg.Depth

	outW := cfg.outputWidth()
	outH := cfg.outputHeight()
	inputTileWidth := outW + 2*haloRadius
	inputTileHeight := outH + 2*haloRadius

	stencilBufSize := depth * diameter * diameter
	stencilBuffer := k.stencilPool.Get(cfg.TileWidth, cfg.TileHeight, radius, depth, stencilBufSize)
	defer k.stencilPool.Put(cfg.TileWidth, cfg.TileHeight, radius, depth, stencilBuffer)
	for i := range stencilBuffer {
		var zero C
		stencilBuffer[i] = zero
	}

	cacheSize := 2 * inputTileHeight * depth * (diameter - 1)
	cache := k.cachePool.Get(cfg.TileWidth, inputTileHeight, radius, depth, cacheSize)
	defer k.cachePool.Put(cfg.TileWidth, inputTileHeight, radius, depth, cache)
	for i := range cache {
		var zero C
		cache[i] = zero
	}

	stencilIndex := func(pe, c, r int) int {
		return pe*diameter*diameter + c*diameter + r
	}
	cacheIndex := func(parity, r, pe, c int) int {
		return ((parity*inputTileHeight+r)*depth+pe)*(diameter-1) + c
	}

	nIterations := inputTileWidth * inputTileHeight

	inputTileC := 0
	inputTileR := 0

	for i := 0; i < nIterations; i++ {
		carry, ok := <-in
		if !ok {
			return errShortInput
		}

		for pe := 0; pe < depth; pe++ {
			// Shift every stencil position up by one row; the bottom row
			// is overwritten below with newly-arrived data.
			for c := 0; c < diameter; c++ {
				for r := 0; r < diameter-1; r++ {
					stencilBuffer[stencilIndex(pe, c, r)] = stencilBuffer[stencilIndex(pe, c, r+1)]
				}
			}

			relInputGridC := inputTileC - ((diameter - 1) + (depth+pe-2)*radius)
			inputGridC := cfg.GridColOffset + relInputGridC
			relInputGridR := inputTileR - ((diameter - 1) + (depth+pe-2)*radius)
			inputGridR := cfg.GridRowOffset + relInputGridR

			parity := inputTileC & 1
			for cacheC := 0; cacheC < diameter; cacheC++ {
				var newValue C
				if cacheC == diameter-1 {
					isHalo := (cfg.GridColOffset == 0 && relInputGridC < 0) ||
						(cfg.GridRowOffset == 0 && relInputGridR < 0) ||
						inputGridC >= cfg.GridWidth || inputGridR >= cfg.GridHeight
					if isHalo {
						newValue = cfg.HaloValue
					} else {
						newValue = carry
					}
				} else {
					newValue = cache[cacheIndex(parity, inputTileR, pe, cacheC)]
				}

				stencilBuffer[stencilIndex(pe, cacheC, diameter-1)] = newValue
				if cacheC > 0 {
					cache[cacheIndex(1-parity, inputTileR, pe, cacheC-1)] = newValue
				}
			}

			outputGridC := inputGridC - radius
			outputGridR := inputGridR - radius
			generation := cfg.IGeneration + uint64(pe)

			if generation < cfg.TargetGeneration {
				patch := make([]C, diameter*diameter)
				for c := 0; c < diameter; c++ {
					for r := 0; r < diameter; r++ {
						patch[c*diameter+r] = stencilBuffer[stencilIndex(pe, c, r)]
					}
				}
				iteration := generation / nsub
				subiteration := int(generation % nsub)
				st := stencil.New[C, V](outputGridC, outputGridR, cfg.GridWidth, cfg.GridHeight, iteration, subiteration, supplier.Value(iteration), radius, patch)
				carry = cfg.TransFunc.Apply(st)
			} else {
				carry = stencilBuffer[stencilIndex(pe, radius, radius)]
			}
		}

		isValidOutput := inputTileC >= (diameter-1)*depth && inputTileR >= (diameter-1)*depth
		if isValidOutput {
			select {
			case out <- carry:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if inputTileR == inputTileHeight-1 {
			inputTileR = 0
			inputTileC++
		} else {
			inputTileR++
		}
	}

	return nil
}
