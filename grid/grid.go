// Package grid implements the cell storage and tile streaming endpoints
// the update kernel and driver consume: the grid store (C1 in the design
// notes).
package grid

import (
	"context"

	"github.com/pkg/errors"
)

// Store owns the cell storage for one grid and provides both random
// host-side access and the column-major tile streaming endpoints the
// update kernel reads from and writes to. A Store is safe for concurrent
// ReadTile calls, and for one WriteTile per distinct tile running
// concurrently with others; callers must not mutate a Store that a tile
// read is in progress against.
type Store[C any] struct {
	width, height         int
	tileWidth, tileHeight int
	cells                 []C // flat, column-major: index = col*height+row
}

// NewStore allocates a grid of width x height cells with unspecified
// contents, tiled in tileWidth x tileHeight pieces. Returns
// ErrInvalidConfiguration if any dimension is zero or negative.
func NewStore[C any](width, height, tileWidth, tileHeight int) (*Store[C], error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "grid dimensions must be positive, got %dx%d", width, height)
	}
	if tileWidth <= 0 || tileHeight <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "tile dimensions must be positive, got %dx%d", tileWidth, tileHeight)
	}
	return &Store[C]{
		width:      width,
		height:     height,
		tileWidth:  tileWidth,
		tileHeight: tileHeight,
		cells:      make([]C, width*height),
	}, nil
}

// NewMonotileStore allocates a grid that is always covered by exactly one
// tile, i.e. the whole grid fits in working memory and no inter-tile halo
// exchange is ever needed. It is otherwise a plain Store and satisfies the
// same contract.
func NewMonotileStore[C any](width, height int) (*Store[C], error) {
	return NewStore[C](width, height, width, height)
}

// NewStoreFromBuffer allocates a grid and copies buf's contents in. buf is
// indexed buf[col][row].
func NewStoreFromBuffer[C any](buf [][]C, tileWidth, tileHeight int) (*Store[C], error) {
	width := len(buf)
	height := 0
	if width > 0 {
		height = len(buf[0])
	}
	s, err := NewStore[C](width, height, tileWidth, tileHeight)
	if err != nil {
		return nil, err
	}
	if err := s.CopyFrom(buf); err != nil {
		return nil, err
	}
	return s, nil
}

// Width is the number of columns.
func (s *Store[C]) Width() int { return s.width }

// Height is the number of rows.
func (s *Store[C]) Height() int { return s.height }

// TileWidth is the configured tile column count.
func (s *Store[C]) TileWidth() int { return s.tileWidth }

// TileHeight is the configured tile row count.
func (s *Store[C]) TileHeight() int { return s.tileHeight }

// TileRange returns the number of tile columns and tile rows covering the
// grid; boundary tiles may be partially outside the grid and are clipped
// by ReadTile/WriteTile.
func (s *Store[C]) TileRange() (cols, rows int) {
	cols = ceilDiv(s.width, s.tileWidth)
	rows = ceilDiv(s.height, s.tileHeight)
	return
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Similar allocates a new Store with the same dimensions and tiling, but
// unspecified contents.
func (s *Store[C]) Similar() *Store[C] {
	store, _ := NewStore[C](s.width, s.height, s.tileWidth, s.tileHeight)
	return store
}

func (s *Store[C]) index(c, r int) int {
	return c*s.height + r
}

// At reads cell (c, r) directly, for host-side inspection between updates.
func (s *Store[C]) At(c, r int) C {
	return s.cells[s.index(c, r)]
}

// Set writes cell (c, r) directly, for host-side inspection between updates.
func (s *Store[C]) Set(c, r int, v C) {
	s.cells[s.index(c, r)] = v
}

// CopyFrom overwrites the grid's contents from buf, indexed buf[col][row].
// Returns ErrSizeMismatch if buf's dimensions differ from the grid's.
func (s *Store[C]) CopyFrom(buf [][]C) error {
	if len(buf) != s.width {
		return errors.Wrapf(ErrSizeMismatch, "buffer has %d columns, grid has %d", len(buf), s.width)
	}
	for c, column := range buf {
		if len(column) != s.height {
			return errors.Wrapf(ErrSizeMismatch, "buffer column %d has %d rows, grid has %d", c, len(column), s.height)
		}
	}
	for c, column := range buf {
		for r, cell := range column {
			s.cells[s.index(c, r)] = cell
		}
	}
	return nil
}

// CopyTo allocates and fills a buffer, indexed buf[col][row], with the
// grid's current contents.
func (s *Store[C]) CopyTo() [][]C {
	buf := make([][]C, s.width)
	for c := range buf {
		buf[c] = make([]C, s.height)
		for r := range buf[c] {
			buf[c][r] = s.cells[s.index(c, r)]
		}
	}
	return buf
}

// CopyToBuffer writes the grid's contents into an existing buffer, indexed
// buf[col][row]. Returns ErrSizeMismatch if buf's dimensions differ from
// the grid's.
func (s *Store[C]) CopyToBuffer(buf [][]C) error {
	if len(buf) != s.width {
		return errors.Wrapf(ErrSizeMismatch, "buffer has %d columns, grid has %d", len(buf), s.width)
	}
	for c := range buf {
		if len(buf[c]) != s.height {
			return errors.Wrapf(ErrSizeMismatch, "buffer column %d has %d rows, grid has %d", c, len(buf[c]), s.height)
		}
	}
	for c := 0; c < s.width; c++ {
		for r := 0; r < s.height; r++ {
			buf[c][r] = s.cells[s.index(c, r)]
		}
	}
	return nil
}

// ReadTile streams one tile's cells, extended by haloRadius cells in each
// direction, into out in column-major order (column outer, row inner).
// Positions outside [0, Width) x [0, Height) are emitted as haloValue. out
// is closed when the read completes or fails. Returns ErrTileOutOfRange if
// tileCol/tileRow is outside TileRange.
func (s *Store[C]) ReadTile(ctx context.Context, tileCol, tileRow, haloRadius int, haloValue C, out chan<- C) error {
	defer close(out)

	cols, rows := s.TileRange()
	if tileCol < 0 || tileCol >= cols || tileRow < 0 || tileRow >= rows {
		return errors.Wrapf(ErrTileOutOfRange, "tile (%d,%d) outside range (%d,%d)", tileCol, tileRow, cols, rows)
	}

	startC := tileCol*s.tileWidth - haloRadius
	endC := min((tileCol+1)*s.tileWidth, s.width) + haloRadius
	startR := tileRow*s.tileHeight - haloRadius
	endR := min((tileRow+1)*s.tileHeight, s.height) + haloRadius

	for c := startC; c < endC; c++ {
		for r := startR; r < endR; r++ {
			var cell C
			if c < 0 || r < 0 || c >= s.width || r >= s.height {
				cell = haloValue
			} else {
				cell = s.cells[s.index(c, r)]
			}
			select {
			case out <- cell:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// WriteTile consumes one tile's worth of cells from in, in column-major
// order, over the tile's interior (clipped to the grid), and writes them
// into the grid. Returns ErrTileOutOfRange if tileCol/tileRow is outside
// TileRange.
func (s *Store[C]) WriteTile(ctx context.Context, tileCol, tileRow int, in <-chan C) error {
	cols, rows := s.TileRange()
	if tileCol < 0 || tileCol >= cols || tileRow < 0 || tileRow >= rows {
		return errors.Wrapf(ErrTileOutOfRange, "tile (%d,%d) outside range (%d,%d)", tileCol, tileRow, cols, rows)
	}

	startC := tileCol * s.tileWidth
	endC := min((tileCol+1)*s.tileWidth, s.width)
	startR := tileRow * s.tileHeight
	endR := min((tileRow+1)*s.tileHeight, s.height)

	for c := startC; c < endC; c++ {
		for r := startR; r < endR; r++ {
			select {
			case cell, ok := <-in:
				if !ok {
					return errors.New("grid: input channel closed before tile was fully written")
				}
				s.cells[s.index(c, r)] = cell
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
