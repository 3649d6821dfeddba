package grid

import "github.com/pkg/errors"

// Sentinel error kinds. Errors of these kinds are returned wrapped via
// errors.Wrapf, so callers can distinguish the kind with errors.Is while
// still getting a message that names the offending dimensions or index.
// Context cancellation errors and WriteTile's early-close error are
// returned as they are and wrap none of these.
var (
	// ErrSizeMismatch is returned when a caller-supplied buffer's dimensions
	// do not equal the grid's dimensions.
	ErrSizeMismatch = errors.New("grid: buffer size does not match grid dimensions")

	// ErrTileOutOfRange is returned when a tile index falls outside the
	// grid's tile range.
	ErrTileOutOfRange = errors.New("grid: tile index out of range")

	// ErrInvalidConfiguration is returned when grid dimensions or tile
	// dimensions are not usable (zero, or too small to admit a halo).
	ErrInvalidConfiguration = errors.New("grid: invalid configuration")
)
