package kernel

import "github.com/pkg/errors"

// errShortInput is returned when the input channel closes before a kernel
// invocation has read all the cells its Config promised. It never arises
// from caller-supplied grid dimensions (the grid store always emits the
// expected count); it signals a bug in the channel wiring between the
// store and the kernel.
var errShortInput = errors.New("kernel: input channel closed before tile was fully read")
