package duplex

import "go.uber.org/multierr"

// newCompositeError aggregates the errors raised while destroying
// several live managed iterators in parallel during merge-engine
// cleanup, adapted from the teacher's panic-aggregation shape
// (paniccatcher.go's panicvalue, which likewise exposes Unwrap() []error
// over a set of concurrently captured failures) but built on
// go.uber.org/multierr instead of hand-rolled accumulation, and carrying
// ordinary errors rather than recovered panics. Returns nil if every
// entry is nil, and the bare error unwrapped if exactly one is non-nil.
func newCompositeError(errs []error) error {
	return multierr.Combine(errs...)
}
