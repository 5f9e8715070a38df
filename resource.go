package duplex

import (
	"context"

	"go.uber.org/multierr"
)

// AsyncResource attaches cleanup hooks to an object so that they run
// when the owning scope exits. Composes: a newly attached hook runs
// before any hook already attached, so the most-recently-acquired
// resource is released first. Every managedIterator owns one, attached
// to its source's Close, so a merge engine cascading cancellation to its
// children releases each through this single, composable point.
type AsyncResource struct {
	cleanup func(ctx context.Context) error
}

// Attach composes fn ahead of any cleanup hook already attached.
func (r *AsyncResource) Attach(fn func(ctx context.Context) error) {
	prev := r.cleanup
	if prev == nil {
		r.cleanup = fn
		return
	}
	r.cleanup = func(ctx context.Context) error {
		return multierr.Append(fn(ctx), prev(ctx))
	}
}

// Close runs every attached cleanup hook, most-recently-attached first,
// aggregating failures. Close is idempotent: subsequent calls are
// no-ops.
func (r *AsyncResource) Close(ctx context.Context) error {
	fn := r.cleanup
	if fn == nil {
		return nil
	}
	r.cleanup = nil
	return fn(ctx)
}
