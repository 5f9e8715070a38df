package duplex

import (
	"context"
	"sync"
)

// Deferred is a one-shot resolvable completion. Resolve and Reject are
// single-shot and safe to call before any waiter attaches; later calls
// are no-ops. Unlike the single-threaded host model this module's wire
// protocol is modeled on, Go producers run on real goroutines, so
// Deferred is safe for concurrent Resolve/Reject/Await from different
// goroutines.
type Deferred struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewDeferred returns a pending Deferred.
func NewDeferred() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

// Resolve fulfills d with v. Only the first of Resolve/Reject takes
// effect.
func (d *Deferred) Resolve(v any) {
	d.once.Do(func() {
		d.value = v
		close(d.done)
	})
}

// Reject fails d with err. Only the first of Resolve/Reject takes
// effect.
func (d *Deferred) Reject(err error) {
	d.once.Do(func() {
		d.err = err
		close(d.done)
	})
}

// Await blocks until d resolves, rejects, or ctx is done.
func (d *Deferred) Await(ctx context.Context) (any, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ Promise = (*Deferred)(nil)
