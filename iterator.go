package duplex

import (
	"context"
	"sync"
)

type iterState int32

const (
	iterIdle iterState = iota
	iterPending
	iterDone
)

// managedIterator wraps one upstream AsyncSequence into a pull-driven
// machine with states {idle, pending, done}. Unlike the single-threaded
// host this protocol was modeled on, an upstream step may genuinely
// block on I/O, so each pull dispatches its step onto its own goroutine;
// the result is delivered back through onResult exactly zero or one time
// per pull, matching the state-machine invariant regardless of which
// goroutine calls in.
//
// Its source's teardown is held in an AsyncResource rather than called
// directly, so a merge engine cascading cancellation to its children —
// or any other caller composing extra teardown onto this iterator — has
// one release point that aggregates every attached failure.
type managedIterator struct {
	ctx context.Context
	src AsyncSequence

	mu       sync.Mutex
	state    iterState
	onResult func(SeqResult)
	resource AsyncResource
}

func newManagedIterator(ctx context.Context, src AsyncSequence, onResult func(SeqResult)) *managedIterator {
	m := &managedIterator{ctx: ctx, src: src, state: iterIdle, onResult: onResult}
	m.resource.Attach(src.Close)
	return m
}

// pull is a no-op unless the iterator is idle. It transitions to
// pending, issues one step on the source, and on resolution calls
// onResult and returns to idle (yield) or done (return/error).
func (m *managedIterator) pull() {
	m.mu.Lock()
	if m.state != iterIdle {
		m.mu.Unlock()
		return
	}
	m.state = iterPending
	m.mu.Unlock()

	go func() {
		res := m.src.Next(m.ctx)

		m.mu.Lock()
		if m.state == iterDone {
			m.mu.Unlock()
			return
		}
		if res.Done || res.Err != nil {
			m.state = iterDone
		} else {
			m.state = iterIdle
		}
		cb := m.onResult
		m.mu.Unlock()

		if cb != nil {
			cb(res)
		}
	}()
}

// destroy marks the iterator done, drops the callback so any in-flight
// step's result is discarded on arrival, and releases its AsyncResource,
// running the source's cooperative cancellation hook.
func (m *managedIterator) destroy(ctx context.Context) error {
	m.mu.Lock()
	if m.state == iterDone {
		m.mu.Unlock()
		return nil
	}
	m.state = iterDone
	m.onResult = nil
	m.mu.Unlock()

	return m.resource.Close(ctx)
}
