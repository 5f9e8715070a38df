package duplex

import (
	"context"
	"sync"
)

// wakeSignal is a rearmable flush signal: any number of Notify calls
// between two Wait calls coalesce into a single wake-up. It is the
// cross-goroutine-safe counterpart of the teacher's single-executor
// broadcast-notify Signal type, needed because the merge engine and
// decoder controllers are woken from arbitrary producer/dispatcher
// goroutines rather than from one cooperative scheduler.
type wakeSignal struct {
	mu      sync.Mutex
	ch      chan struct{}
	pending bool
}

func newWakeSignal() *wakeSignal {
	return &wakeSignal{ch: make(chan struct{})}
}

// Notify wakes every current waiter and rearms for the next round; if
// nobody is waiting, the next Wait returns at once.
func (s *wakeSignal) Notify() {
	s.mu.Lock()
	ch := s.ch
	s.ch = make(chan struct{})
	s.pending = true
	s.mu.Unlock()
	close(ch)
}

// Wait blocks until the next Notify, or returns ctx.Err() if ctx ends
// first.
func (s *wakeSignal) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.pending {
		s.pending = false
		s.mu.Unlock()
		return nil
	}
	ch := s.ch
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
