package duplex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// chunkEntry is one pending observation a controller buffers for its
// consumer: either a (status, payload) pair from a body frame, or a
// terminal err — a transport/structural failure synthesized by the
// dispatcher rather than a per-id producer error.
type chunkEntry struct {
	status  int
	payload json.RawMessage
	err     error
}

// controller owns the FIFO buffer and wake signal for one chunk-stream
// id. It is created lazily on first reference — by a reviver opening its
// demultiplex sequence, or by the dispatcher receiving a frame for an id
// not yet opened, whichever comes first — and removed when its
// consumer's view terminates.
type controller struct {
	sess   *decodeSession
	id     int
	limit  int
	signal *wakeSignal
	space  *wakeSignal

	mu     sync.Mutex
	buffer []chunkEntry
	closed bool
}

// push buffers e for this controller's consumer, blocking while the
// buffer is at limit capacity (limit <= 0 means unbounded) until either
// the consumer drains an entry or ctx ends. A closed controller silently
// drops e: its consumer has already stopped watching this id.
func (c *controller) push(ctx context.Context, e chunkEntry) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil
		}
		if c.limit > 0 && len(c.buffer) >= c.limit {
			c.mu.Unlock()
			if err := c.space.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		c.buffer = append(c.buffer, e)
		c.mu.Unlock()
		c.signal.Notify()
		return nil
	}
}

// forcePush buffers e regardless of the limit, used to deliver a
// terminal broadcast error even into an already-full controller.
func (c *controller) forcePush(e chunkEntry) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.buffer = append(c.buffer, e)
	c.mu.Unlock()
	c.signal.Notify()
}

// next blocks until an entry is buffered or ctx ends.
func (c *controller) next(ctx context.Context) (chunkEntry, error) {
	for {
		c.mu.Lock()
		if len(c.buffer) > 0 {
			e := c.buffer[0]
			c.buffer = c.buffer[1:]
			c.mu.Unlock()
			c.space.Notify()
			return e, nil
		}
		c.mu.Unlock()
		if err := c.signal.Wait(ctx); err != nil {
			return chunkEntry{}, err
		}
	}
}

// remove detaches c from its session's id→controller map. In-flight
// frames for this id that arrive afterward are harmlessly dropped by
// push's closed check; a dispatcher currently blocked in push waiting
// for buffer space is woken to observe the close and return.
func (c *controller) remove() {
	c.sess.removeController(c.id)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.space.Notify()
}

// RemoteError wraps a decoded rejection or error payload that did not itself
// unflatten into a Go error value (no reviver registered for it),
// preserving the raw decoded value for inspection.
type RemoteError struct {
	Value any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("duplex: remote error: %v", e.Value)
}

func asError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return &RemoteError{Value: v}
}

// controllerPromise is the Promise reviver's consumer surface: awaiting
// it drains its controller until the single terminal frame arrives.
type controllerPromise struct {
	ctrl *controller
}

func (p *controllerPromise) Await(ctx context.Context) (any, error) {
	e, err := p.ctrl.next(ctx)
	if err != nil {
		return nil, err
	}
	defer p.ctrl.remove()
	if e.err != nil {
		return nil, e.err
	}

	var v any
	if err := p.ctrl.sess.codec.Unmarshal(e.payload, &v); err != nil {
		return nil, err
	}
	switch e.status {
	case statusFulfilled:
		return v, nil
	case statusRejected:
		return nil, asError(v)
	default:
		return nil, fmt.Errorf("duplex: unexpected status %d for promise id %d", e.status, p.ctrl.id)
	}
}

// controllerSequence is the AsyncSequence reviver's consumer surface:
// each step awaits the controller for its next entry, yielding on
// yield, returning on return, and erroring on error.
type controllerSequence struct {
	ctrl *controller
}

func (s *controllerSequence) Next(ctx context.Context) SeqResult {
	e, err := s.ctrl.next(ctx)
	if err != nil {
		s.ctrl.remove()
		return SeqResult{Err: err, Done: true}
	}
	if e.err != nil {
		s.ctrl.remove()
		return SeqResult{Err: e.err, Done: true}
	}

	var v any
	if err := s.ctrl.sess.codec.Unmarshal(e.payload, &v); err != nil {
		s.ctrl.remove()
		return SeqResult{Err: err, Done: true}
	}

	switch e.status {
	case statusYield:
		return SeqResult{Value: v}
	case statusReturn:
		s.ctrl.remove()
		return SeqResult{Done: true, Ret: v}
	case statusError:
		s.ctrl.remove()
		return SeqResult{Err: asError(v), Done: true}
	default:
		s.ctrl.remove()
		return SeqResult{Err: fmt.Errorf("duplex: unexpected status %d for id %d", e.status, s.ctrl.id), Done: true}
	}
}

// Close terminates this view early. Frames for the id that arrive
// afterward are harmlessly discarded by push, which sees the controller
// is closed.
func (s *controllerSequence) Close(ctx context.Context) error {
	s.ctrl.remove()
	return nil
}

// controllerPullStream is the ReadableStream reviver's consumer surface,
// wire-compatible with controllerSequence but revived as a PullStream.
type controllerPullStream struct {
	controllerSequence
}

func (*controllerPullStream) pullStreamMarker() {}
