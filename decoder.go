package duplex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/streamrelay/duplex/codec"
	"github.com/streamrelay/duplex/internal/telemetry"
)

// ErrStreamInterrupted is pushed into every still-open controller when
// the frame sequence ends while controllers remain open — a malformed or
// prematurely closed stream. When the frame sequence fails instead, each
// still-open controller receives that failure, wrapped, rather than
// ErrStreamInterrupted.
var ErrStreamInterrupted = errors.New("duplex: stream interrupted: malformed stream")

// decodeSession carries the state one Decode call threads through its
// dispatcher and every controller it opens.
type decodeSession struct {
	codec      *codec.Codec
	log        *telemetry.Logger
	maxPending int

	mu          sync.Mutex
	controllers map[int]*controller
}

func (s *decodeSession) controllerFor(id int) *controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.controllers[id]; ok {
		return c
	}
	c := &controller{sess: s, id: id, limit: s.maxPending, signal: newWakeSignal(), space: newWakeSignal()}
	s.controllers[id] = c
	return c
}

func (s *decodeSession) removeController(id int) {
	s.mu.Lock()
	delete(s.controllers, id)
	s.mu.Unlock()
}

func (s *decodeSession) openControllers() []*controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		out = append(out, c)
	}
	return out
}

// Decode pulls the header frame from frames, reconstructs the root value
// through the base codec with three built-in asynchronous revivers
// composed ahead of opts.Revivers, and spawns a dispatcher that
// concurrently drains the remaining frames into the controllers those
// revivers opened. It returns as soon as the header is reconstructed;
// async leaves are live references whose consumption blocks until their
// frames arrive.
func Decode(ctx context.Context, frames FrameSeq, opts DecodeOptions) (any, error) {
	sess := &decodeSession{
		controllers: make(map[int]*controller),
		log:         opts.logger(),
		maxPending:  opts.MaxPendingPerController,
	}
	sess.codec = newDecoderCodec(sess, opts.Revivers)

	line, ok, err := frames(ctx)
	if err != nil {
		return nil, fmt.Errorf("duplex: reading header frame: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("duplex: %w", ErrStreamInterrupted)
	}

	var root any
	if err := sess.codec.Unmarshal([]byte(line), &root); err != nil {
		return nil, fmt.Errorf("duplex: decoding header frame: %w", err)
	}

	go sess.dispatch(ctx, frames)

	return root, nil
}

func (s *decodeSession) dispatch(ctx context.Context, frames FrameSeq) {
	for {
		line, ok, err := frames(ctx)
		if err != nil {
			s.log.Debug("dispatcher ending on transport error", zap.Error(err))
			s.broadcast(fmt.Errorf("duplex: transport error: %w", err))
			return
		}
		if !ok {
			s.log.Debug("dispatcher ending on upstream end")
			s.broadcast(fmt.Errorf("duplex: %w", ErrStreamInterrupted))
			return
		}
		if err := s.dispatchLine(ctx, line); err != nil {
			s.log.Debug("dispatcher ending on structural error", zap.Error(err))
			s.broadcast(err)
			return
		}
	}
}

func (s *decodeSession) dispatchLine(ctx context.Context, line string) error {
	var raw []any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return fmt.Errorf("duplex: malformed body frame: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("duplex: malformed body frame: expected [id, status, payload], got %d elements", len(raw))
	}

	idF, ok := raw[0].(float64)
	if !ok {
		return fmt.Errorf("duplex: malformed body frame: id is not a number")
	}
	statusF, ok := raw[1].(float64)
	if !ok {
		return fmt.Errorf("duplex: malformed body frame: status is not a number")
	}
	payload, err := json.Marshal(raw[2])
	if err != nil {
		return fmt.Errorf("duplex: malformed body frame: re-marshaling payload: %w", err)
	}

	ctrl := s.controllerFor(int(idF))
	return ctrl.push(ctx, chunkEntry{status: int(statusF), payload: payload})
}

func (s *decodeSession) broadcast(err error) {
	for _, c := range s.openControllers() {
		c.forcePush(chunkEntry{err: err})
	}
}

// newDecoderCodec composes the three built-in async revivers ahead of
// userRevivers (so user revivers can never shadow the reserved names)
// and binds each one to sess so that it can obtain-or-create the
// controller for the id argument it is given.
func newDecoderCodec(sess *decodeSession, userRevivers map[string]codec.ReviverFunc) *codec.Codec {
	c := codec.New(codec.Options{Revivers: map[string]codec.ReviverFunc{}})

	c.AddReviver(KindPromise, func(arg any) (any, error) {
		id, err := chunkStreamID(arg)
		if err != nil {
			return nil, err
		}
		return &controllerPromise{ctrl: sess.controllerFor(id)}, nil
	})
	c.AddReviver(KindAsyncIterable, func(arg any) (any, error) {
		id, err := chunkStreamID(arg)
		if err != nil {
			return nil, err
		}
		return &controllerSequence{ctrl: sess.controllerFor(id)}, nil
	})
	c.AddReviver(KindReadableStream, func(arg any) (any, error) {
		id, err := chunkStreamID(arg)
		if err != nil {
			return nil, err
		}
		return &controllerPullStream{controllerSequence{ctrl: sess.controllerFor(id)}}, nil
	})

	for name, fn := range userRevivers {
		if name == KindPromise || name == KindAsyncIterable || name == KindReadableStream {
			continue
		}
		c.AddReviver(name, fn)
	}

	return c
}

func chunkStreamID(arg any) (int, error) {
	f, ok := arg.(float64)
	if !ok {
		return 0, fmt.Errorf("duplex: chunk-stream id must be a number, got %T", arg)
	}
	return int(f), nil
}
