package duplex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/streamrelay/duplex/codec"
	"github.com/streamrelay/duplex/internal/telemetry"
)

// idGenerator assigns monotonically increasing, session-unique
// chunk-stream ids starting at 1.
type idGenerator struct{ n int64 }

func (g *idGenerator) next() int {
	return int(atomic.AddInt64(&g.n, 1))
}

// frameOut is a fully formatted body frame, ready to be marshaled as
// [id, status, payload].
type frameOut struct {
	ID      int
	Status  int
	Payload json.RawMessage
}

// encodeSession carries the state one Encode call threads through every
// producer it spawns: the shared codec (so nested async values found
// while encoding a chunk's payload get their own ids), the coerceError
// hook, and the merge engine they all register with.
type encodeSession struct {
	codec         *codec.Codec
	coerceError   func(error) any
	merge         *MergeEngine
	ids           idGenerator
	log           *telemetry.Logger
	maxFrameBytes int
}

// frameTooLargeError reports a single frame's payload exceeding
// maxFrameBytes. Like any other encoding failure it ends the session:
// the frame it would have produced can never be represented on the wire.
type frameTooLargeError struct {
	size, limit int
}

func (e *frameTooLargeError) Error() string {
	return fmt.Sprintf("duplex: frame of %d bytes exceeds MaxFrameBytes %d", e.size, e.limit)
}

func (s *encodeSession) encode(v any) (json.RawMessage, error) {
	data, err := s.codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	if s.maxFrameBytes > 0 && len(data) > s.maxFrameBytes {
		return nil, &frameTooLargeError{size: len(data), limit: s.maxFrameBytes}
	}
	return json.RawMessage(data), nil
}

// safe encodes cause; if that fails and coerceError is configured, it
// retries with the coerced replacement. If neither succeeds the
// original encoding error is returned, which tears down the session per
// spec: it cannot be safely represented on the wire.
func (s *encodeSession) safe(cause error) (json.RawMessage, error) {
	payload, err := s.encode(cause)
	if err == nil {
		return payload, nil
	}
	if s.coerceError == nil {
		return nil, err
	}
	coerced := s.coerceError(cause)
	payload, coercedErr := s.encode(coerced)
	if coercedErr != nil {
		return nil, err
	}
	return payload, nil
}

// Encode walks root through the base codec with three built-in
// asynchronous reducers composed ahead of opts.Reducers, assigning a
// fresh chunk-stream id to every Promise, AsyncSequence and PullStream
// it discovers and registering each as a producer with a merge engine.
// It returns a FrameSeq: the first call yields the header frame, and
// each subsequent call drains one body frame from the merge engine
// until every producer has emitted its terminal frame.
func Encode(ctx context.Context, root any, opts Options) FrameSeq {
	sess := &encodeSession{
		coerceError:   opts.CoerceError,
		merge:         NewMergeEngine(ctx),
		log:           opts.logger(),
		maxFrameBytes: opts.MaxFrameBytes,
	}
	sess.codec = newEncoderCodec(sess, opts.Reducers)

	var (
		headerSent bool
		done       bool
	)

	return func(ctx context.Context) (string, bool, error) {
		if done {
			return "", false, nil
		}
		if !headerSent {
			headerSent = true
			payload, err := sess.encode(root)
			if err != nil {
				done = true
				return "", false, err
			}
			return string(payload), true, nil
		}

		result, err := sess.merge.Next(ctx)
		if err != nil {
			done = true
			return "", false, err
		}
		if result.Done {
			done = true
			return "", false, nil
		}

		frame := result.Value.(frameOut)
		line, err := json.Marshal([]any{frame.ID, frame.Status, frame.Payload})
		if err != nil {
			done = true
			return "", false, fmt.Errorf("duplex: marshaling body frame for id %d: %w", frame.ID, err)
		}
		return string(line), true, nil
	}
}

// newEncoderCodec composes the three built-in async reducers ahead of
// userReducers (so user reducers can never shadow the reserved names)
// and returns a codec bound to sess, so that each built-in reducer can
// register the producer it discovers with sess.merge.
func newEncoderCodec(sess *encodeSession, userReducers map[string]codec.ReducerFunc) *codec.Codec {
	c := codec.New(codec.Options{Reducers: map[string]codec.ReducerFunc{}})

	c.AddReducer(KindPromise, func(v any) (any, bool) {
		p, ok := v.(Promise)
		if !ok {
			return nil, false
		}
		id := sess.ids.next()
		sess.log.Debug("producer registered", zap.Int("id", id), zap.String("kind", KindPromise))
		sess.merge.Add(&promiseProducer{id: id, p: p, sess: sess})
		return id, true
	})
	c.AddReducer(KindReadableStream, func(v any) (any, bool) {
		ps, ok := v.(PullStream)
		if !ok {
			return nil, false
		}
		id := sess.ids.next()
		sess.log.Debug("producer registered", zap.Int("id", id), zap.String("kind", KindReadableStream))
		sess.merge.Add(&sequenceProducer{id: id, seq: ps, sess: sess})
		return id, true
	})
	c.AddReducer(KindAsyncIterable, func(v any) (any, bool) {
		seq, ok := v.(AsyncSequence)
		if !ok {
			return nil, false
		}
		id := sess.ids.next()
		sess.log.Debug("producer registered", zap.Int("id", id), zap.String("kind", KindAsyncIterable))
		sess.merge.Add(&sequenceProducer{id: id, seq: seq, sess: sess})
		return id, true
	})

	names := make([]string, 0, len(userReducers))
	for name := range userReducers {
		if name == KindPromise || name == KindAsyncIterable || name == KindReadableStream {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.AddReducer(name, userReducers[name])
	}

	return c
}

// promiseProducer adapts a Promise into the AsyncSequence shape the merge
// engine multiplexes: one await yielding the terminal frame (fulfilled
// or rejected), followed by a plain return with nothing further to send.
type promiseProducer struct {
	id   int
	p    Promise
	sess *encodeSession
	sent bool
}

func (pp *promiseProducer) Next(ctx context.Context) SeqResult {
	if pp.sent {
		return SeqResult{Done: true}
	}
	pp.sent = true

	v, err := pp.p.Await(ctx)
	if err != nil {
		payload, encErr := pp.sess.safe(err)
		if encErr != nil {
			return SeqResult{Err: encErr, Done: true}
		}
		return SeqResult{Value: frameOut{ID: pp.id, Status: statusRejected, Payload: payload}}
	}
	payload, encErr := pp.sess.encode(v)
	if encErr != nil {
		return SeqResult{Err: encErr, Done: true}
	}
	return SeqResult{Value: frameOut{ID: pp.id, Status: statusFulfilled, Payload: payload}}
}

func (pp *promiseProducer) Close(ctx context.Context) error { return nil }

// sequenceProducer adapts one step of an AsyncSequence (or,
// structurally identically, a PullStream) into exactly one emitted body
// frame: yield, error, or return. The error/return frame is itself
// delivered as a yielded step; the following step is a plain return with
// nothing further to send, matching how the merge engine only surfaces
// yields and errors to its own consumer.
type sequenceProducer struct {
	id       int
	seq      AsyncSequence
	sess     *encodeSession
	finished bool
}

func (sp *sequenceProducer) Next(ctx context.Context) SeqResult {
	if sp.finished {
		return SeqResult{Done: true}
	}

	r := sp.seq.Next(ctx)

	if r.Err != nil {
		sp.finished = true
		payload, encErr := sp.sess.safe(r.Err)
		if encErr != nil {
			return SeqResult{Err: encErr, Done: true}
		}
		return SeqResult{Value: frameOut{ID: sp.id, Status: statusError, Payload: payload}}
	}
	if r.Done {
		sp.finished = true
		payload, encErr := sp.sess.encode(r.Ret)
		if encErr != nil {
			return SeqResult{Err: encErr, Done: true}
		}
		return SeqResult{Value: frameOut{ID: sp.id, Status: statusReturn, Payload: payload}}
	}
	payload, encErr := sp.sess.encode(r.Value)
	if encErr != nil {
		return SeqResult{Err: encErr, Done: true}
	}
	return SeqResult{Value: frameOut{ID: sp.id, Status: statusYield, Payload: payload}}
}

func (sp *sequenceProducer) Close(ctx context.Context) error { return sp.seq.Close(ctx) }
