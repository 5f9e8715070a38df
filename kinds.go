// Package duplex streams a graph of ordinary and asynchronous values —
// promises, async sequences, pull-based streams — as newline-delimited
// JSON frames over a base structural codec, and reconstructs the graph
// incrementally on the other end.
package duplex

import "context"

// SeqResult is one step's outcome for an AsyncSequence: a yielded Value
// when Done is false, or a terminal Ret / Err when Done is true.
type SeqResult struct {
	Value any
	Ret   any
	Err   error
	Done  bool
}

// Promise is a single-shot asynchronous result: fulfilled with a value or
// rejected with an error.
type Promise interface {
	Await(ctx context.Context) (any, error)
}

// AsyncSequence is a lazy, possibly-infinite sequence with a terminal
// return value or error.
type AsyncSequence interface {
	Next(ctx context.Context) SeqResult
	Close(ctx context.Context) error
}

// PullStream is wire-compatible with AsyncSequence (same status codes)
// but is revived as a pull-based stream rather than an iterator. The
// marker method keeps a plain AsyncSequence from being silently treated
// as a PullStream by the encoder's kind-discrimination predicates —
// callers opt in explicitly by constructing one with PullStreamFunc.
type PullStream interface {
	AsyncSequence
	pullStreamMarker()
}

// Reserved kind identifiers; user reducers/revivers must not use these
// names.
const (
	KindPromise        = "Promise"
	KindAsyncIterable  = "AsyncIterable"
	KindReadableStream = "ReadableStream"
)

const (
	statusFulfilled = 0
	statusRejected  = 1
)

const (
	statusYield  = 0
	statusError  = 1
	statusReturn = 2
)

// PromiseFunc adapts an await function into a Promise.
func PromiseFunc(await func(ctx context.Context) (any, error)) Promise {
	return &funcPromise{await: await}
}

type funcPromise struct {
	await func(context.Context) (any, error)
}

func (p *funcPromise) Await(ctx context.Context) (any, error) { return p.await(ctx) }

// SequenceFunc adapts a next/close pair into an AsyncSequence.
func SequenceFunc(next func(ctx context.Context) SeqResult, closeFn func(ctx context.Context) error) AsyncSequence {
	return &funcSequence{next: next, closeFn: closeFn}
}

type funcSequence struct {
	next    func(context.Context) SeqResult
	closeFn func(context.Context) error
}

func (s *funcSequence) Next(ctx context.Context) SeqResult { return s.next(ctx) }

func (s *funcSequence) Close(ctx context.Context) error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn(ctx)
}

// PullStreamFunc adapts a next/close pair into a PullStream.
func PullStreamFunc(next func(ctx context.Context) SeqResult, closeFn func(ctx context.Context) error) PullStream {
	return &funcPullStream{funcSequence{next: next, closeFn: closeFn}}
}

type funcPullStream struct{ funcSequence }

func (*funcPullStream) pullStreamMarker() {}

// SliceSequence returns an AsyncSequence that yields each element of
// items in order, then returns ret. Mainly useful for tests and demos.
func SliceSequence(items []any, ret any) AsyncSequence {
	i := 0
	return SequenceFunc(func(ctx context.Context) SeqResult {
		if i >= len(items) {
			return SeqResult{Done: true, Ret: ret}
		}
		v := items[i]
		i++
		return SeqResult{Value: v}
	}, nil)
}

// SlicePullStream returns a PullStream that yields each element of items
// in order, then closes. Mainly useful for tests and demos.
func SlicePullStream(items []any) PullStream {
	i := 0
	return PullStreamFunc(func(ctx context.Context) SeqResult {
		if i >= len(items) {
			return SeqResult{Done: true}
		}
		v := items[i]
		i++
		return SeqResult{Value: v}
	}, nil)
}
