package duplex

import (
	"context"
	"sync"
)

type mergeItem struct {
	src   *managedIterator
	value SeqResult
}

// MergeEngine multiplexes an open-ended, dynamically growing collection
// of managed iterators into one single-consumer asynchronous sequence.
// Values from one source retain their producer order; values across
// sources interleave in real-time completion order. On any exit from
// the consumer loop — normal completion, error, or the caller abandoning
// ctx — every still-live source is destroyed in parallel and cleanup
// errors are aggregated into one composite error.
type MergeEngine struct {
	ctx context.Context

	mu        sync.Mutex
	queued    []*managedIterator
	live      map[*managedIterator]struct{}
	buffer    []mergeItem
	iterating bool
	consuming bool

	signal *wakeSignal
}

// NewMergeEngine returns an empty engine bound to ctx, the context every
// source's steps run under. An in-progress Next call is unblocked by
// cancelling the ctx passed to that call, which also cascades cleanup to
// every live source.
func NewMergeEngine(ctx context.Context) *MergeEngine {
	return &MergeEngine{
		ctx:    ctx,
		live:   make(map[*managedIterator]struct{}),
		signal: newWakeSignal(),
	}
}

// Add registers a new source. Before Next is first called it is queued;
// once iteration has started it is wrapped and pulled immediately.
func (e *MergeEngine) Add(src AsyncSequence) *managedIterator {
	e.mu.Lock()
	it := newManagedIterator(e.ctx, src, nil)
	it.onResult = func(r SeqResult) { e.onResult(it, r) }

	if !e.iterating {
		e.queued = append(e.queued, it)
		e.mu.Unlock()
		return it
	}
	e.live[it] = struct{}{}
	e.mu.Unlock()
	it.pull()
	return it
}

func (e *MergeEngine) onResult(it *managedIterator, r SeqResult) {
	e.mu.Lock()
	if r.Done || r.Err != nil {
		delete(e.live, it)
	}
	if !r.Done || r.Err != nil {
		e.buffer = append(e.buffer, mergeItem{src: it, value: r})
	}
	e.mu.Unlock()
	e.signal.Notify()
}

func (e *MergeEngine) start() {
	e.mu.Lock()
	e.iterating = true
	queued := e.queued
	e.queued = nil
	for _, it := range queued {
		e.live[it] = struct{}{}
	}
	e.mu.Unlock()
	for _, it := range queued {
		it.pull()
	}
}

// Next returns the next output item. It must not be called concurrently
// with another in-flight call to Next — doing so is a protocol misuse
// and panics synchronously, matching the merge engine's single-consumer
// contract.
func (e *MergeEngine) Next(ctx context.Context) (SeqResult, error) {
	e.mu.Lock()
	if e.consuming {
		e.mu.Unlock()
		panic("duplex: merge engine consumed concurrently")
	}
	e.consuming = true
	iterating := e.iterating
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.consuming = false
		e.mu.Unlock()
	}()

	if !iterating {
		e.start()
	}

	for {
		e.mu.Lock()
		if len(e.buffer) > 0 {
			item := e.buffer[0]
			e.buffer = e.buffer[1:]
			e.mu.Unlock()

			if item.value.Err != nil {
				cleanupErr := e.cleanup(ctx)
				if cleanupErr != nil {
					return SeqResult{}, cleanupErr
				}
				return SeqResult{}, item.value.Err
			}
			if !item.value.Done {
				item.src.pull()
			}
			return SeqResult{Value: item.value.Value}, nil
		}
		if len(e.live) == 0 {
			e.mu.Unlock()
			return SeqResult{Done: true}, nil
		}
		e.mu.Unlock()

		if err := e.signal.Wait(ctx); err != nil {
			cleanupErr := e.cleanup(ctx)
			if cleanupErr != nil {
				return SeqResult{}, cleanupErr
			}
			return SeqResult{}, err
		}
	}
}

// Close cancels every live source in parallel, aggregating cleanup
// errors. It is safe to call after Next has already exhausted the
// engine.
func (e *MergeEngine) Close(ctx context.Context) error {
	return e.cleanup(ctx)
}

func (e *MergeEngine) cleanup(ctx context.Context) error {
	e.mu.Lock()
	live := make([]*managedIterator, 0, len(e.live))
	for it := range e.live {
		live = append(live, it)
	}
	e.live = make(map[*managedIterator]struct{})
	e.buffer = nil
	e.mu.Unlock()

	if len(live) == 0 {
		e.signal.Notify()
		return nil
	}

	errs := make([]error, len(live))
	var wg sync.WaitGroup
	wg.Add(len(live))
	for i, it := range live {
		i, it := i, it
		go func() {
			defer wg.Done()
			errs[i] = it.destroy(ctx)
		}()
	}
	wg.Wait()
	e.signal.Notify()
	return newCompositeError(errs)
}
