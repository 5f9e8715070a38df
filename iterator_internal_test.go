package duplex

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestManagedIteratorPullDeliversOneResultPerStep(t *testing.T) {
	steps := []SeqResult{{Value: "a"}, {Value: "b"}, {Done: true, Ret: "done"}}
	idx := 0
	src := SequenceFunc(func(ctx context.Context) SeqResult {
		r := steps[idx]
		idx++
		return r
	}, nil)

	var mu sync.Mutex
	var got []SeqResult
	var wg sync.WaitGroup

	it := newManagedIterator(context.Background(), src, func(r SeqResult) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
		wg.Done()
	})

	for range steps {
		wg.Add(1)
		it.pull()
		wg.Wait()
	}

	if len(got) != 3 || got[0].Value != "a" || got[1].Value != "b" || !got[2].Done {
		t.Fatalf("unexpected delivered results: %+v", got)
	}
}

func TestManagedIteratorPullIsNoOpWhilePending(t *testing.T) {
	release := make(chan struct{})
	calls := 0
	var mu sync.Mutex

	src := SequenceFunc(func(ctx context.Context) SeqResult {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return SeqResult{Done: true}
	}, nil)

	done := make(chan struct{})
	it := newManagedIterator(context.Background(), src, func(r SeqResult) { close(done) })

	it.pull()
	it.pull() // must be a no-op: state is already pending
	time.Sleep(10 * time.Millisecond)
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("Next called %d times, want 1", calls)
	}
}

func TestManagedIteratorDestroyDropsLateResult(t *testing.T) {
	release := make(chan struct{})
	src := SequenceFunc(func(ctx context.Context) SeqResult {
		<-release
		return SeqResult{Value: "too late"}
	}, func(ctx context.Context) error { return nil })

	called := false
	it := newManagedIterator(context.Background(), src, func(r SeqResult) { called = true })

	it.pull()
	if err := it.destroy(context.Background()); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	close(release)
	time.Sleep(10 * time.Millisecond)

	if called {
		t.Fatal("onResult fired after destroy")
	}
}
