package duplex_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streamrelay/duplex"
)

func TestDeferredResolve(t *testing.T) {
	d := duplex.NewDeferred()
	d.Resolve("value")

	v, err := d.Await(context.Background())
	if err != nil || v != "value" {
		t.Fatalf("Await() = %v, %v; want \"value\", nil", v, err)
	}
}

func TestDeferredReject(t *testing.T) {
	d := duplex.NewDeferred()
	want := errors.New("boom")
	d.Reject(want)

	_, err := d.Await(context.Background())
	if !errors.Is(err, want) {
		t.Fatalf("Await() err = %v, want %v", err, want)
	}
}

func TestDeferredFirstWriteWins(t *testing.T) {
	d := duplex.NewDeferred()
	d.Resolve("first")
	d.Reject(errors.New("ignored"))
	d.Resolve("ignored too")

	v, err := d.Await(context.Background())
	if err != nil || v != "first" {
		t.Fatalf("Await() = %v, %v; want \"first\", nil", v, err)
	}
}

func TestDeferredAwaitBlocksUntilResolved(t *testing.T) {
	d := duplex.NewDeferred()

	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Resolve(42)
	}()

	v, err := d.Await(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("Await() = %v, %v; want 42, nil", v, err)
	}
}

func TestDeferredAwaitContextCancel(t *testing.T) {
	d := duplex.NewDeferred()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Await(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Await() err = %v, want context.Canceled", err)
	}
}
