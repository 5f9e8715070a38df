package duplex_test

import (
	"context"
	"testing"
	"time"

	"github.com/streamrelay/duplex"
)

func TestEncodeMaxFrameBytesRejectsOversizedFrame(t *testing.T) {
	ctx := context.Background()
	gen := duplex.SliceSequence([]any{"this value is far too long to fit the limit"}, nil)

	frames := duplex.Encode(ctx, map[string]any{"s": gen}, duplex.Options{MaxFrameBytes: 35})

	// header frame is small and always succeeds
	if _, ok, err := frames(ctx); err != nil || !ok {
		t.Fatalf("header frame: ok=%v err=%v", ok, err)
	}

	if _, _, err := frames(ctx); err == nil {
		t.Fatal("expected the oversized body frame to fail encoding")
	}
}

func TestDecodeMaxPendingPerControllerAppliesBackpressure(t *testing.T) {
	ctx := context.Background()
	gen := duplex.SliceSequence([]any{1.0, 2.0, 3.0, 4.0, 5.0}, "done")

	var lines []string
	frames := duplex.Encode(ctx, map[string]any{"s": gen}, duplex.Options{})
	for {
		line, ok, err := frames(ctx)
		if err != nil {
			t.Fatalf("encoding: %v", err)
		}
		if !ok {
			break
		}
		lines = append(lines, line)
	}

	root, err := duplex.Decode(ctx, linesFrameSeq(lines), duplex.DecodeOptions{MaxPendingPerController: 1})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	seq := root.(map[string]any)["s"].(duplex.AsyncSequence)

	var got []any
	for {
		dctx, cancel := context.WithTimeout(ctx, time.Second)
		r := seq.Next(dctx)
		cancel()
		if r.Err != nil {
			t.Fatalf("Next: %v", r.Err)
		}
		if r.Done {
			break
		}
		got = append(got, r.Value)
	}
	if len(got) != 5 {
		t.Fatalf("got %v, want 5 values despite the 1-entry backpressure limit", got)
	}
}
