package duplex

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// FrameSeq is duplex's one pull-sequence shape, shared by encoder
// output, raw frame input, and the line-framing adapter below: each call
// returns the next line, or ok=false at a clean end, or a non-nil err on
// failure.
type FrameSeq func(ctx context.Context) (line string, ok bool, err error)

// Lines adapts a raw text transport with arbitrary chunk boundaries into
// a FrameSeq of whole newline-delimited lines. It maintains a rolling
// buffer internally; a non-empty trailing buffer at upstream end (no
// final newline) is silently discarded, since well-formed streams always
// end with a trailing newline after their last frame.
func Lines(r io.Reader) FrameSeq {
	br := bufio.NewReader(r)
	return func(ctx context.Context) (string, bool, error) {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return "", false, nil
			}
			return "", false, err
		}
		return strings.TrimSuffix(line, "\n"), true, nil
	}
}

// Collect drains frames into a slice, for buffering a small stream whole
// rather than processing it line by line (tests, demos, batch transports).
func Collect(ctx context.Context, frames FrameSeq) ([]string, error) {
	var out []string
	for {
		line, ok, err := frames(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, line)
	}
}
