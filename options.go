package duplex

import (
	"github.com/streamrelay/duplex/codec"
	"github.com/streamrelay/duplex/internal/telemetry"
)

// Options configures one Encode call: its reducer extension map, the
// coerceError salvage hook for otherwise-unencodable thrown values, a
// logger, and a deployment-only frame size guard the wire format itself
// does not require.
type Options struct {
	// Reducers is the base codec's extension point, reused verbatim:
	// name -> (value -> argument, matched). Names Promise, AsyncIterable
	// and ReadableStream are reserved for the built-in async kinds.
	Reducers map[string]codec.ReducerFunc

	// CoerceError salvages a thrown/rejected cause that the current
	// reducer set cannot encode, by producing a substitute value to
	// encode instead. If nil, an unencodable cause tears down the
	// session.
	CoerceError func(cause error) any

	Logger *telemetry.Logger

	// MaxFrameBytes bounds the codec output of a single frame — the whole
	// header frame, or the payload element of a body frame; 0 means
	// unbounded. Exceeding it fails that frame's encode call, which, like
	// any other encoding failure, ends the whole Encode session.
	MaxFrameBytes int
}

func (o Options) logger() *telemetry.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return telemetry.NoOp()
}

// DecodeOptions configures one Decode call: its reviver extension map, a
// logger, and the per-controller buffer bound.
type DecodeOptions struct {
	// Revivers is the base codec's extension point, reused verbatim:
	// name -> (argument -> value). Names Promise, AsyncIterable and
	// ReadableStream are reserved for the built-in async kinds.
	Revivers map[string]codec.ReviverFunc

	Logger *telemetry.Logger

	// MaxPendingPerController bounds how many undrained entries a
	// controller buffers before the dispatcher blocks delivering to it;
	// 0 means unbounded. The wire protocol has no backpressure of its
	// own (spec §9); this is a purely local safety valve against an
	// abandoned consumer letting one controller's buffer grow without
	// bound.
	MaxPendingPerController int
}

func (o DecodeOptions) logger() *telemetry.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return telemetry.NoOp()
}
