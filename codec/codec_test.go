package codec_test

import (
	"errors"
	"math"
	"math/big"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/streamrelay/duplex/codec"
)

func roundTrip(t *testing.T, c *codec.Codec, v any) any {
	t.Helper()
	data, err := c.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal(%v): %v", v, err)
	}
	var out any
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal(%s): %v", data, err)
	}
	return out
}

func TestRoundTripPrimitives(t *testing.T) {
	c := codec.New(codec.Options{})

	cases := []any{nil, "hello", true, false, 42.0, -0.5}
	for _, v := range cases {
		got := roundTrip(t, c, v)
		if got != v {
			t.Errorf("round trip of %#v produced %#v", v, got)
		}
	}
}

func TestRoundTripSentinelFloats(t *testing.T) {
	c := codec.New(codec.Options{})

	got := roundTrip(t, c, math.NaN())
	if f, ok := got.(float64); !ok || !math.IsNaN(f) {
		t.Fatalf("NaN round trip produced %#v", got)
	}

	got = roundTrip(t, c, math.Inf(1))
	if got != math.Inf(1) {
		t.Fatalf("+Inf round trip produced %#v", got)
	}

	got = roundTrip(t, c, math.Inf(-1))
	if got != math.Inf(-1) {
		t.Fatalf("-Inf round trip produced %#v", got)
	}

	got = roundTrip(t, c, math.Copysign(0, -1))
	f, ok := got.(float64)
	if !ok || !math.Signbit(f) || f != 0 {
		t.Fatalf("-0 round trip produced %#v, want a negative-signed zero", got)
	}
}

func TestRoundTripBigIntDateRegexp(t *testing.T) {
	c := codec.New(codec.Options{})

	n := new(big.Int)
	n.SetString("123456789012345678901234567890", 10)
	got := roundTrip(t, c, n)
	gotN, ok := got.(*big.Int)
	if !ok || gotN.Cmp(n) != 0 {
		t.Fatalf("BigInt round trip produced %#v, want %v", got, n)
	}

	now := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	got = roundTrip(t, c, now)
	gotT, ok := got.(time.Time)
	if !ok || !gotT.Equal(now) {
		t.Fatalf("Date round trip produced %#v, want %v", got, now)
	}

	re := regexp.MustCompile(`^ab+c$`)
	got = roundTrip(t, c, re)
	gotRe, ok := got.(*regexp.Regexp)
	if !ok || gotRe.String() != re.String() {
		t.Fatalf("RegExp round trip produced %#v, want %v", got, re)
	}
}

func TestRoundTripOrderedMapAndSet(t *testing.T) {
	c := codec.New(codec.Options{})

	m := codec.NewOrderedMap()
	m.Set("z", 1.0)
	m.Set("a", 2.0)
	got := roundTrip(t, c, m)
	gotM, ok := got.(*codec.OrderedMap)
	if !ok {
		t.Fatalf("Map round trip produced %#v", got)
	}
	keys, values := gotM.Entries()
	if len(keys) != 2 || keys[0] != "z" || keys[1] != "a" || values[0] != 1.0 || values[1] != 2.0 {
		t.Fatalf("Map lost insertion order: keys=%v values=%v", keys, values)
	}

	s := codec.NewSet()
	s.Add("x")
	s.Add("y")
	got = roundTrip(t, c, s)
	gotS, ok := got.(*codec.Set)
	if !ok || len(gotS.Items()) != 2 {
		t.Fatalf("Set round trip produced %#v", got)
	}
}

func TestFlattenDedupsSharedSlice(t *testing.T) {
	c := codec.New(codec.Options{})

	shared := []any{"shared"}
	root := []any{shared, shared}
	data, err := c.Marshal(root)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if n := strings.Count(string(data), `"shared"`); n != 1 {
		t.Fatalf("shared slice flattened %d times, want once: %s", n, data)
	}

	var out any
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	arr, ok := out.([]any)
	if !ok || len(arr) != 2 {
		t.Fatalf("unexpected shape: %#v", out)
	}
	first, ok1 := arr[0].([]any)
	second, ok2 := arr[1].([]any)
	if !ok1 || !ok2 || len(first) != 1 || len(second) != 1 || first[0] != "shared" {
		t.Fatalf("shared slice did not round trip identically: %#v / %#v", first, second)
	}
}

func TestFlattenCyclicPointer(t *testing.T) {
	c := codec.New(codec.Options{})

	type node struct {
		Name string
		Next *node
	}
	n := &node{Name: "self"}
	n.Next = n

	data, err := c.Marshal(n)
	if err != nil {
		t.Fatalf("Marshal cyclic pointer: %v", err)
	}
	if data == nil {
		t.Fatal("expected non-nil stash for cyclic pointer")
	}
}

func TestReducerReviverRoundTrip(t *testing.T) {
	type point struct{ X, Y float64 }

	c := codec.New(codec.Options{})
	c.AddReducer("Point", func(v any) (any, bool) {
		p, ok := v.(point)
		if !ok {
			return nil, false
		}
		return []any{p.X, p.Y}, true
	})
	c.AddReviver("Point", func(arg any) (any, error) {
		arr, ok := arg.([]any)
		if !ok || len(arr) != 2 {
			return nil, errors.New("malformed Point argument")
		}
		return point{X: arr[0].(float64), Y: arr[1].(float64)}, nil
	})

	got := roundTrip(t, c, point{X: 1, Y: 2})
	p, ok := got.(point)
	if !ok || p.X != 1 || p.Y != 2 {
		t.Fatalf("Point round trip produced %#v", got)
	}
}

func TestReducerOrderPrecedence(t *testing.T) {
	c := codec.New(codec.Options{})
	var order []string
	c.AddReducer("First", func(v any) (any, bool) {
		order = append(order, "First")
		return nil, false
	})
	c.AddReducer("Second", func(v any) (any, bool) {
		order = append(order, "Second")
		return "matched", true
	})
	c.AddReviver("Second", func(arg any) (any, error) { return arg, nil })

	roundTrip(t, c, 7)

	if len(order) != 2 || order[0] != "First" || order[1] != "Second" {
		t.Fatalf("reducers tried out of order: %v", order)
	}
}

func TestMarshalUnencodableValue(t *testing.T) {
	c := codec.New(codec.Options{})

	ch := make(chan int)
	if _, err := c.Marshal(ch); err == nil {
		t.Fatal("expected error marshaling a channel value")
	}
}

func TestMarshalPlainErrorRequiresReducer(t *testing.T) {
	c := codec.New(codec.Options{})

	_, err := c.Marshal(errors.New("boom"))
	if err == nil {
		t.Fatal("expected error marshaling a plain error with no reducer registered")
	}
	var unencodable *codec.UnencodableError
	if !errors.As(err, &unencodable) {
		t.Fatalf("expected *codec.UnencodableError, got %T: %v", err, err)
	}
}

func TestUnmarshalMissingReviver(t *testing.T) {
	src := codec.New(codec.Options{})
	src.AddReducer("Unknown", func(v any) (any, bool) {
		if v != "anything" {
			return nil, false
		}
		return "arg", true
	})

	data, err := src.Marshal("anything")
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	c := codec.New(codec.Options{})
	var out any
	if err := c.Unmarshal(data, &out); err == nil {
		t.Fatal("expected error unmarshaling a tag with no registered reviver")
	}
}
