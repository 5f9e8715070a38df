// Package codec is a devalue-style structural serializer: it flattens an
// arbitrary Go value graph into an index-addressable JSON array (handling
// cycles and shared references by construction) and reconstructs it from
// that form. It plays the role duplex's external base codec collaborator
// would occupy in a real deployment.
//
// Values are extended through named reducer/reviver pairs, the same
// extension point duplex uses to carry its three asynchronous kinds.
package codec

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ReducerFunc inspects v and, if it recognizes it, returns the argument to
// recursively encode under its tag name, and true. Returning false means
// "not mine"; the next reducer (or the built-in handling) is tried.
type ReducerFunc func(v any) (arg any, ok bool)

// ReviverFunc rebuilds a value from the argument a matching ReducerFunc
// produced, after that argument has itself been recursively decoded.
type ReviverFunc func(arg any) (any, error)

// Options configures the set of named extension points a Codec honors,
// beyond the built-in sentinel numerics, big integers, timestamps,
// regular expressions, and the ordered Map/Set collection types.
type Options struct {
	Reducers map[string]ReducerFunc
	Revivers map[string]ReviverFunc
}

// Codec marshals and unmarshals values through the flatten/unflatten
// stash form described in the package doc.
type Codec struct {
	reducerNames []string
	reducers     map[string]ReducerFunc
	revivers     map[string]ReviverFunc
}

// New builds a Codec from opts. Reducer names are tried in the order they
// were inserted into opts.Reducers's iteration... since map iteration order
// is not stable, callers who need deterministic precedence between
// reducers that could both match the same value should use OrderedReducers.
func New(opts Options) *Codec {
	c := &Codec{
		reducers: opts.Reducers,
		revivers: opts.Revivers,
	}
	if c.reducers == nil {
		c.reducers = map[string]ReducerFunc{}
	}
	if c.revivers == nil {
		c.revivers = map[string]ReviverFunc{}
	}
	for name := range c.reducers {
		c.reducerNames = append(c.reducerNames, name)
	}
	return c
}

// OrderedReducers lets a caller fix reducer trial order explicitly, which
// matters when more than one reducer could match the same value (duplex
// gets the same effect by adding its three async reducers with
// AddReducer before any user reducer).
func (c *Codec) OrderedReducers(names []string) {
	c.reducerNames = names
}

// AddReducer appends one reducer to the end of the trial order.
func (c *Codec) AddReducer(name string, fn ReducerFunc) {
	if c.reducers == nil {
		c.reducers = map[string]ReducerFunc{}
	}
	c.reducers[name] = fn
	c.reducerNames = append(c.reducerNames, name)
}

// AddReviver registers the reviver counterpart of a named reducer.
func (c *Codec) AddReviver(name string, fn ReviverFunc) {
	if c.revivers == nil {
		c.revivers = map[string]ReviverFunc{}
	}
	c.revivers[name] = fn
}

// Marshal flattens v and returns its JSON stash-array encoding, the form
// carried verbatim in a wire frame's payload.
func (c *Codec) Marshal(v any) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("codec: %v", r)
			}
		}
	}()
	fl := newFlattener(c.reducers, c.reducerNames)
	fl.flatten(v)
	return json.Marshal(fl.stash)
}

// Unmarshal parses a stash-array encoding and reconstructs the value it
// represents, invoking revivers as tagged placeholders are encountered.
func (c *Codec) Unmarshal(data []byte, out *any) error {
	var stash []any
	if err := json.Unmarshal(data, &stash); err != nil {
		return fmt.Errorf("codec: malformed stash: %w", err)
	}
	uf := &unflattener{
		stash:    stash,
		built:    make(map[int]any, len(stash)),
		building: make(map[int]bool, len(stash)),
		revivers: c.revivers,
	}
	if len(stash) == 0 {
		*out = nil
		return nil
	}
	v, err := uf.unflatten(0)
	if err != nil {
		return err
	}
	*out = v
	return nil
}
