package codec

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"sort"
	"time"
)

// OrderedMap is a keyed collection that preserves insertion order across a
// flatten/unflatten round-trip, standing in for the base codec's ordered
// keyed-collection support.
type OrderedMap struct {
	keys   []any
	values []any
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{}
}

// Set inserts or updates a key, preserving first-insertion order.
func (m *OrderedMap) Set(key, value any) {
	for i, k := range m.keys {
		if k == key {
			m.values[i] = value
			return
		}
	}
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

// Get returns the value for key and whether it was present.
func (m *OrderedMap) Get(key any) (any, bool) {
	for i, k := range m.keys {
		if k == key {
			return m.values[i], true
		}
	}
	return nil, false
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int { return len(m.keys) }

// Entries returns the keys and values in insertion order.
func (m *OrderedMap) Entries() ([]any, []any) { return m.keys, m.values }

// Set is an unordered collection of distinct values, standing in for the
// base codec's set-like collection support.
type Set struct {
	items []any
}

// NewSet returns an empty Set.
func NewSet() *Set { return &Set{} }

// Add inserts v if not already present.
func (s *Set) Add(v any) {
	for _, x := range s.items {
		if x == v {
			return
		}
	}
	s.items = append(s.items, v)
}

// Items returns the set's members in insertion order.
func (s *Set) Items() []any { return s.items }

const (
	tagNaN      = "NaN"
	tagNegZero  = "-0"
	tagPosInf   = "Infinity"
	tagNegInf   = "-Infinity"
	tagBigInt   = "BigInt"
	tagDate     = "Date"
	tagRegExp   = "RegExp"
	tagMap      = "Map"
	tagSet      = "Set"
)

type flattener struct {
	stash        []any
	seen         map[uintptr]int
	reducers     map[string]ReducerFunc
	reducerNames []string
}

func newFlattener(reducers map[string]ReducerFunc, order []string) *flattener {
	return &flattener{
		seen:         make(map[uintptr]int),
		reducers:     reducers,
		reducerNames: order,
	}
}

func (f *flattener) reserve() int {
	f.stash = append(f.stash, nil)
	return len(f.stash) - 1
}

func (f *flattener) fill(idx int, v any) {
	f.stash[idx] = v
}

func (f *flattener) push(v any) int {
	f.stash = append(f.stash, v)
	return len(f.stash) - 1
}

// identity returns a stable address for reference types so repeated
// occurrences of the same pointer/slice/map dedup to one stash slot, and
// cycles through them terminate.
func identity(rv reflect.Value) (uintptr, bool) {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	case reflect.Slice:
		if rv.IsNil() || rv.Len() == 0 {
			return 0, false
		}
		return rv.Pointer(), true
	}
	return 0, false
}

func (f *flattener) flatten(v any) int {
	if v == nil {
		return f.push(nil)
	}

	rv := reflect.ValueOf(v)

	if id, ok := identity(rv); ok {
		if idx, seen := f.seen[id]; seen {
			return idx
		}
	}

	for _, name := range f.reducerNames {
		fn, ok := f.reducers[name]
		if !ok {
			continue
		}
		if arg, matched := fn(v); matched {
			idx := f.reserve()
			if id, ok := identity(rv); ok {
				f.seen[id] = idx
			}
			argIdx := f.flatten(arg)
			f.fill(idx, []any{name, argIdx})
			return idx
		}
	}

	switch x := v.(type) {
	case *big.Int:
		idx := f.reserve()
		f.fill(idx, []any{tagBigInt, f.push(x.String())})
		return idx
	case time.Time:
		idx := f.reserve()
		f.fill(idx, []any{tagDate, f.push(x.UTC().Format(time.RFC3339Nano))})
		return idx
	case *regexp.Regexp:
		idx := f.reserve()
		obj := map[string]int{"source": f.push(x.String())}
		f.fill(idx, []any{tagRegExp, f.push(obj)})
		return idx
	case *OrderedMap:
		idx := f.reserve()
		f.seen[rv.Pointer()] = idx
		keys, values := x.Entries()
		pairs := make([]any, len(keys))
		for i := range keys {
			pairs[i] = []int{f.flatten(keys[i]), f.flatten(values[i])}
		}
		f.fill(idx, []any{tagMap, f.push(pairs)})
		return idx
	case *Set:
		idx := f.reserve()
		f.seen[rv.Pointer()] = idx
		items := x.Items()
		elems := make([]int, len(items))
		for i := range items {
			elems[i] = f.flatten(items[i])
		}
		f.fill(idx, []any{tagSet, f.push(elems)})
		return idx
	case string:
		return f.push(x)
	case bool:
		return f.push(x)
	}

	if err, ok := v.(error); ok {
		panic(&UnencodableError{Value: err})
	}

	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return f.push(f.flattenFloat(rv.Float()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return f.push(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return f.push(rv.Uint())
	case reflect.Ptr:
		if rv.IsNil() {
			return f.push(nil)
		}
		idx := f.reserve()
		f.seen[rv.Pointer()] = idx
		childIdx := f.flatten(rv.Elem().Interface())
		f.fill(idx, []any{"Ptr", childIdx})
		return idx
	case reflect.Slice, reflect.Array:
		idx := f.reserve()
		if id, ok := identity(rv); ok {
			f.seen[id] = idx
		}
		n := rv.Len()
		elems := make([]int, n)
		for i := 0; i < n; i++ {
			elems[i] = f.flatten(rv.Index(i).Interface())
		}
		f.fill(idx, elems)
		return idx
	case reflect.Map:
		idx := f.reserve()
		f.seen[rv.Pointer()] = idx
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		obj := make(map[string]int, len(keys))
		for _, k := range keys {
			obj[fmt.Sprint(k.Interface())] = f.flatten(rv.MapIndex(k).Interface())
		}
		f.fill(idx, obj)
		return idx
	case reflect.Struct:
		idx := f.reserve()
		obj := make(map[string]int)
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue
			}
			name := jsonFieldName(field)
			if name == "-" {
				continue
			}
			obj[name] = f.flatten(rv.Field(i).Interface())
		}
		f.fill(idx, obj)
		return idx
	}

	panic(&UnencodableError{Value: v})
}

// UnencodableError is raised when a value has no matching reducer and no
// built-in or reflective representation, including plain error values
// (custom error types must go through a registered reducer, or through
// an encoder's coerceError salvage hook).
type UnencodableError struct {
	Value any
}

func (e *UnencodableError) Error() string {
	return fmt.Sprintf("codec: value of type %T is not encodable", e.Value)
}

func (f *flattener) flattenFloat(x float64) any {
	switch {
	case math.IsNaN(x):
		return []any{tagNaN}
	case math.IsInf(x, 1):
		return []any{tagPosInf}
	case math.IsInf(x, -1):
		return []any{tagNegInf}
	case x == 0 && math.Signbit(x):
		return []any{tagNegZero}
	default:
		return x
	}
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			if i == 0 {
				return f.Name
			}
			return tag[:i]
		}
	}
	return tag
}

type unflattener struct {
	stash    []any
	built    map[int]any
	building map[int]bool
	revivers map[string]ReviverFunc
}

func (u *unflattener) unflatten(idx int) (any, error) {
	if v, ok := u.built[idx]; ok {
		return v, nil
	}
	if idx < 0 || idx >= len(u.stash) {
		return nil, fmt.Errorf("codec: stash index %d out of range", idx)
	}
	if u.building[idx] {
		return nil, fmt.Errorf("codec: unsupported cyclic reference at index %d", idx)
	}
	u.building[idx] = true
	defer delete(u.building, idx)

	raw := u.stash[idx]
	switch val := raw.(type) {
	case nil, bool, string, float64:
		u.built[idx] = val
		return val, nil
	case map[string]any:
		obj := make(map[string]any, len(val))
		u.built[idx] = obj
		for k, vidx := range val {
			n, ok := vidx.(float64)
			if !ok {
				return nil, fmt.Errorf("codec: object field %q has non-numeric index", k)
			}
			v, err := u.unflatten(int(n))
			if err != nil {
				return nil, err
			}
			obj[k] = v
		}
		return obj, nil
	case []any:
		return u.unflattenArray(idx, val)
	default:
		return nil, fmt.Errorf("codec: unrecognized stash entry type %T", raw)
	}
}

func (u *unflattener) unflattenArray(idx int, arr []any) (any, error) {
	if len(arr) >= 1 {
		if name, ok := arr[0].(string); ok {
			return u.unflattenTagged(idx, name, arr)
		}
	}
	elems := make([]any, len(arr))
	u.built[idx] = elems
	for i, e := range arr {
		n, ok := e.(float64)
		if !ok {
			return nil, fmt.Errorf("codec: array element %d is not a numeric index", i)
		}
		v, err := u.unflatten(int(n))
		if err != nil {
			return nil, err
		}
		elems[i] = v
	}
	return elems, nil
}

func (u *unflattener) unflattenTagged(idx int, name string, arr []any) (any, error) {
	switch name {
	case tagNaN:
		u.built[idx] = math.NaN()
		return math.NaN(), nil
	case tagPosInf:
		u.built[idx] = math.Inf(1)
		return math.Inf(1), nil
	case tagNegInf:
		u.built[idx] = math.Inf(-1)
		return math.Inf(-1), nil
	case tagNegZero:
		u.built[idx] = math.Copysign(0, -1)
		return u.built[idx], nil
	}

	argIdx, err := arrIndex(arr, 1, name)
	if err != nil {
		return nil, err
	}

	switch name {
	case tagBigInt:
		arg, err := u.unflatten(argIdx)
		if err != nil {
			return nil, err
		}
		s, _ := arg.(string)
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("codec: invalid BigInt literal %q", s)
		}
		u.built[idx] = n
		return n, nil
	case tagDate:
		arg, err := u.unflatten(argIdx)
		if err != nil {
			return nil, err
		}
		s, _ := arg.(string)
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("codec: invalid Date literal %q: %w", s, err)
		}
		u.built[idx] = t
		return t, nil
	case tagRegExp:
		arg, err := u.unflatten(argIdx)
		if err != nil {
			return nil, err
		}
		obj, _ := arg.(map[string]any)
		src, _ := obj["source"].(string)
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("codec: invalid RegExp literal %q: %w", src, err)
		}
		u.built[idx] = re
		return re, nil
	case tagMap:
		m := NewOrderedMap()
		u.built[idx] = m
		if argIdx < 0 || argIdx >= len(u.stash) {
			return nil, fmt.Errorf("codec: stash index %d out of range", argIdx)
		}
		pairs, _ := u.stash[argIdx].([]any)
		for _, p := range pairs {
			pair, ok := p.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("codec: malformed Map entry")
			}
			ki, _ := pair[0].(float64)
			vi, _ := pair[1].(float64)
			k, err := u.unflatten(int(ki))
			if err != nil {
				return nil, err
			}
			v, err := u.unflatten(int(vi))
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil
	case tagSet:
		s := NewSet()
		u.built[idx] = s
		arg, err := u.unflatten(argIdx)
		if err != nil {
			return nil, err
		}
		items, _ := arg.([]any)
		for _, it := range items {
			s.Add(it)
		}
		return s, nil
	case "Ptr":
		v, err := u.unflatten(argIdx)
		if err != nil {
			return nil, err
		}
		u.built[idx] = v
		return v, nil
	default:
		reviver, ok := u.revivers[name]
		if !ok {
			return nil, fmt.Errorf("codec: no reviver registered for tag %q", name)
		}
		arg, err := u.unflatten(argIdx)
		if err != nil {
			return nil, err
		}
		v, err := reviver(arg)
		if err != nil {
			return nil, err
		}
		u.built[idx] = v
		return v, nil
	}
}

func arrIndex(arr []any, i int, tag string) (int, error) {
	if i >= len(arr) {
		return 0, fmt.Errorf("codec: tag %q missing argument", tag)
	}
	n, ok := arr[i].(float64)
	if !ok {
		return 0, fmt.Errorf("codec: tag %q argument is not a numeric index", tag)
	}
	return int(n), nil
}
