package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultSeparator joins path components into a compound key.
const DefaultSeparator = "_"

// Flat is a single-level ordered mapping from compound key to value.
type Flat[V any] struct {
	keys   []string
	values map[string]V
}

// NewFlat returns an empty map. The zero value is also ready to use.
func NewFlat[V any]() *Flat[V] {
	return &Flat[V]{values: make(map[string]V)}
}

// Set stores v under key. A key seen before keeps its first position and
// takes the new value.
func (f *Flat[V]) Set(key string, v V) {
	if f.values == nil {
		f.values = make(map[string]V)
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = v
}

// Get returns the value stored at key.
func (f *Flat[V]) Get(key string) (V, bool) {
	if f == nil {
		var zero V
		return zero, false
	}
	v, ok := f.values[key]
	return v, ok
}

// Len is the number of entries.
func (f *Flat[V]) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Keys returns the compound keys in order.
func (f *Flat[V]) Keys() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.keys...)
}

// Range calls fn for each entry in order until fn returns false.
func (f *Flat[V]) Range(fn func(key string, v V) bool) {
	if f == nil {
		return
	}
	for _, k := range f.keys {
		if !fn(k, f.values[k]) {
			return
		}
	}
}

// MarshalJSON writes an object with keys in map order.
func (f *Flat[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Flatten collapses t into a single level. Each leaf is stored under the
// keys on its path from the root joined by sep, visiting entries depth
// first in insertion order. An empty sep means DefaultSeparator.
//
// Two paths that join to the same compound key are not detected: the
// later leaf overwrites the earlier value. A nil node is stored as a nil
// Leaf.
func Flatten(t *Tree, sep string) *Flat[Leaf] {
	if sep == "" {
		sep = DefaultSeparator
	}
	flat := NewFlat[Leaf]()
	flattenInto(flat, t, "", sep)
	return flat
}

func flattenInto(flat *Flat[Leaf], t *Tree, parent, sep string) {
	t.Range(func(key string, n Node) bool {
		compound := key
		if parent != "" {
			compound = parent + sep + key
		}

		switch node := n.(type) {
		case *Tree:
			flattenInto(flat, node, compound, sep)
		case Leaf:
			flat.Set(compound, node)
		default:
			// nil node, kept so Normalize can report the key
			flat.Set(compound, nil)
		}
		return true
	})
}

// Normalize flattens t and coerces every leaf. The first leaf that cannot
// be coerced aborts with a *ConversionError naming its compound key.
func Normalize(t *Tree, sep string) (*Flat[Value], error) {
	flat := Flatten(t, sep)
	values := NewFlat[Value]()

	var err error
	flat.Range(func(key string, leaf Leaf) bool {
		var v Value
		v, err = CoerceLeaf(leaf)
		if err != nil {
			var ce *ConversionError
			if errors.As(err, &ce) {
				ce.Key = key
			} else {
				err = fmt.Errorf("%w (key %q)", err, key)
			}
			return false
		}
		values.Set(key, v)
		return true
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}
