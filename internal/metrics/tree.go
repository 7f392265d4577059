package metrics

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// Node is a value held in a Tree: either a nested *Tree or a leaf
// (Text, Scalar or Array).
type Node interface {
	isNode()
}

// Leaf is a terminal Node.
type Leaf interface {
	Node
	isLeaf()
}

// Text is a descriptive label, passed through untouched by CoerceLeaf.
type Text string

// Scalar is a single numeric value.
type Scalar float64

// Array holds numeric values in row-major order. Shape is optional; when
// empty the array is treated as one-dimensional.
type Array struct {
	Values []float64
	Shape  []int
}

func (Text) isNode()   {}
func (Scalar) isNode() {}
func (Array) isNode()  {}
func (*Tree) isNode()  {}

func (Text) isLeaf()   {}
func (Scalar) isLeaf() {}
func (Array) isLeaf()  {}

// Size returns the element count of the array.
func (a Array) Size() int {
	return len(a.Values)
}

// Vector builds a one-dimensional Array.
func Vector(values ...float64) Array {
	return Array{Values: values}
}

type entry struct {
	key  string
	node Node
}

// Tree is one logging call's payload: an ordered mapping from key to a
// nested Tree or a leaf. Iteration follows insertion order and keys are
// unique within a level.
type Tree struct {
	entries []entry
	index   map[string]int
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{index: make(map[string]int)}
}

// Set stores n under key. Replacing an existing key keeps its position.
// A nil n is stored as is and fails Normalize with ErrTypeConversion.
func (t *Tree) Set(key string, n Node) *Tree {
	if t.index == nil {
		t.index = make(map[string]int)
	}
	if i, ok := t.index[key]; ok {
		t.entries[i].node = n
		return t
	}
	t.index[key] = len(t.entries)
	t.entries = append(t.entries, entry{key: key, node: n})
	return t
}

// SetInt stores n under the decimal form of an integer key.
func (t *Tree) SetInt(key int, n Node) *Tree {
	return t.Set(strconv.Itoa(key), n)
}

// Child returns the nested tree at key, creating it when missing. A leaf
// already stored at key is replaced.
func (t *Tree) Child(key string) *Tree {
	if n, ok := t.Get(key); ok {
		if child, isTree := n.(*Tree); isTree {
			return child
		}
	}
	child := NewTree()
	t.Set(key, child)
	return child
}

// Get returns the node stored at key.
func (t *Tree) Get(key string) (Node, bool) {
	if t == nil {
		return nil, false
	}
	i, ok := t.index[key]
	if !ok {
		return nil, false
	}
	return t.entries[i].node, true
}

// Len is the number of entries at this level.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Keys lists this level's keys in insertion order.
func (t *Tree) Keys() []string {
	keys := make([]string, 0, t.Len())
	t.Range(func(key string, _ Node) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Range calls fn for each entry in insertion order until fn returns false.
func (t *Tree) Range(fn func(key string, n Node) bool) {
	if t == nil {
		return
	}
	for _, e := range t.entries {
		if !fn(e.key, e.node) {
			return
		}
	}
}

// FromMap builds a tree from Go maps. Go maps carry no order, so keys are
// sorted at every level. Values may be Node values, strings, bools, any
// integer or float kind, slices and arrays of those, or nested maps keyed by
// strings or integers. Any other value fails with ErrTypeConversion.
func FromMap(m map[string]any) (*Tree, error) {
	return treeOf(reflect.ValueOf(m))
}

func treeOf(m reflect.Value) (*Tree, error) {
	t := NewTree()
	keys := m.MapKeys()
	switch m.Type().Key().Kind() {
	case reflect.String:
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sort.Slice(keys, func(i, j int) bool { return keys[i].Int() < keys[j].Int() })
	default:
		return nil, fmt.Errorf("%w: map key type %s", ErrTypeConversion, m.Type().Key())
	}

	for _, k := range keys {
		n, err := nodeOf(m.MapIndex(k))
		if err != nil {
			return nil, fmt.Errorf("key %v: %w", k, err)
		}
		if k.Kind() == reflect.String {
			t.Set(k.String(), n)
		} else {
			t.SetInt(int(k.Int()), n)
		}
	}
	return t, nil
}

var nodeType = reflect.TypeOf((*Node)(nil)).Elem()

func nodeOf(v reflect.Value) (Node, error) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, fmt.Errorf("%w: nil value", ErrTypeConversion)
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, fmt.Errorf("%w: nil value", ErrTypeConversion)
	}
	if v.Type().Implements(nodeType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil, fmt.Errorf("%w: nil %s", ErrTypeConversion, v.Type())
		}
		return v.Interface().(Node), nil
	}

	switch v.Kind() {
	case reflect.String:
		return Text(v.String()), nil
	case reflect.Bool:
		if v.Bool() {
			return Scalar(1), nil
		}
		return Scalar(0), nil
	case reflect.Map:
		if v.IsNil() {
			return nil, fmt.Errorf("%w: nil %s", ErrTypeConversion, v.Type())
		}
		t, err := treeOf(v)
		if err != nil {
			return nil, err
		}
		return t, nil
	case reflect.Slice, reflect.Array:
		values := make([]float64, v.Len())
		for i := range values {
			f, ok := floatOf(v.Index(i))
			if !ok {
				return nil, fmt.Errorf("%w: element type %s", ErrTypeConversion, v.Type().Elem())
			}
			values[i] = f
		}
		return Vector(values...), nil
	}
	if f, ok := floatOf(v); ok {
		return Scalar(f), nil
	}
	return nil, fmt.Errorf("%w: unsupported type %s", ErrTypeConversion, v.Type())
}

// floatOf reads any integer or float kind, looking through interfaces.
func floatOf(v reflect.Value) (float64, bool) {
	if v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	}
	return 0, false
}
