package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var errNullLeaf = errors.New("null is not a metric value")

// UnmarshalJSON reads an object into the tree keeping the document's key
// order. Strings become Text, numbers and bools become Scalar and numeric
// arrays (nested to any depth) become an Array with the matching shape.
func (t *Tree) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metric tree must be a JSON object, got %v", tok)
	}

	*t = Tree{index: make(map[string]int)}
	return decodeObject(dec, t)
}

// MarshalJSON writes the tree as a nested object in insertion order.
func (t *Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	var err error
	i := 0
	t.Range(func(key string, n Node) bool {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++

		var k, v []byte
		if k, err = json.Marshal(key); err != nil {
			return false
		}
		if v, err = marshalNode(n); err != nil {
			return false
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeStream reads consecutive JSON objects from r, calling fn with each
// tree. It stops at EOF or at the first error from decoding or fn.
func DecodeStream(r io.Reader, fn func(*Tree) error) error {
	dec := json.NewDecoder(r)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		t := NewTree()
		if err := t.UnmarshalJSON(raw); err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
}

func marshalNode(n Node) ([]byte, error) {
	switch node := n.(type) {
	case *Tree:
		return node.MarshalJSON()
	case Text:
		return json.Marshal(string(node))
	case Scalar:
		return json.Marshal(float64(node))
	case Array:
		if len(node.Shape) > 1 {
			return json.Marshal(nest(node.Values, node.Shape))
		}
		return json.Marshal(node.Values)
	}
	return nil, fmt.Errorf("unsupported node %T", n)
}

// nest rebuilds nested slices from row-major values.
func nest(values []float64, shape []int) any {
	if len(shape) == 1 {
		return values
	}
	out := make([]any, shape[0])
	stride := len(values) / max(shape[0], 1)
	for i := range out {
		out[i] = nest(values[i*stride:(i+1)*stride], shape[1:])
	}
	return out
}

func decodeObject(dec *json.Decoder, t *Tree) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}

		n, err := decodeNode(dec)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		t.Set(key, n)
	}
	_, err := dec.Token() // closing brace
	return err
}

func decodeNode(dec *json.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			child := NewTree()
			if err := decodeObject(dec, child); err != nil {
				return nil, err
			}
			return child, nil
		case '[':
			return decodeArray(dec)
		}
		return nil, fmt.Errorf("unexpected delimiter %v", v)
	case string:
		return Text(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return Scalar(f), nil
	case bool:
		if v {
			return Scalar(1), nil
		}
		return Scalar(0), nil
	case nil:
		return nil, errNullLeaf
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

// decodeArray reads the rest of an array whose '[' was consumed.
func decodeArray(dec *json.Decoder) (Array, error) {
	var arr Array
	shape, err := decodeDims(dec, &arr.Values)
	if err != nil {
		return Array{}, err
	}
	arr.Shape = shape
	return arr, nil
}

func decodeDims(dec *json.Decoder, values *[]float64) ([]int, error) {
	count := 0
	var inner []int
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch v := tok.(type) {
		case json.Number:
			if inner != nil {
				return nil, errors.New("ragged numeric array")
			}
			f, err := v.Float64()
			if err != nil {
				return nil, err
			}
			*values = append(*values, f)
		case json.Delim:
			if v != '[' {
				return nil, fmt.Errorf("arrays may only hold numbers, got %v", v)
			}
			if count > 0 && inner == nil {
				return nil, errors.New("ragged numeric array")
			}
			sub, err := decodeDims(dec, values)
			if err != nil {
				return nil, err
			}
			if inner != nil && !equalDims(inner, sub) {
				return nil, errors.New("ragged numeric array")
			}
			inner = sub
		default:
			return nil, fmt.Errorf("arrays may only hold numbers, got %v", tok)
		}
		count++
	}
	if _, err := dec.Token(); err != nil { // closing bracket
		return nil, err
	}
	return append([]int{count}, inner...), nil
}

func equalDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
