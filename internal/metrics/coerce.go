package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrTypeConversion is matched by every error CoerceLeaf returns.
var ErrTypeConversion = errors.New("cannot convert leaf to a float")

// ConversionError reports a leaf that is not a label and does not reduce
// to exactly one number.
type ConversionError struct {
	Key   string // compound key, set by Normalize
	Size  int
	Shape []int
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("%s: array has %d elements", ErrTypeConversion, e.Size)
	if len(e.Shape) > 0 {
		msg = fmt.Sprintf("%s, shape %v", msg, e.Shape)
	}
	if e.Key != "" {
		msg = fmt.Sprintf("%s (key %q)", msg, e.Key)
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	return ErrTypeConversion
}

// Value is a coerced leaf: a label or a float.
type Value struct {
	Number float64
	Text   string
	IsText bool
}

// Number wraps a float.
func Number(f float64) Value {
	return Value{Number: f}
}

// Label wraps a text value.
func Label(s string) Value {
	return Value{Text: s, IsText: true}
}

func (v Value) String() string {
	if v.IsText {
		return v.Text
	}
	return strconv.FormatFloat(v.Number, 'g', -1, 64)
}

// MarshalJSON writes labels as strings and numbers as numbers. JSON has no
// literal for NaN or the infinities, so those are written as the strings
// "NaN", "Infinity" and "-Infinity".
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsText {
		return json.Marshal(v.Text)
	}
	return marshalFloat(v.Number)
}

func marshalFloat(f float64) ([]byte, error) {
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(f)
}

// CoerceLeaf returns labels unchanged and reduces any other leaf to one
// float. Arrays of any shape are accepted when they hold exactly one
// element; empty and multi-element arrays fail with a *ConversionError.
func CoerceLeaf(leaf Leaf) (Value, error) {
	switch l := leaf.(type) {
	case nil:
		return Value{}, fmt.Errorf("%w: missing leaf", ErrTypeConversion)
	case Text:
		return Label(string(l)), nil
	case Scalar:
		return Number(float64(l)), nil
	case Array:
		if l.Size() != 1 || !shapeHoldsOne(l.Shape) {
			return Value{}, &ConversionError{Size: l.Size(), Shape: l.Shape}
		}
		return Number(l.Values[0]), nil
	}
	return Value{}, fmt.Errorf("%w: unsupported leaf %T", ErrTypeConversion, leaf)
}

func shapeHoldsOne(shape []int) bool {
	for _, dim := range shape {
		if dim != 1 {
			return false
		}
	}
	return true
}
