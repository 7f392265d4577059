package metrics

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestTreeUnmarshalKeepsOrder(t *testing.T) {
	tree := NewTree()
	err := tree.UnmarshalJSON([]byte(`{"z": 1, "a": {"y": "label", "b": [2.5]}, "m": true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	flat := Flatten(tree, "_")
	expected := []string{"z", "a_y", "a_b", "m"}
	if !reflect.DeepEqual(flat.Keys(), expected) {
		t.Errorf("expected %v, got %v", expected, flat.Keys())
	}

	b, _ := flat.Get("a_b")
	if !reflect.DeepEqual(b, Array{Values: []float64{2.5}, Shape: []int{1}}) {
		t.Errorf("unexpected array %#v", b)
	}
}

func TestTreeUnmarshalShapes(t *testing.T) {
	var testCases = []struct {
		description string
		input       string
		shape       []int
		size        int
	}{
		{"vector", `{"v": [1, 2, 3]}`, []int{3}, 3},
		{"matrix", `{"v": [[1, 2], [3, 4], [5, 6]]}`, []int{3, 2}, 6},
		{"single element matrix", `{"v": [[7]]}`, []int{1, 1}, 1},
		{"empty", `{"v": []}`, []int{0}, 0},
	}

	for _, tc := range testCases {
		tree := NewTree()
		if err := tree.UnmarshalJSON([]byte(tc.input)); err != nil {
			t.Errorf("%s: unexpected error %v", tc.description, err)
			continue
		}
		n, _ := tree.Get("v")
		arr := n.(Array)
		if !reflect.DeepEqual(arr.Shape, tc.shape) || arr.Size() != tc.size {
			t.Errorf("%s: expected shape %v size %d, got %v size %d",
				tc.description, tc.shape, tc.size, arr.Shape, arr.Size())
		}
	}
}

func TestTreeUnmarshalErrors(t *testing.T) {
	var testCases = []struct {
		description string
		input       string
	}{
		{"not an object", `[1, 2]`},
		{"null leaf", `{"a": null}`},
		{"ragged array", `{"a": [[1, 2], [3]]}`},
		{"mixed array", `{"a": [1, [2]]}`},
		{"strings in array", `{"a": ["x"]}`},
	}

	for _, tc := range testCases {
		if err := NewTree().UnmarshalJSON([]byte(tc.input)); err == nil {
			t.Errorf("%s: expected an error", tc.description)
		}
	}
}

func TestTreeMarshalRoundTrip(t *testing.T) {
	input := `{"b":{"y":"label","x":[[1,2],[3,4]]},"a":0.5}`

	tree := NewTree()
	if err := tree.UnmarshalJSON([]byte(input)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := tree.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != input {
		t.Errorf("expected %s, got %s", input, out)
	}
}

func TestDecodeStream(t *testing.T) {
	input := `{"step": 1, "loss": 0.9}
{"step": 2, "loss": 0.7}
{"step": 3, "loss": 0.4}`

	var losses []float64
	err := DecodeStream(strings.NewReader(input), func(tree *Tree) error {
		n, _ := tree.Get("loss")
		losses = append(losses, float64(n.(Scalar)))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(losses, []float64{0.9, 0.7, 0.4}) {
		t.Errorf("unexpected losses %v", losses)
	}
}

func TestDecodeStreamStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := DecodeStream(strings.NewReader(`{"a":1} {"a":2}`), func(*Tree) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("expected to stop after one call, got %d calls and %v", calls, err)
	}
}
