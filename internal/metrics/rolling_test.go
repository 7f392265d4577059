package metrics

import "testing"

func TestAddNewValue(t *testing.T) {
	// Test Add() correctly adds a value to the data points array

	testValue := 1.0
	testDataLength := 3

	rm := NewRollingMetric(testDataLength)
	rm.Add(testValue)

	if rm.data[0] != testValue {
		t.Errorf("Adding value %f to RollingMetric failed, got: %f", testValue, rm.data[0])
	}
}

func TestAddValuesToWrap(t *testing.T) {
	// Test Add() correctly wraps its index pointer when adding many data points,
	// the index point loops so the fourth value ends up in index 0

	testValues := [4]float64{1.0, 2.0, 3.0, 4.0} // 4 should wrap back to index 0
	testDataLength := 3

	rm := NewRollingMetric(testDataLength)

	var mean float64
	for _, value := range testValues {
		mean = rm.Add(value)
	}

	if rm.data[0] != 4 {
		t.Errorf("Error wrapping around data index while adding values")
	}
	if mean != 3 {
		t.Errorf("expected mean of 2,3,4 to be 3, got %f", mean)
	}
}

func TestMeanBeforeBufferFills(t *testing.T) {
	rm := NewRollingMetric(10)

	if rm.Mean() != 0 {
		t.Errorf("empty buffer mean should be 0, got %f", rm.Mean())
	}
	rm.Add(2)
	if got := rm.Add(4); got != 3 {
		t.Errorf("mean should only cover added values, got %f", got)
	}
}

func TestRollingMetricMinimumSize(t *testing.T) {
	rm := NewRollingMetric(0)
	if got := rm.Add(5); got != 5 {
		t.Errorf("expected 5, got %f", got)
	}
}
