package metrics

// RollingMetric implements a circular buffer for calculating rolling averages
type RollingMetric struct {
	data   []float64
	index  int
	filled int
}

// Add a value to the buffer and return the mean of the values held. Until
// the buffer is full the mean covers only the values added so far.
func (rm *RollingMetric) Add(value float64) float64 {
	dataLength := len(rm.data)

	// simple index wrap-around technique
	if rm.index >= dataLength {
		rm.index = 0
	}
	rm.data[rm.index] = value
	rm.index++
	if rm.filled < dataLength {
		rm.filled++
	}

	return rm.Mean()
}

// Mean of the values currently held, zero when empty.
func (rm *RollingMetric) Mean() float64 {
	if rm.filled == 0 {
		return 0
	}
	var total float64
	for i := 0; i < rm.filled; i++ {
		total += rm.data[i]
	}
	return total / float64(rm.filled)
}

// NewRollingMetric creates a new rolling metric with the specified size.
// Sizes below one are raised to one.
func NewRollingMetric(size int) *RollingMetric {
	if size < 1 {
		size = 1
	}
	return &RollingMetric{
		data: make([]float64, size),
	}
}
