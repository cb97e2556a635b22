package core

import (
	"fmt"
	"math"
)

// Interval is the half-open time range [Start, Stop), in mission elapsed
// seconds.
type Interval struct {
	Start float64 `json:"tmin"`
	Stop  float64 `json:"tmax"`
}

// Width returns Stop - Start.
func (iv Interval) Width() float64 { return iv.Stop - iv.Start }

// Contains reports whether t falls inside [Start, Stop).
func (iv Interval) Contains(t float64) bool { return t >= iv.Start && t < iv.Stop }

func (iv Interval) String() string {
	return "[" + FormatFloat(iv.Start) + ", " + FormatFloat(iv.Stop) + ")"
}

// Partition splits [start, stop) into n contiguous intervals of equal width.
//
// Boundaries are closed-form: boundary i is start + i*width, computed once per
// index so interval i's Stop and interval i+1's Start are the same float64.
// The last Stop is pinned to stop, so the union is exactly [start, stop); the
// last interval absorbs the rounding slack, which is bounded by a few ulps of
// stop. Every width equals (stop-start)/n within 1e-9*(stop-start).
func Partition(start, stop float64, n int) ([]Interval, error) {
	if n < 1 {
		return nil, &InvalidPartitionError{Start: start, Stop: stop, N: n, Msg: "partition count must be >= 1"}
	}
	if math.IsNaN(start) || math.IsNaN(stop) || math.IsInf(start, 0) || math.IsInf(stop, 0) {
		return nil, &InvalidPartitionError{Start: start, Stop: stop, N: n, Msg: "time bounds must be finite"}
	}
	if stop <= start {
		return nil, &InvalidPartitionError{Start: start, Stop: stop, N: n, Msg: "stop must be greater than start"}
	}

	width := (stop - start) / float64(n)
	if width <= 0 {
		return nil, &InvalidPartitionError{Start: start, Stop: stop, N: n, Msg: fmt.Sprintf("interval width underflows for n=%d", n)}
	}

	boundary := func(i int) float64 {
		if i == n {
			return stop
		}
		return start + float64(i)*width
	}

	out := make([]Interval, n)
	for i := 0; i < n; i++ {
		out[i] = Interval{Start: boundary(i), Stop: boundary(i + 1)}
		if out[i].Stop <= out[i].Start {
			return nil, &InvalidPartitionError{Start: start, Stop: stop, N: n, Msg: fmt.Sprintf("interval %d collapses under floating-point rounding", i+1)}
		}
	}
	return out, nil
}
