package bands

import (
	"math"
	"sort"
)

// Window sizes of the rolling statistics.
const (
	CenterWindow    = 3 // rolling mean used as band center
	CenterAltWindow = 6 // rolling median, supplementary
	SpreadWindow    = 6 // rolling sample standard deviation
	MinSpreadPoints = 2 // stdev is undefined below this many points
)

// window is a fixed-size ring buffer over the most recent prices of one group.
// Capacity is the largest window; shorter windows read its newest entries.
type window struct {
	buf     [SpreadWindow]float64
	next    int // write position
	count   int
	scratch [SpreadWindow]float64
}

func (w *window) push(v float64) {
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// tail copies the newest min(n, count) values into scratch, oldest first.
func (w *window) tail(n int) []float64 {
	if n > w.count {
		n = w.count
	}
	out := w.scratch[:n]
	start := w.next - n
	if start < 0 {
		start += len(w.buf)
	}
	for i := 0; i < n; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}

// mean of the newest n values, at least one point.
func (w *window) mean(n int) float64 {
	vals := w.tail(n)
	if len(vals) == 0 {
		return math.NaN()
	}
	return meanOf(vals)
}

// median of the newest n values, at least one point.
// Even-sized windows average the two middle values.
func (w *window) median(n int) float64 {
	return medianOf(w.tail(n))
}

// stddev is the sample standard deviation (n-1 divisor) of the newest n values.
// NaN below MinSpreadPoints.
func (w *window) stddev(n int) float64 {
	vals := w.tail(n)
	if len(vals) < MinSpreadPoints {
		return math.NaN()
	}
	m := meanOf(vals)
	ss := 0.0
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

func meanOf(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// median of an arbitrary slice. vals is reordered.
func medianOf(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}
