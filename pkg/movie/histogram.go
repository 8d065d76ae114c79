package movie

import (
	"fmt"
	"sort"
)

// Hist is one volume's binned photon counts. Counts are stored flat in
// row-major order; Shape carries the per-axis bin counts. Signed 16-bit
// counts are wide enough for per-volume photon loads.
type Hist struct {
	Counts []int16
	Shape  []int
}

// NewZeroHist returns an all-zero histogram of the given shape.
func NewZeroHist(shape []int) *Hist {
	size := 1
	for _, s := range shape {
		size *= s
	}
	return &Hist{Counts: make([]int16, size), Shape: append([]int(nil), shape...)}
}

// Sum returns the total number of counts in the histogram.
func (h *Hist) Sum() int {
	total := 0
	for _, c := range h.Counts {
		total += int(c)
	}
	return total
}

// sameShape reports whether two histograms can be accumulated elementwise.
func (h *Hist) sameShape(other *Hist) bool {
	if len(h.Shape) != len(other.Shape) {
		return false
	}
	for i := range h.Shape {
		if h.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// bucket locates the bin of value v given strictly increasing edges:
// bins are right-open except the last, which includes its upper edge.
// A value outside the edge range returns -1.
func bucket(edges []float64, v float64) int {
	if v < edges[0] || v > edges[len(edges)-1] {
		return -1
	}
	if v == edges[len(edges)-1] {
		return len(edges) - 2
	}
	// First edge strictly greater than v bounds the bin on the right.
	i := sort.Search(len(edges), func(i int) bool { return edges[i] > v })
	return i - 1
}

// histogramND bins the sample matrix into the edge grid. cols holds one
// per-photon coordinate column per axis; all columns have equal length.
// Samples falling outside any axis's edge range are discarded, matching
// the clipping behavior of dense N-d histogramming.
func histogramND(cols [][]float64, edges [][]float64) (*Hist, error) {
	if len(cols) != len(edges) {
		return nil, fmt.Errorf("got %d sample columns but %d edge sets", len(cols), len(edges))
	}

	shape := make([]int, len(edges))
	for ax, e := range edges {
		if len(e) < 2 {
			return nil, fmt.Errorf("axis %d has fewer than two edges", ax)
		}
		shape[ax] = len(e) - 1
	}

	hist := NewZeroHist(shape)

	// Row-major strides over the bin grid.
	strides := make([]int, len(shape))
	stride := 1
	for ax := len(shape) - 1; ax >= 0; ax-- {
		strides[ax] = stride
		stride *= shape[ax]
	}

	n := len(cols[0])
	for row := 0; row < n; row++ {
		flat := 0
		keep := true
		for ax := range cols {
			b := bucket(edges[ax], cols[ax][row])
			if b < 0 {
				keep = false
				break
			}
			flat += b * strides[ax]
		}
		if keep {
			hist.Counts[flat]++
		}
	}
	return hist, nil
}

// CensorPolicy selects how bins with pile-up (more than one count summed
// over the last axis) are treated after histogramming.
type CensorPolicy int

const (
	// CensorOff leaves the histogram untouched.
	CensorOff CensorPolicy = iota

	// CensorFlag reports the pile-up bins without modifying counts.
	// Dead-time redistribution needs a detector model we do not have, so
	// flagging is the only correction shipped; callers may post-process
	// the flagged index set themselves.
	CensorFlag
)

// FlaggedBins returns the flat indices (over the leading axes) of bins
// whose count summed across the last axis exceeds one.
func FlaggedBins(h *Hist) []int {
	if len(h.Shape) == 0 {
		return nil
	}
	last := h.Shape[len(h.Shape)-1]
	var flagged []int
	for lead := 0; lead < len(h.Counts)/last; lead++ {
		sum := 0
		for k := 0; k < last; k++ {
			sum += int(h.Counts[lead*last+k])
		}
		if sum > 1 {
			flagged = append(flagged, lead)
		}
	}
	return flagged
}
