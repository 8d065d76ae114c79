// Package allocate assigns every photon event to its enclosing frame and
// line markers and computes the relative-time columns that the histogram
// stage bins over. Photons that precede the first marker, or that end up
// with a negative line-relative time after bidirectional correction, are
// dropped and counted rather than treated as fatal.
package allocate

import (
	"math"
	"sort"

	"photonstack/internal/models"
)

// PhotonTable holds allocated photons in columnar form, sorted by
// absolute arrival time. The optional Phase and TimeRelPulse columns are
// present only when the corresponding capability flag is set; downstream
// code branches on the flags instead of probing for columns.
type PhotonTable struct {
	AbsTime       []uint64
	FrameStart    []uint64
	LineStart     []uint64
	LineIndex     []int
	TimeRelFrames []uint64
	TimeRelLine   []int64

	Phase        []float64
	TimeRelPulse []int64
	HasPhase     bool
	HasPulse     bool
}

// Len returns the number of allocated photons.
func (t *PhotonTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.AbsTime)
}

// Slice returns a view of rows [from, to). The view shares backing arrays
// with the parent table; neither is mutated after allocation.
func (t *PhotonTable) Slice(from, to int) *PhotonTable {
	out := &PhotonTable{
		AbsTime:       t.AbsTime[from:to],
		FrameStart:    t.FrameStart[from:to],
		LineStart:     t.LineStart[from:to],
		LineIndex:     t.LineIndex[from:to],
		TimeRelFrames: t.TimeRelFrames[from:to],
		TimeRelLine:   t.TimeRelLine[from:to],
		HasPhase:      t.HasPhase,
		HasPulse:      t.HasPulse,
	}
	if t.HasPhase {
		out.Phase = t.Phase[from:to]
	}
	if t.HasPulse {
		out.TimeRelPulse = t.TimeRelPulse[from:to]
	}
	return out
}

// Options control the uneven-line policy of the allocator.
type Options struct {
	// Bidir marks bidirectional scanning: odd lines are traversed in
	// reverse and their photons get mirrored relative times.
	Bidir bool

	// KeepUnidir folds odd-line photons into the previous even line
	// instead of discarding them. Only meaningful when Bidir is false.
	KeepUnidir bool

	// PhaseDelay is the scan-mirror phase jitter in radians. Its sine,
	// scaled by the first line duration, is added to the mirrored
	// relative time of back-scan photons.
	PhaseDelay float64
}

// Result is the outcome of one channel's allocation.
type Result struct {
	Table *PhotonTable

	// DroppedPreMarker counts photons arriving before the first frame or
	// line marker.
	DroppedPreMarker int

	// DroppedBackScan counts odd-line photons discarded in
	// unidirectional mode.
	DroppedBackScan int

	// DroppedNegative counts photons whose relative line time came out
	// negative after correction.
	DroppedNegative int
}

// asof returns the index of the greatest marker start <= t, or -1 when t
// precedes the first marker (right-open interval join).
func asof(markers models.MarkerSeries, t uint64) int {
	return sort.Search(len(markers), func(i int) bool { return markers[i] > t }) - 1
}

// Allocate assigns each photon of one detection channel to its enclosing
// (frame, line) pair and computes the relative-time columns.
func Allocate(photons *models.EventTable, lines, frames models.MarkerSeries, opts Options) (*Result, error) {
	if len(lines) == 0 || len(frames) == 0 {
		return nil, &models.ConfigError{Field: "markers", Reason: "line and frame series must be reconciled before allocation"}
	}

	res := &Result{Table: &PhotonTable{}}
	table := res.Table

	// The phase-jitter term models the back-scan mirror traversal; the
	// second line start stands in for the first line's duration.
	var jitter float64
	if opts.Bidir && len(lines) > 1 {
		jitter = math.Sin(opts.PhaseDelay) * float64(lines[1])
	}

	for _, t := range photons.Times {
		fi := asof(frames, t)
		li := asof(lines, t)
		if fi < 0 || li < 0 {
			res.DroppedPreMarker++
			continue
		}

		uneven := li%2 == 1
		preDrop := int64(t) - int64(lines[li])
		rel := preDrop

		switch {
		case opts.Bidir && uneven:
			// Mirror the relative time against the next line start.
			if li+1 >= len(lines) {
				res.DroppedNegative++
				continue
			}
			rel = int64(lines[li+1]) - int64(t) + int64(jitter)
		case !opts.Bidir && uneven && !opts.KeepUnidir:
			res.DroppedBackScan++
			continue
		case !opts.Bidir && uneven && opts.KeepUnidir:
			// Fold the photon into the previous forward line.
			li--
			rel = int64(t) - int64(lines[li])
		}

		if rel < 0 {
			res.DroppedNegative++
			continue
		}

		table.AbsTime = append(table.AbsTime, t)
		table.FrameStart = append(table.FrameStart, frames[fi])
		table.LineStart = append(table.LineStart, lines[li])
		table.LineIndex = append(table.LineIndex, li)
		table.TimeRelFrames = append(table.TimeRelFrames, t-frames[fi])
		table.TimeRelLine = append(table.TimeRelLine, rel)
	}

	return res, nil
}

// AttachPhase adds the per-photon depth phase column, pre-normalized by
// the caller to [-1, 1]. The slice length must match the table.
func (t *PhotonTable) AttachPhase(phase []float64) error {
	if len(phase) != t.Len() {
		return &models.ConfigError{Field: "phase", Reason: "phase column length does not match photon count"}
	}
	t.Phase = phase
	t.HasPhase = true
	return nil
}

// AttachPulseTimes computes each photon's offset from the preceding laser
// pulse of the validated pulse train. Photons arriving before the first
// pulse get offset zero.
func (t *PhotonTable) AttachPulseTimes(laser models.MarkerSeries) error {
	if len(laser) == 0 {
		return &models.ConfigError{Field: "laser", Reason: "empty laser pulse train"}
	}
	t.TimeRelPulse = make([]int64, t.Len())
	for i, abs := range t.AbsTime {
		pi := asof(laser, abs)
		if pi < 0 {
			t.TimeRelPulse[i] = 0
			continue
		}
		t.TimeRelPulse[i] = int64(abs) - int64(laser[pi])
	}
	t.HasPulse = true
	return nil
}
