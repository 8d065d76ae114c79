package movie

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"photonstack/internal/models"
	"photonstack/pkg/allocate"
)

// fallbackReprate stands in when no valid laser repetition rate was
// provided but a pulse-time column exists.
const fallbackReprate = 80.3e6

// VolumeSlice is one reconstructed volume's time window together with the
// photon rows it owns. The histogram builder borrows a slice, produces a
// histogram and edge set, and retains no reference afterwards.
type VolumeSlice struct {
	// Number is the volume's ordinal position in the movie.
	Number int

	// Channel is the 1-based detection channel the photons belong to.
	Channel int

	// AbsStartTime is the volume's absolute start in bins.
	AbsStartTime uint64

	// Duration is the span of the volume window in bins.
	Duration uint64

	// Data holds the photons allocated to this volume.
	Data *allocate.PhotonTable

	// Empty marks a volume window that received no photons.
	Empty bool
}

// axisMeta describes one histogram dimension: its value range and the
// number of edges spanning it. Metadata is computed fresh per volume
// since line timing varies slightly volume to volume.
type axisMeta struct {
	start, end float64
	numEdges   int
}

// uniqueLineOffsets returns the sorted distinct line starts of the
// volume's photons, relative to the volume's frame start. A recorded
// frame marker can fall between two line starts, putting the line of the
// frame's first photons before the frame itself; such lines clamp to
// offset zero so the axis still opens at the frame start.
func (v *VolumeSlice) uniqueLineOffsets() []float64 {
	seen := make(map[int64]struct{})
	for i := 0; i < v.Data.Len(); i++ {
		off := int64(v.Data.LineStart[i]) - int64(v.Data.FrameStart[i])
		if off < 0 {
			off = 0
		}
		seen[off] = struct{}{}
	}
	offsets := make([]float64, 0, len(seen))
	for o := range seen {
		offsets = append(offsets, float64(o))
	}
	sort.Float64s(offsets)
	return offsets
}

// lineEdges generates the volume-axis (time) bin edges from the line
// markers observed inside the volume, truncated or extended to exactly
// xPixels+1 strictly increasing values.
func (v *VolumeSlice) lineEdges(xPixels int) ([]float64, error) {
	lines := v.uniqueLineOffsets()

	if len(lines) <= 1 {
		// Single-row volume: synthesize the closing edge one volume
		// duration after the only recorded line.
		fmt.Printf("Warning: volume %d contains a single line event, treating it as a one-row volume.\n", v.Number)
		return []float64{lines[0], lines[0] + float64(v.Duration)}, nil
	}

	if len(lines) < xPixels {
		return nil, &models.InsufficientDataError{
			Volume: v.Number,
			Reason: fmt.Sprintf("not enough line events in volume; only %d were recorded", len(lines)),
		}
	}

	diffs := make([]float64, len(lines)-1)
	floats.SubTo(diffs, lines[1:], lines[:len(lines)-1])
	meanDiff := stat.Mean(diffs, nil)

	edges := make([]float64, xPixels+1)
	copy(edges, lines[:xPixels])
	edges[xPixels] = lines[xPixels-1] + meanDiff
	return edges, nil
}

// yAxisMeta computes the line-phase axis bounds. The axis spans one
// forward-scan line period scaled by the fill fraction; in unidirectional
// mode only half the line period carries forward-scan photons. A volume
// with at most one distinct line degenerates to the full volume duration.
func (v *VolumeSlice) yAxisMeta(acq models.Acquisition, timing models.TimingConstants) axisMeta {
	meta := axisMeta{start: 0, numEdges: acq.YPixels + 1}

	if len(v.uniqueLineOffsets()) <= 1 {
		meta.end = float64(v.Duration)
		return meta
	}

	delta := timing.LineDelta
	if !acq.Bidir {
		delta /= 2
	}
	if acq.FillFrac > 0 {
		meta.end = math.Floor(delta * acq.FillFrac / 100)
	} else {
		meta.end = math.Floor(delta)
	}
	return meta
}

// laserAxisMeta computes the pulse-phase axis bounds. An invalid
// repetition rate falls back to 80.3 MHz with a warning instead of
// failing the run.
func laserAxisMeta(reprate, binwidth float64) axisMeta {
	if reprate <= 0 {
		fmt.Printf("Warning: no laser reprate provided. Assuming 80.3 MHz.\n")
		reprate = fallbackReprate
	}
	laserEnd := math.Ceil(1 / (reprate * binwidth))
	return axisMeta{start: 0, end: laserEnd, numEdges: int(laserEnd) + 1}
}

// histEdges builds the per-axis bin edges of the volume in the fixed axis
// order Volume, Y, Z (iff a phase column exists), Laser (iff a pulse-time
// column exists). Every edge vector must be strictly increasing; a
// degenerate vector is a data error, not silently corrected.
func (v *VolumeSlice) histEdges(acq models.Acquisition, timing models.TimingConstants) ([][]float64, error) {
	volEdges, err := v.lineEdges(acq.XPixels)
	if err != nil {
		return nil, err
	}
	edges := [][]float64{volEdges}

	yMeta := v.yAxisMeta(acq, timing)
	edges = append(edges, linspace(yMeta))

	if v.Data.HasPhase {
		// Phase data is pre-normalized upstream to [-1, 1].
		edges = append(edges, linspace(axisMeta{start: -1, end: 1, numEdges: acq.ZPixels + 1}))
	}

	if v.Data.HasPulse {
		edges = append(edges, linspace(laserAxisMeta(timing.Reprate, timing.Binwidth)))
	}

	for axis, e := range edges {
		if !strictlyIncreasing(e) {
			return nil, fmt.Errorf("degenerate bin edges on axis %d of volume %d", axis, v.Number)
		}
	}
	return edges, nil
}

// linspace fills an evenly spaced edge vector over the axis bounds.
func linspace(m axisMeta) []float64 {
	return floats.Span(make([]float64, m.numEdges), m.start, m.end)
}

func strictlyIncreasing(edges []float64) bool {
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return false
		}
	}
	return true
}

// sampleColumns gathers the per-photon coordinate of each active axis, in
// the same fixed order as histEdges.
func (v *VolumeSlice) sampleColumns() [][]float64 {
	n := v.Data.Len()
	timeRel := make([]float64, n)
	lineRel := make([]float64, n)
	for i := 0; i < n; i++ {
		timeRel[i] = float64(v.Data.TimeRelFrames[i])
		lineRel[i] = float64(v.Data.TimeRelLine[i])
	}
	cols := [][]float64{timeRel, lineRel}

	if v.Data.HasPhase {
		cols = append(cols, v.Data.Phase)
	}
	if v.Data.HasPulse {
		pulse := make([]float64, n)
		for i := 0; i < n; i++ {
			pulse[i] = float64(v.Data.TimeRelPulse[i])
		}
		cols = append(cols, pulse)
	}
	return cols
}

// emptyShape is the declared histogram shape of a volume with no photons:
// the spatial axes always, plus the optional axes active for the run.
func emptyShape(acq models.Acquisition, timing models.TimingConstants, hasPhase, hasPulse bool) []int {
	shape := []int{acq.XPixels, acq.YPixels}
	if hasPhase {
		shape = append(shape, acq.ZPixels)
	}
	if hasPulse {
		meta := laserAxisMeta(timing.Reprate, timing.Binwidth)
		shape = append(shape, meta.numEdges-1)
	}
	return shape
}

// CreateHist builds the volume's multi-dimensional histogram and the edge
// set that generated it. An empty volume returns an all-zero array of the
// declared shape with no edges and no error.
func (v *VolumeSlice) CreateHist(acq models.Acquisition, timing models.TimingConstants) (*Hist, [][]float64, error) {
	if v.Empty {
		return NewZeroHist(emptyShape(acq, timing, v.Data.HasPhase, v.Data.HasPulse)), nil, nil
	}

	edges, err := v.histEdges(acq, timing)
	if err != nil {
		return nil, nil, err
	}

	hist, err := histogramND(v.sampleColumns(), edges)
	if err != nil {
		return nil, nil, fmt.Errorf("histogramming volume %d failed: %w", v.Number, err)
	}
	return hist, edges, nil
}
