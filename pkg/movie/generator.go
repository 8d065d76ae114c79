package movie

import (
	"sort"

	"photonstack/internal/models"
	"photonstack/pkg/allocate"
)

// VolumeTimes derives the ordered list of volume start boundaries from the
// allocated photon tables: the sorted unique frame starts that received
// photons on any channel, plus one synthetic closing boundary. With more
// than one volume the closing gap is the median inter-volume difference;
// with a single volume it is the largest frame-relative photon time.
// When no photons were allocated at all, the reconciled frame series
// stands in.
func VolumeTimes(tables map[int]*allocate.PhotonTable, frames models.MarkerSeries) []uint64 {
	seen := make(map[uint64]struct{})
	maxRel := uint64(0)
	for _, t := range tables {
		for i := 0; i < t.Len(); i++ {
			seen[t.FrameStart[i]] = struct{}{}
			if t.TimeRelFrames[i] > maxRel {
				maxRel = t.TimeRelFrames[i]
			}
		}
	}

	var times []uint64
	if len(seen) == 0 {
		if len(frames) == 0 {
			return nil
		}
		times = append(times, frames...)
	} else {
		times = make([]uint64, 0, len(seen))
		for t := range seen {
			times = append(times, t)
		}
		sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	}

	var closingGap uint64
	if len(times) > 1 {
		diffs := make([]float64, len(times)-1)
		for i := 1; i < len(times); i++ {
			diffs[i-1] = float64(times[i] - times[i-1])
		}
		closingGap = uint64(median(diffs))
	} else {
		closingGap = maxRel
	}

	return append(times, times[len(times)-1]+closingGap)
}

// median calculates the median value of a slice of float64 values
func median(values []float64) float64 {
	// Create a copy to avoid modifying the original
	valuesCopy := make([]float64, len(values))
	copy(valuesCopy, values)

	// Sort the values
	sort.Float64s(valuesCopy)

	// Calculate median
	n := len(valuesCopy)
	if n == 0 {
		return 0
	}

	if n%2 == 0 {
		return (valuesCopy[n/2-1] + valuesCopy[n/2]) / 2
	}

	return valuesCopy[n/2]
}

// VolumeGenerator yields one channel's photons volume by volume. It is a
// single-pass cursor over the channel's allocated table; a fresh generator
// is created per traversal, so iteration carries no hidden shared state.
// Empty volumes are yielded as marked placeholders so downstream
// accumulators keep the correct volume ordering and count.
type VolumeGenerator struct {
	table   *allocate.PhotonTable
	times   []uint64
	channel int
	idx     int
	cursor  int
}

// NewVolumeGenerator creates a generator over the given channel table and
// volume boundary list (as produced by VolumeTimes).
func NewVolumeGenerator(table *allocate.PhotonTable, times []uint64, channel int) *VolumeGenerator {
	return &VolumeGenerator{table: table, times: times, channel: channel}
}

// NumOfVols returns the number of volumes the generator will yield.
func (g *VolumeGenerator) NumOfVols() int {
	return len(g.times) - 1
}

// Next yields the next volume slice, or ok=false after the last volume.
// Photons are consumed in a single forward pass: each volume owns the
// contiguous run of rows whose frame start falls inside its window.
func (g *VolumeGenerator) Next() (*VolumeSlice, bool) {
	if g.idx >= len(g.times)-1 {
		return nil, false
	}
	start := g.times[g.idx]
	end := g.times[g.idx+1]

	from := g.cursor
	for g.cursor < g.table.Len() && g.table.FrameStart[g.cursor] < end {
		g.cursor++
	}

	vol := &VolumeSlice{
		Number:       g.idx,
		Channel:      g.channel,
		AbsStartTime: start,
		Duration:     end - start,
		Data:         g.table.Slice(from, g.cursor),
		Empty:        g.cursor == from,
	}
	g.idx++
	return vol, true
}
