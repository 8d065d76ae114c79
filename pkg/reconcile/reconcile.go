// Package reconcile validates the recorded Line and Frame marker streams
// and synthesizes them from timing statistics when they are missing or
// corrupted. It also derives the scalar timing constants (line delta,
// last event time, bins between laser pulses) shared by the rest of the
// reconstruction pipeline.
//
// All functions are pure: input tables are never mutated, reconciled
// marker series are returned as new slices.
package reconcile

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"photonstack/internal/models"
)

const (
	// corruptionLag is the rolling window used when comparing successive
	// marker differences against each other.
	corruptionLag = 10

	// corruptionFraction is the share of flagged differences above which
	// a marker series counts as corrupted.
	corruptionFraction = 0.1

	// LineChangeThreshold is the percent-change threshold for Lines.
	LineChangeThreshold = 0.15

	// FrameChangeThreshold is the percent-change threshold for Frames
	// and other marker series.
	FrameChangeThreshold = 0.05

	// zerothLineTolerance is the maximal offset of the first recorded
	// line from uniform spacing that still earns a synthetic zero line.
	zerothLineTolerance = 0.05
)

// Result holds the reconciled marker series and timing constants for one run.
type Result struct {
	Lines  models.MarkerSeries
	Frames models.MarkerSeries
	Laser  models.MarkerSeries
	Timing models.TimingConstants
}

// Reconcile runs the full marker reconciliation for one acquisition:
// last-event-time derivation, line validation or synthesis, frame
// validation or synthesis, and (in FLIM mode) laser pulse train filtering.
func Reconcile(raw *models.RawData, acq models.Acquisition) (*Result, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	lastEventTime, err := LastEventTime(raw, acq.NumOfLines)
	if err != nil {
		return nil, err
	}

	lines, lineDelta, err := ReconcileLines(raw, acq, lastEventTime)
	if err != nil {
		return nil, err
	}

	frames, err := ReconcileFrames(raw, lines, acq, lastEventTime)
	if err != nil {
		return nil, err
	}

	timing, err := models.NewTimingConstants(lineDelta, lastEventTime, acq.Reprate, acq.Binwidth, acq.FLIM)
	if err != nil {
		return nil, err
	}

	res := &Result{Lines: lines, Frames: frames, Timing: timing}
	if acq.FLIM && !raw.Laser.Empty() {
		res.Laser = ValidateLaser(raw.Laser, acq.Reprate, acq.Binwidth)
	}
	return res, nil
}

// LastEventTime finds the time span of the experiment in bins.
// Priority of the derivation:
//  1. Frames recorded: last frame time plus the mean inter-frame
//     difference (doubled if only one frame exists).
//  2. Lines recorded: extrapolate from the lines-per-frame quotient and
//     remainder.
//  3. Otherwise: the maximal photon timestamp across the PMT channels.
func LastEventTime(raw *models.RawData, linesPerFrame int) (uint64, error) {
	if linesPerFrame < 1 {
		return 0, &models.ConfigError{Field: "numOfLines", Reason: "no lines per frame value received, or value was corrupt"}
	}
	if raw.PMT1.Empty() {
		return 0, &models.ConfigError{Field: "PMT1", Reason: "no PMT1 channel in data"}
	}

	if !raw.Frames.Empty() {
		last := raw.Frames.Last()
		if raw.Frames.Len() == 1 {
			return 2 * last, nil
		}
		frameDiff := stat.Mean(raw.Frames.Diffs(), nil)
		return last + uint64(frameDiff), nil
	}

	if !raw.Lines.Empty() {
		return lastEventTimeFromLines(raw.Lines, linesPerFrame), nil
	}

	// Just PMT data.
	maxTime := raw.PMT1.Last()
	if !raw.PMT2.Empty() && raw.PMT2.Last() > maxTime {
		maxTime = raw.PMT2.Last()
	}
	return maxTime, nil
}

// lastEventTimeFromLines extrapolates the experiment span when only line
// markers were recorded, using the lines-per-frame quotient and remainder.
func lastEventTimeFromLines(lines *models.EventTable, linesPerFrame int) uint64 {
	recorded := lines.Len()
	div := recorded / linesPerFrame
	mod := recorded % linesPerFrame

	switch {
	case recorded > linesPerFrame*(div+1):
		// Excess lines beyond the last started frame: the boundary of the
		// last complete frame plus one frame's span.
		lastComplete := lines.Times[div*linesPerFrame-1]
		frameDiff := lastComplete - lines.Times[(div-1)*linesPerFrame]
		return lastComplete + frameDiff
	case mod == 0:
		// Lines fit exactly into whole frames.
		return lines.Last() + uint64(stat.Mean(lines.Diffs(), nil))
	default:
		// A partial frame was recorded; pad proportionally to the lines
		// that are missing from it.
		missing := linesPerFrame - mod
		lineDiff := stat.Mean(lines.Diffs(), nil)
		return lines.Last() + uint64(float64(missing+1)*lineDiff)
	}
}

// Corrupted reports whether a marker series shows timing corruption:
// more than corruptionFraction of the successive differences change by
// more than threshold relative to the difference corruptionLag samples
// earlier.
func Corrupted(t *models.EventTable, threshold float64) bool {
	diffs := t.Diffs()
	if len(diffs) <= corruptionLag {
		return false
	}
	flagged := 0
	for i := corruptionLag; i < len(diffs); i++ {
		prev := diffs[i-corruptionLag]
		if prev == 0 {
			continue
		}
		if diffs[i]/prev-1 > threshold {
			flagged++
		}
	}
	return float64(flagged)/float64(t.Len()) > corruptionFraction
}

// ReconcileLines applies the line reconciliation policy:
//   - no lines recorded: synthesize a uniform line grid,
//   - lines corrupted and frames recorded: rebuild uniformly on the frames,
//   - lines corrupted and no frames: fail,
//   - lines valid: keep them, prepending a synthetic zero-time line when
//     the first recorded line sits within tolerance of uniform spacing.
//
// Returns the reconciled series and the inter-line spacing in bins.
func ReconcileLines(raw *models.RawData, acq models.Acquisition, lastEventTime uint64) (models.MarkerSeries, float64, error) {
	if raw.Lines.Empty() {
		return synthesizeLines(lastEventTime, acq.NumOfLines, acq.NumOfFrames)
	}

	if Corrupted(raw.Lines, LineChangeThreshold) {
		if raw.Frames.Empty() {
			return nil, 0, &models.CorruptError{
				Series: "Line",
				Reason: "line markers are corrupt and no frame channel exists to rebuild them; rerun without a line channel",
			}
		}
		// Frames act as ground truth for a uniform rebuild.
		return synthesizeLines(lastEventTime, acq.NumOfLines, acq.NumOfFrames)
	}

	lineDelta := stat.Mean(raw.Lines.Diffs(), nil)
	lines := make(models.MarkerSeries, 0, raw.Lines.Len()+1)
	zeroth := math.Abs(float64(raw.Lines.First())-lineDelta) / lineDelta
	if zeroth < zerothLineTolerance && raw.Lines.First() != 0 {
		lines = append(lines, 0)
	}
	lines = append(lines, raw.Lines.Times...)
	return lines, lineDelta, nil
}

// synthesizeLines builds a uniform line grid and its spacing from the
// experiment span and the expected line and frame counts.
func synthesizeLines(lastEventTime uint64, numOfLines, numOfFrames int) (models.MarkerSeries, float64, error) {
	arr, err := CreateLineArray(lastEventTime, numOfLines, numOfFrames)
	if err != nil {
		return nil, 0, err
	}
	lineDelta := float64(lastEventTime) / float64(numOfLines*numOfFrames)
	return arr, lineDelta, nil
}

// CreateLineArray returns uniformly spaced start-of-line times covering
// [0, lastEventTime), one per expected line of every expected frame.
func CreateLineArray(lastEventTime uint64, numOfLines, numOfFrames int) (models.MarkerSeries, error) {
	if numOfLines <= 0 || numOfFrames <= 0 {
		return nil, &models.ConfigError{Field: "numOfLines", Reason: "number of lines and frames has to be positive"}
	}
	if lastEventTime == 0 {
		return nil, &models.ConfigError{Field: "lastEventTime", Reason: "last event time is zero or negative"}
	}

	total := numOfLines * numOfFrames
	step := float64(lastEventTime) / float64(total)
	arr := make(models.MarkerSeries, total)
	for i := range arr {
		arr[i] = uint64(float64(i) * step)
	}
	return arr, nil
}

// ReconcileFrames returns the frame marker series for the run. Recorded
// frames are kept with a zero-time frame prepended; otherwise frames are
// derived from the reconciled line starts.
func ReconcileFrames(raw *models.RawData, lines models.MarkerSeries, acq models.Acquisition, lastEventTime uint64) (models.MarkerSeries, error) {
	if !raw.Frames.Empty() {
		frames := make(models.MarkerSeries, 0, raw.Frames.Len()+1)
		if raw.Frames.First() != 0 {
			frames = append(frames, 0)
		}
		frames = append(frames, raw.Frames.Times...)
		return frames, nil
	}
	return CreateFrameArray(lines, lastEventTime, acq.NumOfLines, acq.Bidir)
}

// CreateFrameArray derives start-of-frame times from line starts by taking
// every lines-per-frame'th line. In unidirectional mode only every second
// line starts a forward scan, so the stride doubles. When fewer lines than
// a single frame were recorded the frame grid falls back to uniform
// spacing over the experiment span.
func CreateFrameArray(lines models.MarkerSeries, lastEventTime uint64, pixels int, bidir bool) (models.MarkerSeries, error) {
	if len(lines) == 0 || pixels <= 0 {
		return nil, &models.ConfigError{Field: "lines", Reason: "wrong input detected"}
	}
	if lastEventTime == 0 {
		return nil, &models.ConfigError{Field: "lastEventTime", Reason: "last event time is zero or negative"}
	}

	src := lines
	if !bidir {
		src = make(models.MarkerSeries, 0, (len(lines)+1)/2)
		for i := 0; i < len(lines); i += 2 {
			src = append(src, lines[i])
		}
	}

	recorded := len(src)
	numFrames := recorded / pixels
	if numFrames < 1 {
		numFrames = 1
	}

	if recorded < pixels {
		// Too few lines for even one frame: uniform grid, end point excluded.
		step := float64(lastEventTime) / float64(numFrames)
		frames := make(models.MarkerSeries, numFrames)
		for i := range frames {
			frames[i] = uint64(float64(i) * step)
		}
		return frames, nil
	}

	excess := recorded % pixels
	frames := make(models.MarkerSeries, 0, numFrames)
	for i := 0; i < recorded-excess; i += pixels {
		frames = append(frames, src[i])
	}
	return frames, nil
}

// ValidateLaser builds an orderly pulse train from the raw laser channel.
// Pulses whose distance to the previous pulse falls outside one bin of the
// theoretical inter-pulse interval are discarded; the first pulse is
// always retained.
func ValidateLaser(pulses *models.EventTable, reprate, binwidth float64) models.MarkerSeries {
	interval := 1 / (reprate * binwidth)
	lo, hi := math.Floor(interval), math.Ceil(interval)

	kept := make(models.MarkerSeries, 0, pulses.Len())
	for i := 1; i < pulses.Len(); i++ {
		diff := float64(pulses.Times[i]) - float64(pulses.Times[i-1])
		if diff >= lo && diff <= hi {
			kept = append(kept, pulses.Times[i])
		}
	}

	// The ratio counts only pulses that survived the interval filter; the
	// first pulse is re-added afterwards regardless.
	if float64(len(kept)) < 0.9*float64(pulses.Len()) {
		fmt.Printf("Warning: more than 10%% of pulses were filtered due to bad timings. Make sure the laser input is fine.\n")
	}
	return append(models.MarkerSeries{pulses.First()}, kept...)
}
