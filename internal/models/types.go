package models

import (
	"fmt"
	"math"
)

// Channel identifies one of the logical input channels recorded by the
// multiscaler. Detection channels (PMT1, PMT2) carry photon events;
// the remaining channels carry synchronization markers.
type Channel int

const (
	PMT1 Channel = iota
	PMT2
	Lines
	Frames
	Laser
	TAGLens
	Phase
)

// channelNames maps each channel to the name used by the acquisition
// software in its list files.
var channelNames = map[Channel]string{
	PMT1:    "PMT1",
	PMT2:    "PMT2",
	Lines:   "Lines",
	Frames:  "Frames",
	Laser:   "Laser",
	TAGLens: "TAG Lens",
	Phase:   "Phase",
}

// String returns the acquisition-software name of the channel.
func (c Channel) String() string {
	if name, ok := channelNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Channel(%d)", int(c))
}

// ParseChannel maps a channel name from a list file to its Channel value.
// Unknown names are rejected rather than silently indexed.
func ParseChannel(name string) (Channel, error) {
	for ch, n := range channelNames {
		if n == name {
			return ch, nil
		}
	}
	return 0, &ConfigError{Field: "channel", Reason: fmt.Sprintf("unknown channel name %q", name)}
}

// EventTable is the ordered sequence of absolute event timestamps
// (in multiscaler bin units) recorded on one channel. Tables are
// treated as immutable once built; operations that modify marker
// streams return new tables.
type EventTable struct {
	Times []uint64
}

// NewEventTable wraps timestamps in a table. The caller guarantees the
// timestamps are sorted, as the multiscaler emits them in order.
func NewEventTable(times []uint64) *EventTable {
	return &EventTable{Times: times}
}

// Len returns the number of events in the table.
func (t *EventTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Times)
}

// Empty reports whether the table is absent or has no events.
func (t *EventTable) Empty() bool {
	return t.Len() == 0
}

// First returns the first timestamp in the table.
func (t *EventTable) First() uint64 {
	return t.Times[0]
}

// Last returns the final timestamp in the table.
func (t *EventTable) Last() uint64 {
	return t.Times[len(t.Times)-1]
}

// Diffs returns the successive differences of the timestamps as floats,
// one element shorter than the table.
func (t *EventTable) Diffs() []float64 {
	if t.Len() < 2 {
		return nil
	}
	diffs := make([]float64, t.Len()-1)
	for i := 1; i < t.Len(); i++ {
		diffs[i-1] = float64(t.Times[i]) - float64(t.Times[i-1])
	}
	return diffs
}

// RawData is the fixed set of per-channel event tables handed over by the
// list-file parser. Absent channels are nil. It replaces the parser's
// loose name-keyed mapping with one field per known channel.
type RawData struct {
	PMT1    *EventTable
	PMT2    *EventTable
	Lines   *EventTable
	Frames  *EventTable
	Laser   *EventTable
	TAGLens *EventTable
	Phase   *EventTable
}

// Detection returns the photon tables of the present detection channels,
// keyed by 1-based channel number.
func (r *RawData) Detection() map[int]*EventTable {
	out := make(map[int]*EventTable)
	if !r.PMT1.Empty() {
		out[1] = r.PMT1
	}
	if !r.PMT2.Empty() {
		out[2] = r.PMT2
	}
	return out
}

// Validate checks that the raw data can enter the pipeline at all.
func (r *RawData) Validate() error {
	if r.PMT1.Empty() {
		return &ConfigError{Field: "PMT1", Reason: "no PMT1 channel in data"}
	}
	return nil
}

// MarkerSeries is a strictly-ordered sequence of absolute marker start
// times (line starts or frame starts) produced by reconciliation.
type MarkerSeries []uint64

// Monotonic reports whether the series is non-decreasing, which every
// reconciled series must be.
func (m MarkerSeries) Monotonic() bool {
	for i := 1; i < len(m); i++ {
		if m[i] < m[i-1] {
			return false
		}
	}
	return true
}

// TimingConstants are the scalar timing parameters derived once per run
// during reconciliation and shared read-only by the downstream stages.
type TimingConstants struct {
	// LineDelta is the number of bins between consecutive line starts.
	LineDelta float64

	// LastEventTime is the number of bins spanning the whole experiment.
	LastEventTime uint64

	// BinsBetweenPulses is the histogram width of the laser axis in
	// time-correlated (FLIM) mode, 1 otherwise.
	BinsBetweenPulses int

	// Reprate is the laser repetition rate in Hz.
	Reprate float64

	// Binwidth is the real-time duration of one bin in seconds.
	Binwidth float64
}

// NewTimingConstants validates and freezes the derived timing scalars.
func NewTimingConstants(lineDelta float64, lastEventTime uint64, reprate, binwidth float64, flim bool) (TimingConstants, error) {
	if lineDelta <= 0 {
		return TimingConstants{}, &ConfigError{Field: "lineDelta", Reason: "line delta must be positive"}
	}
	if lastEventTime == 0 {
		return TimingConstants{}, &ConfigError{Field: "lastEventTime", Reason: "last event time is zero"}
	}
	if binwidth <= 0 {
		return TimingConstants{}, &ConfigError{Field: "binwidth", Reason: "binwidth must be positive"}
	}
	tc := TimingConstants{
		LineDelta:         lineDelta,
		LastEventTime:     lastEventTime,
		BinsBetweenPulses: 1,
		Reprate:           reprate,
		Binwidth:          binwidth,
	}
	if flim {
		if reprate <= 0 {
			return TimingConstants{}, &ConfigError{Field: "reprate", Reason: "reprate must be positive in FLIM mode"}
		}
		tc.BinsBetweenPulses = int(math.Ceil(1 / (reprate * binwidth)))
	}
	return tc, nil
}

// Acquisition is the validated set of experiment scalars supplied by the
// caller (set by the acquisition configuration, not parsed here).
type Acquisition struct {
	Binwidth      float64
	Reprate       float64
	XPixels       int
	YPixels       int
	ZPixels       int
	NumOfLines    int
	NumOfFrames   int
	Bidir         bool
	FillFrac      float64
	NumOfChannels int
	UseSweeps     bool
	Censor        bool
	FLIM          bool
	KeepUnidir    bool
}

// NewAcquisition validates the scalar set at construction, so that
// malformed configurations fail before any reconciliation begins.
func NewAcquisition(a Acquisition) (Acquisition, error) {
	if a.Binwidth <= 0 {
		return Acquisition{}, &ConfigError{Field: "binwidth", Reason: "must be positive"}
	}
	if a.XPixels < 1 || a.YPixels < 1 || a.ZPixels < 1 {
		return Acquisition{}, &ConfigError{Field: "pixels", Reason: "pixel counts must be at least 1"}
	}
	if a.NumOfLines < 1 {
		return Acquisition{}, &ConfigError{Field: "numOfLines", Reason: "no number of lines received"}
	}
	if a.NumOfFrames < 1 {
		return Acquisition{}, &ConfigError{Field: "numOfFrames", Reason: "no number of frames received"}
	}
	if a.FillFrac < 0 || a.FillFrac > 100 {
		return Acquisition{}, &ConfigError{Field: "fillFrac", Reason: "fill fraction must be within 0-100"}
	}
	if a.NumOfChannels < 1 {
		return Acquisition{}, &ConfigError{Field: "numOfChannels", Reason: "must be at least 1"}
	}
	return a, nil
}

// ConfigError reports a missing or out-of-range configuration scalar.
// It is fatal and raised before any histogramming begins.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Field, e.Reason)
}

// CorruptError reports an unreconcilable marker series. There is no
// fallback because the downstream geometry would be meaningless.
type CorruptError struct {
	Series string
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%s data was corrupt: %s", e.Series, e.Reason)
}

// InsufficientDataError reports a volume that cannot be sized correctly,
// e.g. fewer recorded line boundaries than pixels.
type InsufficientDataError struct {
	Volume int
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("not enough data in volume number %d: %s", e.Volume, e.Reason)
}
