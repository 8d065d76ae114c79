package models

import "testing"

func TestParseChannel(t *testing.T) {
	testCases := []struct {
		name     string
		expected Channel
	}{
		{"PMT1", PMT1},
		{"PMT2", PMT2},
		{"Lines", Lines},
		{"Frames", Frames},
		{"Laser", Laser},
		{"TAG Lens", TAGLens},
		{"Phase", Phase},
	}
	for _, tc := range testCases {
		ch, err := ParseChannel(tc.name)
		if err != nil {
			t.Errorf("ParseChannel(%q) failed: %v", tc.name, err)
			continue
		}
		if ch != tc.expected {
			t.Errorf("ParseChannel(%q): expected %v, got %v", tc.name, tc.expected, ch)
		}
	}

	if _, err := ParseChannel("Oscilloscope"); err == nil {
		t.Error("Expected error for an unknown channel name")
	}
}

func TestEventTable(t *testing.T) {
	var nilTable *EventTable
	if !nilTable.Empty() || nilTable.Len() != 0 {
		t.Error("A nil table must behave as empty")
	}

	table := NewEventTable([]uint64{10, 25, 45})
	if table.First() != 10 || table.Last() != 45 {
		t.Errorf("Expected first 10 and last 45, got %d and %d", table.First(), table.Last())
	}

	diffs := table.Diffs()
	if len(diffs) != 2 || diffs[0] != 15 || diffs[1] != 20 {
		t.Errorf("Expected diffs [15 20], got %v", diffs)
	}
	if got := NewEventTable([]uint64{7}).Diffs(); got != nil {
		t.Errorf("Expected nil diffs for a single event, got %v", got)
	}
}

func TestRawDataDetection(t *testing.T) {
	raw := &RawData{
		PMT1: NewEventTable([]uint64{1, 2}),
		PMT2: NewEventTable([]uint64{3}),
	}
	det := raw.Detection()
	if len(det) != 2 || det[1].Len() != 2 || det[2].Len() != 1 {
		t.Errorf("Expected both detection channels present, got %v", det)
	}

	solo := &RawData{PMT1: NewEventTable([]uint64{1})}
	if det := solo.Detection(); len(det) != 1 {
		t.Errorf("Expected one detection channel, got %d", len(det))
	}

	if err := (&RawData{}).Validate(); err == nil {
		t.Error("Expected validation failure without PMT1 data")
	}
}

func TestMarkerSeriesMonotonic(t *testing.T) {
	if !(MarkerSeries{0, 5, 5, 10}).Monotonic() {
		t.Error("Non-decreasing series must be monotonic")
	}
	if (MarkerSeries{0, 5, 4}).Monotonic() {
		t.Error("Decreasing series must not be monotonic")
	}
	if !(MarkerSeries{}).Monotonic() {
		t.Error("Empty series is trivially monotonic")
	}
}

func TestNewTimingConstants(t *testing.T) {
	tc, err := NewTimingConstants(100, 1000, 80e6, 800e-12, false)
	if err != nil {
		t.Fatalf("NewTimingConstants failed: %v", err)
	}
	if tc.BinsBetweenPulses != 1 {
		t.Errorf("Expected pulse width 1 outside FLIM mode, got %d", tc.BinsBetweenPulses)
	}

	flim, err := NewTimingConstants(100, 1000, 80e6, 800e-12, true)
	if err != nil {
		t.Fatalf("NewTimingConstants failed in FLIM mode: %v", err)
	}
	// ceil(1 / (80e6 * 800e-12)) = ceil(15.625)
	if flim.BinsBetweenPulses != 16 {
		t.Errorf("Expected 16 bins between pulses, got %d", flim.BinsBetweenPulses)
	}

	if _, err := NewTimingConstants(0, 1000, 80e6, 800e-12, false); err == nil {
		t.Error("Expected error for non-positive line delta")
	}
	if _, err := NewTimingConstants(100, 0, 80e6, 800e-12, false); err == nil {
		t.Error("Expected error for zero last event time")
	}
	if _, err := NewTimingConstants(100, 1000, 0, 800e-12, true); err == nil {
		t.Error("Expected error for missing reprate in FLIM mode")
	}
}

func TestNewAcquisition(t *testing.T) {
	valid := Acquisition{
		Binwidth: 800e-12, Reprate: 80e6,
		XPixels: 512, YPixels: 512, ZPixels: 1,
		NumOfLines: 512, NumOfFrames: 1,
		FillFrac: 80, NumOfChannels: 1,
	}
	if _, err := NewAcquisition(valid); err != nil {
		t.Errorf("Valid acquisition rejected: %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*Acquisition)
	}{
		{"ZeroBinwidth", func(a *Acquisition) { a.Binwidth = 0 }},
		{"ZeroPixels", func(a *Acquisition) { a.XPixels = 0 }},
		{"ZeroLines", func(a *Acquisition) { a.NumOfLines = 0 }},
		{"ZeroFrames", func(a *Acquisition) { a.NumOfFrames = 0 }},
		{"FillFracTooLarge", func(a *Acquisition) { a.FillFrac = 101 }},
		{"NoChannels", func(a *Acquisition) { a.NumOfChannels = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := valid
			tc.mutate(&a)
			if _, err := NewAcquisition(a); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
