package movie

import (
	"errors"
	"testing"

	"photonstack/internal/models"
	"photonstack/pkg/allocate"
)

func testAcq(t *testing.T, a models.Acquisition) models.Acquisition {
	t.Helper()
	acq, err := models.NewAcquisition(a)
	if err != nil {
		t.Fatalf("invalid acquisition: %v", err)
	}
	return acq
}

func testTiming(t *testing.T, lineDelta float64, lastEventTime uint64) models.TimingConstants {
	t.Helper()
	timing, err := models.NewTimingConstants(lineDelta, lastEventTime, 80e6, 800e-12, false)
	if err != nil {
		t.Fatalf("invalid timing constants: %v", err)
	}
	return timing
}

// gridVolume builds one volume with photons spread over numLines lines of
// spacing lineDelta, photonsPerLine photons per line.
func gridVolume(numLines int, lineDelta uint64, photonsPerLine int) *VolumeSlice {
	table := &allocate.PhotonTable{}
	for li := 0; li < numLines; li++ {
		lineStart := uint64(li) * lineDelta
		for p := 0; p < photonsPerLine; p++ {
			t := lineStart + uint64(p)*lineDelta/uint64(photonsPerLine+1)
			table.AbsTime = append(table.AbsTime, t)
			table.FrameStart = append(table.FrameStart, 0)
			table.LineStart = append(table.LineStart, lineStart)
			table.LineIndex = append(table.LineIndex, li)
			table.TimeRelFrames = append(table.TimeRelFrames, t)
			table.TimeRelLine = append(table.TimeRelLine, int64(t-lineStart))
		}
	}
	return &VolumeSlice{
		Number:       0,
		Channel:      1,
		AbsStartTime: 0,
		Duration:     uint64(numLines) * lineDelta,
		Data:         table,
	}
}

// TestLineEdges checks the volume-axis edge construction: one edge per
// pixel plus a mean-spaced closing edge.
func TestLineEdges(t *testing.T) {
	vol := gridVolume(10, 100, 3)

	edges, err := vol.lineEdges(10)
	if err != nil {
		t.Fatalf("lineEdges failed: %v", err)
	}
	if len(edges) != 11 {
		t.Fatalf("Expected 11 edges, got %d", len(edges))
	}
	for i := 0; i < 10; i++ {
		if edges[i] != float64(i*100) {
			t.Errorf("Edge %d: expected %d, got %f", i, i*100, edges[i])
		}
	}
	if edges[10] != 1000 {
		t.Errorf("Expected closing edge 1000, got %f", edges[10])
	}
}

// TestLineEdgesFrameMarkerBetweenLines: a recorded frame marker landing
// between two line starts joins the frame's first photons to the line
// preceding the frame. The negative line offset must clamp to zero
// instead of wrapping, keeping the volume-axis edges finite and every
// photon binned.
func TestLineEdgesFrameMarkerBetweenLines(t *testing.T) {
	// Frame starts at 55, between the line starts 50 and 60.
	table := &allocate.PhotonTable{
		AbsTime:       []uint64{57, 62, 64},
		FrameStart:    []uint64{55, 55, 55},
		LineStart:     []uint64{50, 60, 60},
		LineIndex:     []int{5, 6, 6},
		TimeRelFrames: []uint64{2, 7, 9},
		TimeRelLine:   []int64{7, 2, 4},
	}
	vol := &VolumeSlice{Number: 1, Channel: 1, AbsStartTime: 55, Duration: 50, Data: table}

	offsets := vol.uniqueLineOffsets()
	if len(offsets) != 2 || offsets[0] != 0 || offsets[1] != 5 {
		t.Fatalf("Expected clamped offsets [0 5], got %v", offsets)
	}

	edges, err := vol.lineEdges(2)
	if err != nil {
		t.Fatalf("lineEdges failed: %v", err)
	}
	expected := []float64{0, 5, 10}
	for i, want := range expected {
		if edges[i] != want {
			t.Fatalf("Expected edges %v, got %v", expected, edges)
		}
	}

	acq := testAcq(t, models.Acquisition{
		Binwidth: 800e-12, Reprate: 80e6,
		XPixels: 2, YPixels: 2, ZPixels: 1,
		NumOfLines: 2, NumOfFrames: 1,
		Bidir: true, FillFrac: 100, NumOfChannels: 1,
	})
	timing := testTiming(t, 10, 150)

	hist, _, err := vol.CreateHist(acq, timing)
	if err != nil {
		t.Fatalf("CreateHist failed: %v", err)
	}
	if hist.Sum() != table.Len() {
		t.Errorf("Expected all %d photons binned, got %d", table.Len(), hist.Sum())
	}
}

// TestLineEdgesInsufficientData fails a volume with fewer distinct lines
// than pixels.
func TestLineEdgesInsufficientData(t *testing.T) {
	vol := gridVolume(3, 100, 2)

	var insufficientErr *models.InsufficientDataError
	_, err := vol.lineEdges(10)
	if !errors.As(err, &insufficientErr) {
		t.Errorf("Expected InsufficientDataError, got %v", err)
	}
}

// TestSingleLineVolume degenerates to a one-row volume spanning its full
// duration instead of failing.
func TestSingleLineVolume(t *testing.T) {
	vol := gridVolume(1, 100, 5)
	acq := testAcq(t, models.Acquisition{
		Binwidth: 800e-12, Reprate: 80e6,
		XPixels: 10, YPixels: 10, ZPixels: 1,
		NumOfLines: 10, NumOfFrames: 1,
		Bidir: true, FillFrac: 100, NumOfChannels: 1,
	})
	timing := testTiming(t, 100, 1000)

	hist, edges, err := vol.CreateHist(acq, timing)
	if err != nil {
		t.Fatalf("CreateHist failed: %v", err)
	}
	if hist.Shape[0] != 1 {
		t.Errorf("Expected a single volume-axis row, got shape %v", hist.Shape)
	}
	if hist.Sum() != 5 {
		t.Errorf("Expected all 5 photons binned, got %d", hist.Sum())
	}
	if len(edges) != 2 {
		t.Errorf("Expected 2 active axes, got %d", len(edges))
	}
}

// TestCreateHistEmptyVolume returns an all-zero histogram of the declared
// shape with no edges and no error.
func TestCreateHistEmptyVolume(t *testing.T) {
	acq := testAcq(t, models.Acquisition{
		Binwidth: 800e-12, Reprate: 80e6,
		XPixels: 8, YPixels: 4, ZPixels: 1,
		NumOfLines: 8, NumOfFrames: 1,
		Bidir: true, FillFrac: 100, NumOfChannels: 1,
	})
	timing := testTiming(t, 100, 1000)

	vol := &VolumeSlice{Number: 3, Channel: 1, Duration: 800, Data: &allocate.PhotonTable{}, Empty: true}
	hist, edges, err := vol.CreateHist(acq, timing)
	if err != nil {
		t.Fatalf("CreateHist failed on an empty volume: %v", err)
	}
	if edges != nil {
		t.Error("Expected no edges for an empty volume")
	}
	if len(hist.Shape) != 2 || hist.Shape[0] != 8 || hist.Shape[1] != 4 {
		t.Errorf("Expected shape [8 4], got %v", hist.Shape)
	}
	if hist.Sum() != 0 {
		t.Errorf("Expected zero counts, got %d", hist.Sum())
	}
}

// TestCreateHistConservation: every in-range photon lands in exactly one
// bin, so the histogram total matches the photon count.
func TestCreateHistConservation(t *testing.T) {
	vol := gridVolume(10, 100, 4)
	acq := testAcq(t, models.Acquisition{
		Binwidth: 800e-12, Reprate: 80e6,
		XPixels: 10, YPixels: 10, ZPixels: 1,
		NumOfLines: 10, NumOfFrames: 1,
		Bidir: true, FillFrac: 100, NumOfChannels: 1,
	})
	timing := testTiming(t, 100, 1000)

	hist, edges, err := vol.CreateHist(acq, timing)
	if err != nil {
		t.Fatalf("CreateHist failed: %v", err)
	}
	if hist.Sum() != vol.Data.Len() {
		t.Errorf("Expected %d photons binned, got %d", vol.Data.Len(), hist.Sum())
	}
	if len(edges) != 2 {
		t.Errorf("Expected 2 active axes without phase or pulse columns, got %d", len(edges))
	}
	if hist.Shape[0] != acq.XPixels || hist.Shape[1] != acq.YPixels {
		t.Errorf("Expected shape [%d %d], got %v", acq.XPixels, acq.YPixels, hist.Shape)
	}
}

// TestCreateHistOptionalAxes activates the depth and pulse axes through
// the photon table's capability flags.
func TestCreateHistOptionalAxes(t *testing.T) {
	vol := gridVolume(10, 100, 2)
	n := vol.Data.Len()

	phase := make([]float64, n)
	for i := range phase {
		phase[i] = -1 + 2*float64(i)/float64(n)
	}
	if err := vol.Data.AttachPhase(phase); err != nil {
		t.Fatalf("AttachPhase failed: %v", err)
	}
	// Pulse offsets inside the theoretical interval for 100 MHz at 1 ns.
	laser := make(models.MarkerSeries, 110)
	for i := range laser {
		laser[i] = uint64(i * 10)
	}
	if err := vol.Data.AttachPulseTimes(laser); err != nil {
		t.Fatalf("AttachPulseTimes failed: %v", err)
	}

	acq := testAcq(t, models.Acquisition{
		Binwidth: 1e-9, Reprate: 1e8,
		XPixels: 10, YPixels: 10, ZPixels: 4,
		NumOfLines: 10, NumOfFrames: 1,
		Bidir: true, FillFrac: 100, NumOfChannels: 1, FLIM: true,
	})
	timing, err := models.NewTimingConstants(100, 1000, 1e8, 1e-9, true)
	if err != nil {
		t.Fatalf("NewTimingConstants failed: %v", err)
	}

	hist, edges, err := vol.CreateHist(acq, timing)
	if err != nil {
		t.Fatalf("CreateHist failed: %v", err)
	}
	if len(edges) != 4 {
		t.Fatalf("Expected 4 active axes, got %d", len(edges))
	}
	expectedShape := []int{10, 10, 4, 10}
	for i, want := range expectedShape {
		if hist.Shape[i] != want {
			t.Errorf("Axis %d: expected %d bins, got %d (shape %v)", i, want, hist.Shape[i], hist.Shape)
		}
	}
	if hist.Sum() != n {
		t.Errorf("Expected %d photons binned, got %d", n, hist.Sum())
	}
}
