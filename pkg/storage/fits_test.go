package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"

	"photonstack/pkg/movie"
)

// TestFITSWriterRoundTrip writes two volumes and a summed stack, then
// reopens the file and checks the HDU layout and header cards.
func TestFITSWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.fits")

	w, err := NewFITSWriter(path)
	if err != nil {
		t.Fatalf("NewFITSWriter failed: %v", err)
	}

	h := &movie.Hist{Counts: []int16{1, 2, 3, 4, 5, 6}, Shape: []int{2, 3}}
	if err := w.WriteVolume(h, 1, 0); err != nil {
		t.Fatalf("WriteVolume failed: %v", err)
	}
	if err := w.WriteVolume(h, 1, 1); err != nil {
		t.Fatalf("WriteVolume failed: %v", err)
	}

	s := &movie.Summed{Counts: []int32{2, 4, 6, 8, 10, 12}, Shape: []int{2, 3}}
	if err := w.WriteSummed(s, 1); err != nil {
		t.Fatalf("WriteSummed failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopening output: %v", err)
	}
	defer f.Close()

	fits, err := fitsio.Open(f)
	if err != nil {
		t.Fatalf("parsing output: %v", err)
	}
	defer fits.Close()

	hdus := fits.HDUs()
	if len(hdus) != 3 {
		t.Fatalf("Expected 3 HDUs, got %d", len(hdus))
	}

	for i, wantName := range []string{"Full Stack", "Full Stack", "Summed Stack"} {
		card := hdus[i].Header().Get("EXTNAME")
		if card == nil {
			t.Fatalf("HDU %d: missing EXTNAME card", i)
		}
		if card.Value != wantName {
			t.Errorf("HDU %d: expected EXTNAME %q, got %v", i, wantName, card.Value)
		}
	}

	vol := hdus[1].Header().Get("VOLNUM")
	if vol == nil {
		t.Fatal("Second volume HDU missing VOLNUM card")
	}
	if v, ok := vol.Value.(int); !ok || v != 1 {
		t.Errorf("Expected VOLNUM 1, got %v", vol.Value)
	}
}

// TestDiscardWriter is a sanity check of the no-op writer.
func TestDiscardWriter(t *testing.T) {
	var w Discard
	if err := w.WriteVolume(&movie.Hist{Shape: []int{1}}, 1, 0); err != nil {
		t.Errorf("WriteVolume: %v", err)
	}
	if err := w.WriteSummed(&movie.Summed{Shape: []int{1}}, 1); err != nil {
		t.Errorf("WriteSummed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
