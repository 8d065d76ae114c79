// Package storage persists reconstructed stacks to disk as FITS files.
// Each volume histogram of the full stack becomes one image HDU written
// incrementally as it is produced; summed stacks are written once at the
// end of the run. HDUs are keyed by EXTNAME ("Full Stack" or
// "Summed Stack") plus CHANNEL and VOLNUM header cards.
package storage

import (
	"fmt"
	"os"

	"github.com/astrogo/fitsio"

	"photonstack/pkg/movie"
)

// FITSWriter implements movie.StackWriter on top of a single FITS file.
type FITSWriter struct {
	f    *os.File
	fits *fitsio.File
}

// NewFITSWriter creates (truncating) the output file at path.
func NewFITSWriter(path string) (*FITSWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	fits, err := fitsio.Create(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create FITS file: %w", err)
	}
	return &FITSWriter{f: f, fits: fits}, nil
}

// WriteVolume appends one volume's histogram as a 16-bit image HDU.
func (w *FITSWriter) WriteVolume(h *movie.Hist, channel, volNum int) error {
	img := fitsio.NewImage(16, h.Shape)
	defer img.Close()

	cards := []fitsio.Card{
		{Name: "EXTNAME", Value: "Full Stack"},
		{Name: "CHANNEL", Value: channel, Comment: "detection channel number"},
		{Name: "VOLNUM", Value: volNum, Comment: "volume ordinal in the movie"},
	}
	if err := img.Header().Append(cards...); err != nil {
		return fmt.Errorf("failed to write volume header: %w", err)
	}
	if err := img.Write(&h.Counts); err != nil {
		return fmt.Errorf("failed to write volume data: %w", err)
	}
	return w.fits.Write(img)
}

// WriteSummed writes one channel's final running sum as a 32-bit image HDU.
func (w *FITSWriter) WriteSummed(s *movie.Summed, channel int) error {
	img := fitsio.NewImage(32, s.Shape)
	defer img.Close()

	cards := []fitsio.Card{
		{Name: "EXTNAME", Value: "Summed Stack"},
		{Name: "CHANNEL", Value: channel, Comment: "detection channel number"},
	}
	if err := img.Header().Append(cards...); err != nil {
		return fmt.Errorf("failed to write summed header: %w", err)
	}
	if err := img.Write(&s.Counts); err != nil {
		return fmt.Errorf("failed to write summed data: %w", err)
	}
	return w.fits.Write(img)
}

// Close flushes and closes the FITS file and its backing file.
func (w *FITSWriter) Close() error {
	if err := w.fits.Close(); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to close FITS file: %w", err)
	}
	return w.f.Close()
}

// Discard is a no-op StackWriter for runs that only keep outputs in
// memory, and for tests.
type Discard struct{}

func (Discard) WriteVolume(*movie.Hist, int, int) error { return nil }
func (Discard) WriteSummed(*movie.Summed, int) error    { return nil }
func (Discard) Close() error                            { return nil }
