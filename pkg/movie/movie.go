// Package movie reconstructs per-channel image stacks from allocated
// photon tables. It partitions each channel's photons into volume windows,
// histograms every volume over the active axes, and accumulates the
// results into the requested output forms: an in-memory running sum and
// ordered stack per channel, an incrementally persisted full stack, or a
// persisted summed stack.
package movie

import (
	"fmt"

	"photonstack/internal/models"
	"photonstack/pkg/allocate"
)

// Outputs selects which output forms a run materializes. At least one
// should be requested; a run with none emits a warning and builds nothing.
type Outputs struct {
	// Memory keeps the running sum and ordered stack per channel in memory.
	Memory bool

	// Stack persists each volume's histogram incrementally as it is built.
	Stack bool

	// Summed persists only the final running sum per channel.
	Summed bool
}

func (o Outputs) none() bool {
	return !o.Memory && !o.Stack && !o.Summed
}

// StackWriter is the external persistence collaborator for the Stack and
// Summed output kinds.
type StackWriter interface {
	// WriteVolume persists one volume's histogram under its channel.
	WriteVolume(h *Hist, channel, volNum int) error

	// WriteSummed persists a channel's final running sum.
	WriteSummed(s *Summed, channel int) error

	// Close releases the underlying resources.
	Close() error
}

// Summed is a channel's running sum over all its volume histograms.
// Counts accumulate in 32 bits so long recordings cannot overflow the
// 16-bit per-volume counts.
type Summed struct {
	Counts []int32
	Shape  []int
}

// Add accumulates one volume histogram into the running sum.
func (s *Summed) Add(h *Hist) error {
	if s.Counts == nil {
		s.Counts = make([]int32, len(h.Counts))
		s.Shape = append([]int(nil), h.Shape...)
	}
	if len(s.Counts) != len(h.Counts) {
		return fmt.Errorf("volume histogram shape %v does not match accumulated shape %v", h.Shape, s.Shape)
	}
	for i, c := range h.Counts {
		s.Counts[i] += int32(c)
	}
	return nil
}

// Stacked is a channel's ordered stack of volume histograms combined into
// one array, with the volume index as the leading dimension.
type Stacked struct {
	Counts []int16
	Shape  []int
}

// Movie drives the full channels-by-volumes reconstruction. Channels are
// processed in order and volumes in order within each channel, so at most
// one volume histogram buffer is in flight and any emitted stack is
// monotonic in volume number.
type Movie struct {
	acq     models.Acquisition
	timing  models.TimingConstants
	photons map[int]*allocate.PhotonTable
	times   []uint64
	outputs Outputs
	writer  StackWriter
	censor  CensorPolicy

	summedMem  map[int]*Summed
	stackDecks map[int][]*Hist
	stacked    map[int]*Stacked
	summedFile map[int]*Summed

	flaggedBins int
}

// New creates a Movie over the allocated per-channel photon tables.
// frames is the reconciled frame marker series, used only when no photons
// were allocated at all. writer may be nil when neither the Stack nor the
// Summed output kind is requested.
func New(photons map[int]*allocate.PhotonTable, frames models.MarkerSeries, acq models.Acquisition, timing models.TimingConstants, outputs Outputs, writer StackWriter) (*Movie, error) {
	if (outputs.Stack || outputs.Summed) && writer == nil {
		return nil, &models.ConfigError{Field: "outputs", Reason: "stack or summed output requested without a writer"}
	}
	censor := CensorOff
	if acq.Censor {
		censor = CensorFlag
	}
	return &Movie{
		acq:     acq,
		timing:  timing,
		photons: photons,
		times:   VolumeTimes(photons, frames),
		outputs: outputs,
		writer:  writer,
		censor:  censor,
	}, nil
}

// NumOfVols returns the number of reconstructed volumes.
func (m *Movie) NumOfVols() int {
	return len(m.times) - 1
}

// VolumeTimes returns the volume boundary list, one closing boundary past
// the last volume start.
func (m *Movie) VolumeTimes() []uint64 {
	return m.times
}

// Volumes returns a fresh single-pass generator over one channel's
// volumes. Channels are numbered from 1.
func (m *Movie) Volumes(channel int) *VolumeGenerator {
	table := m.photons[channel]
	if table == nil {
		table = &allocate.PhotonTable{}
	}
	return NewVolumeGenerator(table, m.times, channel)
}

// handler is one output form's per-volume hook.
type handler func(h *Hist, channel, volNum int) error

// finalizer is one output form's end-of-run hook.
type finalizer func() error

// determineOutputs assembles the hook lists for the requested output
// kinds. Data is generated once per volume and fanned out to every hook.
func (m *Movie) determineOutputs() (during []handler, end []finalizer) {
	if m.outputs.Memory {
		m.summedMem = make(map[int]*Summed)
		m.stackDecks = make(map[int][]*Hist)
		for ch := 1; ch <= m.acq.NumOfChannels; ch++ {
			m.summedMem[ch] = &Summed{}
			m.stackDecks[ch] = nil
		}
		during = append(during, m.createMemoryOutput)
		end = append(end, m.convertDequeToArr)
	}

	if m.outputs.Stack {
		during = append(during, m.saveStackIncr)
	}

	if m.outputs.Summed {
		m.summedFile = make(map[int]*Summed)
		for ch := 1; ch <= m.acq.NumOfChannels; ch++ {
			m.summedFile[ch] = &Summed{}
		}
		during = append(during, m.appendSummedData)
		end = append(end, m.saveSummedFile)
	}
	return during, end
}

// Run executes the reconstruction across all channels and volumes and
// finalizes the requested outputs. A failed volume histogram aborts the
// whole run; a partially populated stack with a silent gap would violate
// its ordering contract.
func (m *Movie) Run() error {
	if m.outputs.none() {
		fmt.Printf("Warning: no outputs requested. Data is still accessible through the allocated photon tables.\n")
		return nil
	}

	during, end := m.determineOutputs()

	for ch := 1; ch <= m.acq.NumOfChannels; ch++ {
		gen := m.Volumes(ch)
		for {
			vol, ok := gen.Next()
			if !ok {
				break
			}
			hist, _, err := vol.CreateHist(m.acq, m.timing)
			if err != nil {
				return fmt.Errorf("channel %d: %w", ch, err)
			}
			if m.censor == CensorFlag {
				m.flaggedBins += len(FlaggedBins(hist))
			}
			for _, h := range during {
				if err := h(hist, ch, vol.Number); err != nil {
					return fmt.Errorf("output handling for channel %d volume %d failed: %w", ch, vol.Number, err)
				}
			}
		}
	}

	for _, f := range end {
		if err := f(); err != nil {
			return fmt.Errorf("output finalization failed: %w", err)
		}
	}

	// The writer outlives every finalizer: the summed output writes
	// through it after the incremental stack finished.
	if m.writer != nil {
		if err := m.writer.Close(); err != nil {
			return fmt.Errorf("closing the stack writer failed: %w", err)
		}
	}

	if m.censor == CensorFlag && m.flaggedBins > 0 {
		fmt.Printf("Warning: %d bins exceeded one count per pulse window; counts were left uncorrected.\n", m.flaggedBins)
	}
	return nil
}

// createMemoryOutput appends the volume to the channel's in-memory stack
// and accumulates it into the channel's running sum.
func (m *Movie) createMemoryOutput(h *Hist, channel, volNum int) error {
	m.stackDecks[channel] = append(m.stackDecks[channel], h)
	return m.summedMem[channel].Add(h)
}

// saveStackIncr persists the volume immediately through the writer.
func (m *Movie) saveStackIncr(h *Hist, channel, volNum int) error {
	return m.writer.WriteVolume(h, channel, volNum)
}

// appendSummedData accumulates the volume into the to-file running sum.
func (m *Movie) appendSummedData(h *Hist, channel, volNum int) error {
	return m.summedFile[channel].Add(h)
}

// convertDequeToArr combines each channel's collected histograms into a
// single array with the volume index as an extra leading dimension.
func (m *Movie) convertDequeToArr() error {
	m.stacked = make(map[int]*Stacked)
	for ch, deck := range m.stackDecks {
		if len(deck) == 0 {
			continue
		}
		per := len(deck[0].Counts)
		st := &Stacked{
			Counts: make([]int16, 0, per*len(deck)),
			Shape:  append([]int{len(deck)}, deck[0].Shape...),
		}
		for i, h := range deck {
			if !h.sameShape(deck[0]) {
				return fmt.Errorf("volume %d of channel %d has shape %v, expected %v", i, ch, h.Shape, deck[0].Shape)
			}
			st.Counts = append(st.Counts, h.Counts...)
		}
		m.stacked[ch] = st
	}
	m.stackDecks = nil
	return nil
}

// saveSummedFile persists every channel's final running sum.
func (m *Movie) saveSummedFile() error {
	for ch := 1; ch <= m.acq.NumOfChannels; ch++ {
		if err := m.writer.WriteSummed(m.summedFile[ch], ch); err != nil {
			return err
		}
	}
	return nil
}

// Summed returns a channel's in-memory running sum, or nil when the
// memory output was not requested.
func (m *Movie) Summed(channel int) *Summed {
	return m.summedMem[channel]
}

// Stack returns a channel's finalized stack, or nil before Run completes
// or when the memory output was not requested.
func (m *Movie) Stack(channel int) *Stacked {
	return m.stacked[channel]
}

// PhotonsPerPulse estimates the detected photon count per laser pulse for
// one channel, a quick sanity figure for the acquisition.
func (m *Movie) PhotonsPerPulse(channel int) float64 {
	maxTime := float64(m.times[len(m.times)-1]) * m.timing.Binwidth
	numOfPulses := maxTime * m.timing.Reprate
	if numOfPulses <= 0 {
		return 0
	}
	return float64(m.photons[channel].Len()) / numOfPulses
}
