package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"photonstack/internal/models"
	"photonstack/pkg/allocate"
	"photonstack/pkg/config"
	"photonstack/pkg/movie"
	"photonstack/pkg/reconcile"
	"photonstack/pkg/storage"
)

func main() {
	// Parse command line arguments
	inputFile := flag.String("input", "", "CSV photon list with channel,timestamp rows")
	configPath := flag.String("config", "photonstack.yaml", "YAML configuration file")
	outputName := flag.String("output", "", "Output FITS filename (overrides config)")
	flag.Parse()

	// Validate inputs
	if *inputFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *outputName != "" {
		cfg.Output.Path = *outputName
	}

	acq, err := cfg.AcquisitionParams()
	if err != nil {
		log.Fatalf("Invalid acquisition parameters: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("PHOTONSTACK - MULTISCALER PHOTON LIST TO IMAGE STACK RECONSTRUCTION")
	fmt.Println("================================")

	startTime := time.Now()

	// Step 1: Load the photon list
	fmt.Println("Step 1: Loading photon list...")
	raw, err := loadPhotonList(*inputFile)
	if err != nil {
		log.Fatalf("Failed to load photon list: %v", err)
	}

	// Step 2: Reconcile the synchronization markers
	fmt.Println("Step 2: Reconciling line and frame markers...")
	rec, err := reconcile.Reconcile(raw, acq)
	if err != nil {
		log.Fatalf("Marker reconciliation failed: %v", err)
	}
	fmt.Printf("Reconciled %d lines and %d frames, line delta %.1f bins, last event at %d bins\n",
		len(rec.Lines), len(rec.Frames), rec.Timing.LineDelta, rec.Timing.LastEventTime)

	// Step 3: Allocate photons to their enclosing frames and lines
	fmt.Println("Step 3: Allocating photons to frames and lines...")
	opts := allocate.Options{
		Bidir:      acq.Bidir,
		KeepUnidir: acq.KeepUnidir,
		PhaseDelay: cfg.Acquisition.PhaseDelay,
	}
	tables := make(map[int]*allocate.PhotonTable)
	for ch, photons := range raw.Detection() {
		res, err := allocate.Allocate(photons, rec.Lines, rec.Frames, opts)
		if err != nil {
			log.Fatalf("Allocation of channel %d failed: %v", ch, err)
		}
		dropped := res.DroppedPreMarker + res.DroppedBackScan + res.DroppedNegative
		if dropped > 0 {
			fmt.Printf("Channel %d: dropped %d of %d photons (%d before first marker, %d back-scan, %d negative)\n",
				ch, dropped, photons.Len(), res.DroppedPreMarker, res.DroppedBackScan, res.DroppedNegative)
		}
		if acq.FLIM && len(rec.Laser) > 0 {
			if err := res.Table.AttachPulseTimes(rec.Laser); err != nil {
				log.Fatalf("Attaching pulse times on channel %d failed: %v", ch, err)
			}
		}
		tables[ch] = res.Table
	}

	// Step 4: Build the movie
	fmt.Println("Step 4: Histogramming volumes...")
	outputs := movie.Outputs{
		Memory: cfg.Output.Memory,
		Stack:  cfg.Output.Stack,
		Summed: cfg.Output.Summed,
	}
	var writer movie.StackWriter
	if outputs.Stack || outputs.Summed {
		w, err := storage.NewFITSWriter(cfg.Output.Path)
		if err != nil {
			log.Fatalf("Failed to open output file: %v", err)
		}
		writer = w
	}
	mov, err := movie.New(tables, rec.Frames, acq, rec.Timing, outputs, writer)
	if err != nil {
		log.Fatalf("Failed to set up movie: %v", err)
	}
	if err := mov.Run(); err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}

	fmt.Printf("Reconstructed %d volumes across %d channels in %v\n",
		mov.NumOfVols(), acq.NumOfChannels, time.Since(startTime))
	printOutputs(cfg, outputs)
}

// printOutputs reports the generated outputs the way the run produced them.
func printOutputs(cfg *config.Config, outputs movie.Outputs) {
	fmt.Println("=======================================================")
	fmt.Println("Outputs:")
	fmt.Println("--------")
	if outputs.Stack {
		fmt.Printf("Full stack written to %q, one HDU per channel and volume under \"Full Stack\".\n", cfg.Output.Path)
	}
	if outputs.Memory {
		fmt.Println("The full data was kept in memory, per channel, as a running sum and an ordered stack.")
	}
	if outputs.Summed {
		fmt.Printf("Summed stack written to %q, one HDU per channel under \"Summed Stack\".\n", cfg.Output.Path)
	}
}

// loadPhotonList reads a minimal CSV stand-in for the multiscaler list
// format: one "channel,timestamp" row per event, timestamps in bin units,
// sorted per channel. Unknown channel names are rejected.
func loadPhotonList(path string) (*models.RawData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	times := make(map[models.Channel][]uint64)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, ",")
		if !ok {
			return nil, fmt.Errorf("line %d: expected channel,timestamp", lineNo)
		}
		ch, err := models.ParseChannel(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		t, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad timestamp: %w", lineNo, err)
		}
		times[ch] = append(times[ch], t)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	raw := &models.RawData{}
	for ch, ts := range times {
		table := models.NewEventTable(ts)
		switch ch {
		case models.PMT1:
			raw.PMT1 = table
		case models.PMT2:
			raw.PMT2 = table
		case models.Lines:
			raw.Lines = table
		case models.Frames:
			raw.Frames = table
		case models.Laser:
			raw.Laser = table
		case models.TAGLens:
			raw.TAGLens = table
		case models.Phase:
			raw.Phase = table
		}
	}
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	return raw, nil
}
