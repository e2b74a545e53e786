package main

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/cwsl/sensorfront/fftengine"
)

// dBFloor clamps log conversion of empty bins
const dBFloor = -120.0

// SpectrumSummary describes one processed batch for the status API and
// the MQTT publisher
type SpectrumSummary struct {
	BatchID          string  `json:"batch_id"`
	Timestamp        int64   `json:"timestamp"` // Unix milliseconds
	PeakBin          int     `json:"peak_bin"`
	PeakHz           float64 `json:"peak_hz"`
	PeakDB           float64 `json:"peak_db"`
	NoiseFloorDB     float64 `json:"noise_floor_db"`
	SNRdB            float64 `json:"snr_db"`
	OccupancyPercent float64 `json:"occupancy_percent"`
}

// SpectrumProcessor converts engine output batches into one-sided power
// spectra and batch summaries. Input samples are real PCM, so only bins
// 0..256 carry independent information.
type SpectrumProcessor struct {
	config     *SpectrumConfig
	sampleRate int
	binHz      float64

	power  []float64 // scratch: linear power per bin
	sorted []float64 // scratch: sorted copy for percentiles
}

// SpectrumBins is the number of one-sided spectrum bins
const SpectrumBins = fftengine.FFTSize/2 + 1

// NewSpectrumProcessor creates a spectrum processor for the given input
// sample rate
func NewSpectrumProcessor(config *SpectrumConfig, sampleRate int) *SpectrumProcessor {
	return &SpectrumProcessor{
		config:     config,
		sampleRate: sampleRate,
		binHz:      float64(sampleRate) / float64(fftengine.FFTSize),
		power:      make([]float64, SpectrumBins),
		sorted:     make([]float64, SpectrumBins),
	}
}

// BinBandwidth returns the frequency width of one bin in Hz
func (sp *SpectrumProcessor) BinBandwidth() float64 {
	return sp.binHz
}

// Process converts one batch of engine output (natural order, 512 bins)
// into per-bin power in dB and a batch summary. The returned slice is
// freshly allocated; it is handed off to the frame encoder and clients.
func (sp *SpectrumProcessor) Process(batchID string, results []fftengine.Sample) ([]float32, *SpectrumSummary) {
	db := make([]float32, SpectrumBins)

	for i := 0; i < SpectrumBins; i++ {
		re := float64(results[i].Re) / 32768.0
		im := float64(results[i].Im) / 32768.0
		sp.power[i] = re*re + im*im

		v := dBFloor
		if sp.power[i] > 0 {
			v = 10*math.Log10(sp.power[i]) + sp.config.GainDB
			if v < dBFloor {
				v = dBFloor
			}
		}
		db[i] = float32(v)
	}

	summary := sp.summarize(batchID, db)
	return db, summary
}

// summarize computes the peak, noise floor and occupancy of one spectrum
func (sp *SpectrumProcessor) summarize(batchID string, db []float32) *SpectrumSummary {
	// Noise floor: configured percentile of the bin distribution.
	for i := range db {
		sp.sorted[i] = float64(db[i])
	}
	sort.Float64s(sp.sorted)
	noiseFloor := stat.Quantile(sp.config.NoiseFloorPercentile/100.0, stat.Empirical, sp.sorted, nil)

	// Peak search skips the DC bin.
	peakBin := 1
	for i := 2; i < len(db); i++ {
		if db[i] > db[peakBin] {
			peakBin = i
		}
	}
	peakDB := float64(db[peakBin])

	// Occupancy: bins clearly above the floor.
	occupied := 0
	for _, v := range db {
		if float64(v) > noiseFloor+10 {
			occupied++
		}
	}

	return &SpectrumSummary{
		BatchID:          batchID,
		Timestamp:        time.Now().UnixMilli(),
		PeakBin:          peakBin,
		PeakHz:           sp.refineFrequency(peakBin),
		PeakDB:           peakDB,
		NoiseFloorDB:     noiseFloor,
		SNRdB:            peakDB - noiseFloor,
		OccupancyPercent: 100 * float64(occupied) / float64(len(db)),
	}
}

// refineFrequency interpolates the peak position between bins using the
// neighbouring power values (parabolic fit), giving sub-bin accuracy
func (sp *SpectrumProcessor) refineFrequency(bin int) float64 {
	if bin <= 0 || bin >= SpectrumBins-1 {
		return float64(bin) * sp.binHz
	}

	alpha := sp.power[bin-1]
	beta := sp.power[bin]
	gamma := sp.power[bin+1]

	denom := alpha - 2*beta + gamma
	if denom == 0 {
		return float64(bin) * sp.binHz
	}

	delta := 0.5 * (alpha - gamma) / denom
	if delta < -0.5 || delta > 0.5 {
		delta = 0
	}

	return (float64(bin) + delta) * sp.binHz
}
