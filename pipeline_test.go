package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/sensorfront/fftengine"
)

func pipelineConfig() *Config {
	return &Config{
		Input:  InputConfig{Listen: "127.0.0.1:5004", SampleRate: 48000},
		Server: ServerConfig{Listen: ":8080", MaxClients: 4, SendBuffer: 8, WriteTimeoutSec: 10},
		Spectrum: SpectrumConfig{
			NoiseFloorPercentile: 10,
			MinPeakSNRDB:         6,
		},
	}
}

func toneBatch(bin int, amplitude float64) *SampleBatch {
	batch := &SampleBatch{}
	for n := 0; n < fftengine.FFTSize; n++ {
		phase := 2 * math.Pi * float64(bin) * float64(n) / float64(fftengine.FFTSize)
		batch.Samples[n].Re = int16(amplitude * 32767 * math.Cos(phase))
	}
	return batch
}

func TestPipelineProcessesToneBatch(t *testing.T) {
	p := NewPipeline(pipelineConfig(), nil, nil, nil)

	p.processBatch(toneBatch(32, 0.5))

	assert.Equal(t, uint64(1), p.BatchCount())
	bins := p.LatestBins()
	require.Len(t, bins, SpectrumBins)

	peak := 1
	for i := 2; i < len(bins); i++ {
		if bins[i] > bins[peak] {
			peak = i
		}
	}
	assert.Equal(t, 32, peak)
}

func TestPipelineBroadcastsToHub(t *testing.T) {
	cfg := pipelineConfig()
	hub := NewSpectrumHub(cfg.Server, nil)
	p := NewPipeline(cfg, hub, nil, nil)

	p.processBatch(toneBatch(17, 0.25))

	summary := hub.LatestSummary()
	require.NotNil(t, summary)
	assert.Equal(t, 17, summary.PeakBin)
	assert.Greater(t, summary.SNRdB, 20.0)
}

func TestPipelineDCFilterRemovesOffset(t *testing.T) {
	cfg := pipelineConfig()
	cfg.Engine.DCRemoval = true
	p := NewPipeline(cfg, nil, nil, nil)
	require.NotNil(t, p.dc)

	// Constant offset plus a tone. Without the filter the DC bin would
	// match the tone; one batch of filtering leaves the step transient,
	// so expect several dB of separation rather than full rejection.
	batch := toneBatch(50, 0.25)
	for n := range batch.Samples {
		v := int32(batch.Samples[n].Re) + 4096
		if v > 32767 {
			v = 32767
		}
		batch.Samples[n].Re = int16(v)
	}

	p.processBatch(batch)
	bins := p.LatestBins()
	require.NotNil(t, bins)
	assert.Greater(t, bins[50], bins[0]+5,
		"tone should stand clear of the residual DC transient")
}

func TestPipelineEngineStateAfterBatch(t *testing.T) {
	p := NewPipeline(pipelineConfig(), nil, nil, nil)

	p.processBatch(toneBatch(8, 0.5))
	p.processBatch(toneBatch(9, 0.5))

	assert.Equal(t, uint64(2), p.BatchCount())
	assert.False(t, p.engine.Busy(), "engine must return to idle between batches")
	assert.Equal(t, uint64(2*fftengine.ComputeStepsPerBatch), p.engine.ComputeSteps())
}
