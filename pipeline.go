package main

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cwsl/sensorfront/fftengine"
)

// Pipeline drives sample batches through the FFT engine and fans the
// resulting spectra out to subscribers
type Pipeline struct {
	cfg     *Config
	engine  *fftengine.Engine
	dc      *fftengine.DCFilter
	proc    *SpectrumProcessor
	hub     *SpectrumHub
	mqtt    *MQTTPublisher
	metrics *PrometheusMetrics

	batchSeq uint64
	busy     atomic.Bool

	latestBins []float32
	latestMu   sync.RWMutex

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPipeline wires the processing chain together
func NewPipeline(cfg *Config, hub *SpectrumHub, mqttPub *MQTTPublisher, metrics *PrometheusMetrics) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		engine:   fftengine.NewEngine(),
		proc:     NewSpectrumProcessor(&cfg.Spectrum, cfg.Input.SampleRate),
		hub:      hub,
		mqtt:     mqttPub,
		metrics:  metrics,
		stopChan: make(chan struct{}),
	}

	if cfg.Engine.DCRemoval {
		p.dc = fftengine.NewDCFilter(cfg.Engine.DCCoeffQ15())
	}
	if metrics != nil {
		if p.dc != nil {
			metrics.dcFilterEnabled.Set(1)
		} else {
			metrics.dcFilterEnabled.Set(0)
		}
	}

	return p
}

// Run consumes batches until the channel closes or Stop is called
func (p *Pipeline) Run(batches <-chan *SampleBatch) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("Pipeline started (%d-point transform, %d Hz input)",
			fftengine.FFTSize, p.cfg.Input.SampleRate)

		for {
			select {
			case <-p.stopChan:
				return
			case batch, ok := <-batches:
				if !ok {
					return
				}
				p.processBatch(batch)
			}
		}
	}()
}

// Stop halts the pipeline and waits for the in-flight batch
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.wg.Wait()
	})
}

// LatestBins returns the most recent spectrum, or nil before the first
// batch completes
func (p *Pipeline) LatestBins() []float32 {
	p.latestMu.RLock()
	defer p.latestMu.RUnlock()
	return p.latestBins
}

// Busy reports whether a batch is currently in flight
func (p *Pipeline) Busy() bool {
	return p.busy.Load()
}

// BatchCount returns the number of completed batches
func (p *Pipeline) BatchCount() uint64 {
	p.latestMu.RLock()
	defer p.latestMu.RUnlock()
	return p.batchSeq
}

func (p *Pipeline) processBatch(batch *SampleBatch) {
	p.busy.Store(true)
	defer p.busy.Store(false)

	start := time.Now()
	stepsBefore := p.engine.ComputeSteps()

	if p.dc != nil {
		for i := range batch.Samples {
			batch.Samples[i].Re = p.dc.Process(batch.Samples[i].Re)
		}
	}

	if !p.engine.Start() {
		// Should not happen: batches run strictly one at a time
		if p.metrics != nil {
			p.metrics.startsRejected.Inc()
		}
		log.Printf("Engine busy at batch start; resetting")
		p.engine.Reset()
		if p.metrics != nil {
			p.metrics.batchesDiscard.Inc()
		}
		if !p.engine.Start() {
			return
		}
	}
	if p.metrics != nil {
		p.metrics.engineBusy.Set(1)
	}

	for i := range batch.Samples {
		p.engine.Load(batch.Samples[i].Re, batch.Samples[i].Im, uint16(i))
	}

	results := make([]fftengine.Sample, fftengine.FFTSize)
	for i := range results {
		r, ok := p.engine.ReadResult()
		if !ok {
			log.Printf("Engine result read failed at bin %d; discarding batch", i)
			p.engine.Reset()
			if p.metrics != nil {
				p.metrics.batchesDiscard.Inc()
				p.metrics.engineBusy.Set(0)
			}
			return
		}
		results[i] = fftengine.Sample{Re: r.Re, Im: r.Im}
	}

	if !p.engine.TakeDone() {
		log.Printf("Engine finished without a done pulse; discarding batch")
		if p.metrics != nil {
			p.metrics.batchesDiscard.Inc()
			p.metrics.engineBusy.Set(0)
		}
		return
	}

	batchID := uuid.New().String()
	bins, summary := p.proc.Process(batchID, results)

	p.latestMu.Lock()
	p.batchSeq++
	seq := p.batchSeq
	p.latestBins = bins
	p.latestMu.Unlock()

	if p.metrics != nil {
		p.metrics.engineBusy.Set(0)
		p.metrics.RecordBatch(time.Since(start), p.engine.ComputeSteps()-stepsBefore)
		p.metrics.RecordSpectrumSummary(summary)
	}

	if DebugMode {
		log.Printf("Batch %d (%s): peak %.1f dB at %.1f Hz, noise floor %.1f dB, SNR %.1f dB",
			seq, batchID[:8], summary.PeakDB, summary.PeakHz, summary.NoiseFloorDB, summary.SNRdB)
	}

	if p.hub != nil {
		p.hub.Broadcast(bins, summary, seq, p.cfg.Input.SampleRate)
	}
	if p.mqtt != nil {
		p.mqtt.PublishSummary(summary)
	}
}
