package main

import (
	"context"
	"log"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// PrometheusMetrics holds all Prometheus metric collectors for the FFT
// engine, the sample input path, the publishing paths and the host
type PrometheusMetrics struct {
	// Engine metrics
	batchesTotal    prometheus.Counter   // Completed FFT batches
	batchDuration   prometheus.Histogram // Seconds from batch start to done pulse
	computeSteps    prometheus.Counter   // Total internal compute steps
	engineBusy      prometheus.Gauge     // 1 while a batch is in flight
	startsRejected  prometheus.Counter   // Start requests received while busy
	batchesDiscard  prometheus.Counter   // Batches discarded by reset
	dcFilterEnabled prometheus.Gauge     // 1 if the DC-removal filter is active

	// Input metrics
	rtpPacketsTotal   prometheus.Counter // RTP packets received
	rtpErrorsTotal    prometheus.Counter // RTP parse failures
	rtpIgnoredTotal   prometheus.Counter // Packets with a filtered payload type
	samplesTotal      prometheus.Counter // PCM samples accepted
	inputBytesTotal   prometheus.Counter // UDP payload bytes received
	inputGapsTotal    prometheus.Counter // RTP sequence discontinuities

	// Spectrum metrics
	spectrumPeakDB   prometheus.Gauge // Last batch peak power in dB
	spectrumPeakHz   prometheus.Gauge // Last batch peak frequency in Hz
	noiseFloorDB     prometheus.Gauge // Last batch noise floor estimate in dB
	occupancyPercent prometheus.Gauge // Bins above noise floor + 10 dB

	// WebSocket metrics
	wsConnectionsTotal   prometheus.Counter // Connections established
	wsDisconnectsTotal   prometheus.Counter // Connections closed
	wsActiveConnections  prometheus.Gauge   // Currently connected clients
	wsFramesSentTotal    prometheus.Counter // Spectrum frames delivered
	wsFramesDroppedTotal prometheus.Counter // Frames dropped on backpressure
	wsFrameBytesTotal    prometheus.Counter // Encoded frame bytes sent

	// MQTT metrics
	mqttPublishesTotal prometheus.Counter // Successful publishes
	mqttErrorsTotal    prometheus.Counter // Failed publishes

	// System metrics
	cpuPercent     prometheus.Gauge
	memUsedPercent prometheus.Gauge
	goroutines     prometheus.Gauge
	uptimeSeconds  prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all metric collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		batchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_engine_batches_total",
			Help: "Total number of completed FFT batches",
		}),
		batchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensorfront_engine_batch_duration_seconds",
			Help:    "Wall time from batch start to done pulse",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
		}),
		computeSteps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_engine_compute_steps_total",
			Help: "Total internal compute steps executed (4608 per batch)",
		}),
		engineBusy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sensorfront_engine_busy",
			Help: "1 while a batch is in flight, 0 when idle",
		}),
		startsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_engine_starts_rejected_total",
			Help: "Start requests ignored because the engine was busy",
		}),
		batchesDiscard: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_engine_batches_discarded_total",
			Help: "In-flight batches discarded by reset",
		}),
		dcFilterEnabled: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sensorfront_engine_dc_filter_enabled",
			Help: "1 if the DC-removal filter is active",
		}),
		rtpPacketsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_input_rtp_packets_total",
			Help: "Total RTP packets received on the sample port",
		}),
		rtpErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_input_rtp_errors_total",
			Help: "Total RTP packets that failed to parse",
		}),
		rtpIgnoredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_input_rtp_ignored_total",
			Help: "Total RTP packets ignored due to payload type filtering",
		}),
		samplesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_input_samples_total",
			Help: "Total PCM samples accepted into batches",
		}),
		inputBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_input_bytes_total",
			Help: "Total UDP payload bytes received",
		}),
		inputGapsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_input_sequence_gaps_total",
			Help: "RTP sequence number discontinuities observed",
		}),
		spectrumPeakDB: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sensorfront_spectrum_peak_db",
			Help: "Peak power of the most recent spectrum in dB",
		}),
		spectrumPeakHz: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sensorfront_spectrum_peak_hz",
			Help: "Peak frequency of the most recent spectrum in Hz",
		}),
		noiseFloorDB: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sensorfront_spectrum_noise_floor_db",
			Help: "Noise floor estimate of the most recent spectrum in dB",
		}),
		occupancyPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sensorfront_spectrum_occupancy_percent",
			Help: "Percentage of bins more than 10 dB above the noise floor",
		}),
		wsConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_websocket_connections_total",
			Help: "Total WebSocket connections established",
		}),
		wsDisconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_websocket_disconnects_total",
			Help: "Total WebSocket disconnections",
		}),
		wsActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sensorfront_websocket_active_connections",
			Help: "Currently connected WebSocket clients",
		}),
		wsFramesSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_websocket_frames_sent_total",
			Help: "Total spectrum frames delivered to clients",
		}),
		wsFramesDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_websocket_frames_dropped_total",
			Help: "Total spectrum frames dropped due to client backpressure",
		}),
		wsFrameBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_websocket_frame_bytes_total",
			Help: "Total encoded frame bytes sent to clients",
		}),
		mqttPublishesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_mqtt_publishes_total",
			Help: "Total successful MQTT publishes",
		}),
		mqttErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sensorfront_mqtt_errors_total",
			Help: "Total failed MQTT publishes",
		}),
		cpuPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sensorfront_system_cpu_percent",
			Help: "Host CPU utilisation percentage",
		}),
		memUsedPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sensorfront_system_memory_used_percent",
			Help: "Host memory utilisation percentage",
		}),
		goroutines: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sensorfront_system_goroutines",
			Help: "Number of goroutines",
		}),
		uptimeSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sensorfront_system_uptime_seconds",
			Help: "Process uptime in seconds",
		}),
	}

	return pm
}

// StartSystemMetricsUpdater periodically refreshes host-level gauges
// using gopsutil
func (pm *PrometheusMetrics) StartSystemMetricsUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pm.updateSystemMetrics()
			}
		}
	}()

	log.Println("System metrics updater started")
}

func (pm *PrometheusMetrics) updateSystemMetrics() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		pm.cpuPercent.Set(percents[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		pm.memUsedPercent.Set(vm.UsedPercent)
	}
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptimeSeconds.Set(time.Since(StartTime).Seconds())
}

// RecordBatch records a completed FFT batch
func (pm *PrometheusMetrics) RecordBatch(duration time.Duration, steps uint64) {
	pm.batchesTotal.Inc()
	pm.batchDuration.Observe(duration.Seconds())
	pm.computeSteps.Add(float64(steps))
}

// RecordSpectrumSummary publishes the latest batch summary to gauges
func (pm *PrometheusMetrics) RecordSpectrumSummary(s *SpectrumSummary) {
	pm.spectrumPeakDB.Set(s.PeakDB)
	pm.spectrumPeakHz.Set(s.PeakHz)
	pm.noiseFloorDB.Set(s.NoiseFloorDB)
	pm.occupancyPercent.Set(s.OccupancyPercent)
}
