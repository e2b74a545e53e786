package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwsl/sensorfront/fftengine"
)

// Global debug flag
var DebugMode bool

// Global start time for process uptime tracking
var StartTime time.Time

// statusResponse is the /api/status payload
type statusResponse struct {
	Version        string  `json:"version"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	SampleRate     int     `json:"sample_rate"`
	FFTSize        int     `json:"fft_size"`
	BinBandwidthHz float64 `json:"bin_bandwidth_hz"`
	BatchesTotal   uint64  `json:"batches_total"`
	EngineBusy     bool    `json:"engine_busy"`
	Clients        int     `json:"clients"`
	DCRemoval      bool    `json:"dc_removal"`
	MQTTEnabled    bool    `json:"mqtt_enabled"`
}

func main() {
	// Record start time for uptime tracking
	StartTime = time.Now()

	// Parse command line flags
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	// Set global debug mode - check environment variable first, then CLI flag
	DebugMode = *debug
	if debugEnv := os.Getenv("DEBUG"); debugEnv != "" {
		// Environment variable takes precedence
		DebugMode = debugEnv == "true" || debugEnv == "1" || debugEnv == "yes"
	}
	if DebugMode {
		log.Println("Debug mode enabled")
	}

	// Load configuration
	config, err := LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("sensorfront %s starting (%d-point transform, %d Hz input, %.2f Hz/bin)",
		Version, fftengine.FFTSize, config.Input.SampleRate,
		float64(config.Input.SampleRate)/float64(fftengine.FFTSize))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Prometheus metrics
	var metrics *PrometheusMetrics
	if config.Prometheus.Enabled {
		metrics = NewPrometheusMetrics()
		metrics.StartSystemMetricsUpdater(ctx)
		log.Println("Prometheus metrics enabled")
	}

	// MQTT publisher
	var mqttPub *MQTTPublisher
	if config.MQTT.Enabled {
		mqttPub, err = NewMQTTPublisher(&config.MQTT, metrics)
		if err != nil {
			log.Fatalf("Failed to start MQTT publisher: %v", err)
		}
		if config.Prometheus.Enabled {
			mqttPub.StartPublisher(ctx)
		}
		defer mqttPub.Disconnect()
	}

	// WebSocket fan-out hub
	hub := NewSpectrumHub(config.Server, metrics)

	// Processing pipeline
	pipeline := NewPipeline(config, hub, mqttPub, metrics)

	// Sample input
	receiver := NewSampleReceiver(config.Input, metrics)
	if err := receiver.Start(); err != nil {
		log.Fatalf("Failed to start sample receiver: %v", err)
	}
	pipeline.Run(receiver.Batches())

	// HTTP endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statusResponse{
			Version:        Version,
			UptimeSeconds:  time.Since(StartTime).Seconds(),
			SampleRate:     config.Input.SampleRate,
			FFTSize:        fftengine.FFTSize,
			BinBandwidthHz: float64(config.Input.SampleRate) / float64(fftengine.FFTSize),
			BatchesTotal:   pipeline.BatchCount(),
			EngineBusy:     pipeline.Busy(),
			Clients:        hub.ClientCount(),
			DCRemoval:      config.Engine.DCRemoval,
			MQTTEnabled:    config.MQTT.Enabled,
		})
	})
	mux.HandleFunc("/api/spectrum/latest", func(w http.ResponseWriter, r *http.Request) {
		summary := hub.LatestSummary()
		bins := pipeline.LatestBins()
		if summary == nil || bins == nil {
			http.Error(w, "no spectrum data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Summary *SpectrumSummary `json:"summary"`
			BinsDB  []float32        `json:"bins_db"`
		}{summary, bins})
	})
	mux.HandleFunc("/ws", hub.HandleWebSocket)
	if config.Prometheus.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:    config.Server.Listen,
		Handler: mux,
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")

		receiver.Stop()
		pipeline.Stop()
		hub.Shutdown()
		cancel()

		if err := server.Close(); err != nil {
			log.Printf("Error closing server: %v", err)
		}
	}()

	log.Printf("Server listening on %s", config.Server.Listen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}
