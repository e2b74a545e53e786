package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MQTTPublisher manages MQTT publishing of metrics and batch summaries
type MQTTPublisher struct {
	client  mqtt.Client
	config  *MQTTConfig
	metrics *PrometheusMetrics
}

// MetricPayload represents a metric message for MQTT
type MetricPayload struct {
	Timestamp int64              `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// generateClientID creates a random client ID for MQTT connection
func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "sensorfront_" + hex.EncodeToString(bytes)
}

// loadTLSConfig loads TLS configuration from files
func loadTLSConfig(tlsConfig MQTTTLSConfig) (*tls.Config, error) {
	if !tlsConfig.Enabled {
		return nil, nil
	}

	config := &tls.Config{}

	// Load CA certificate if provided
	if tlsConfig.CACert != "" {
		caCert, err := os.ReadFile(tlsConfig.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		config.RootCAs = caCertPool
	}

	// Load client certificate and key if provided
	if tlsConfig.ClientCert != "" && tlsConfig.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.ClientCert, tlsConfig.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

// NewMQTTPublisher creates a new MQTT publisher and connects to the broker
func NewMQTTPublisher(config *MQTTConfig, metrics *PrometheusMetrics) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// TLS configuration if enabled
	if config.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	// Set connection handlers
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		log.Println("MQTT: Attempting to reconnect...")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Printf("MQTT: Successfully connected to broker: %s", config.Broker)

	return &MQTTPublisher{
		client:  client,
		config:  config,
		metrics: metrics,
	}, nil
}

// StartPublisher publishes aggregate metrics at the configured interval
// until the context is cancelled
func (mp *MQTTPublisher) StartPublisher(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Duration(mp.config.IntervalSec) * time.Second)
		defer ticker.Stop()

		log.Printf("MQTT: Metrics publisher started with %d second interval", mp.config.IntervalSec)

		// Publish immediately on start
		mp.publishAllMetrics()

		for {
			select {
			case <-ctx.Done():
				log.Println("MQTT: Metrics publisher stopped")
				return
			case <-ticker.C:
				mp.publishAllMetrics()
			}
		}
	}()
}

// publishAllMetrics gathers the Prometheus registry and publishes one
// message per metric category
func (mp *MQTTPublisher) publishAllMetrics() {
	timestamp := time.Now().Unix()

	metricFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		log.Printf("MQTT ERROR: Failed to gather Prometheus metrics: %v", err)
		return
	}

	// Group metrics by subsystem based on metric name prefix
	categories := map[string]map[string]float64{
		"engine":    make(map[string]float64),
		"input":     make(map[string]float64),
		"spectrum":  make(map[string]float64),
		"websocket": make(map[string]float64),
		"system":    make(map[string]float64),
	}

	for _, mf := range metricFamilies {
		metricName := mf.GetName()
		if !strings.HasPrefix(metricName, "sensorfront_") {
			continue
		}
		short := strings.TrimPrefix(metricName, "sensorfront_")

		for _, m := range mf.GetMetric() {
			value, ok := extractMetricValue(m)
			if !ok {
				continue
			}

			category := "system"
			switch {
			case strings.HasPrefix(short, "engine_") || strings.HasPrefix(short, "batch"):
				category = "engine"
			case strings.HasPrefix(short, "rtp_") || strings.HasPrefix(short, "input_") || strings.HasPrefix(short, "samples_"):
				category = "input"
			case strings.HasPrefix(short, "spectrum_") || strings.HasPrefix(short, "noise_") || strings.HasPrefix(short, "occupancy"):
				category = "spectrum"
			case strings.HasPrefix(short, "websocket_"):
				category = "websocket"
			}
			categories[category][short] = value
		}
	}

	for category, values := range categories {
		topic := fmt.Sprintf("%s/metrics/%s", mp.config.TopicPrefix, category)
		mp.publish(topic, MetricPayload{
			Timestamp: timestamp,
			Metrics:   values,
		})
	}
}

// extractMetricValue extracts the numeric value from a Prometheus metric
func extractMetricValue(m *dto.Metric) (float64, bool) {
	if m.GetGauge() != nil {
		return m.GetGauge().GetValue(), true
	}
	if m.GetCounter() != nil {
		return m.GetCounter().GetValue(), true
	}
	if m.GetHistogram() != nil {
		return m.GetHistogram().GetSampleSum(), true
	}
	if m.GetSummary() != nil {
		return m.GetSummary().GetSampleSum(), true
	}
	return 0, false
}

func (mp *MQTTPublisher) publish(topic string, payload MetricPayload) {
	// Skip if no metrics to publish
	if len(payload.Metrics) == 0 {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT ERROR: Failed to marshal payload for topic %s: %v", topic, err)
		return
	}

	token := mp.client.Publish(topic, 0, false, data)
	if token.Wait() && token.Error() != nil {
		log.Printf("MQTT ERROR: Failed to publish to topic %s: %v", topic, token.Error())
		if mp.metrics != nil {
			mp.metrics.mqttErrorsTotal.Inc()
		}
		return
	}
	if mp.metrics != nil {
		mp.metrics.mqttPublishesTotal.Inc()
	}
}

// PublishSummary publishes one batch summary as JSON
func (mp *MQTTPublisher) PublishSummary(summary *SpectrumSummary) {
	data, err := json.Marshal(summary)
	if err != nil {
		log.Printf("MQTT ERROR: Failed to marshal spectrum summary: %v", err)
		return
	}

	topic := fmt.Sprintf("%s/spectrum/summary", mp.config.TopicPrefix)
	token := mp.client.Publish(topic, 0, false, data)
	if token.Wait() && token.Error() != nil {
		log.Printf("MQTT ERROR: Failed to publish to topic %s: %v", topic, token.Error())
		if mp.metrics != nil {
			mp.metrics.mqttErrorsTotal.Inc()
		}
		return
	}
	if mp.metrics != nil {
		mp.metrics.mqttPublishesTotal.Inc()
	}
}

// Disconnect closes the MQTT connection
func (mp *MQTTPublisher) Disconnect() {
	if mp.client != nil && mp.client.IsConnected() {
		mp.client.Disconnect(250)
		log.Println("MQTT: Disconnected from broker")
	}
}
