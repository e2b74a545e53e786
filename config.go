package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Input      InputConfig      `yaml:"input"`
	Engine     EngineConfig     `yaml:"engine"`
	Spectrum   SpectrumConfig   `yaml:"spectrum"`
	Server     ServerConfig     `yaml:"server"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InputConfig contains sample input settings (RTP/UDP, the front-end's
// sample port)
type InputConfig struct {
	Listen      string `yaml:"listen"`       // UDP address, multicast or unicast (e.g. "239.10.10.1:5004")
	Interface   string `yaml:"interface"`    // Network interface for multicast join (empty = default)
	SampleRate  int    `yaml:"sample_rate"`  // Nominal input sample rate in Hz (carried in frames)
	PayloadType uint8  `yaml:"payload_type"` // RTP payload type to accept (0 = accept any)
}

// EngineConfig contains FFT engine front-end settings
type EngineConfig struct {
	DCRemoval     bool    `yaml:"dc_removal"`     // Enable the DC-removal filter ahead of the engine
	DCCoefficient float64 `yaml:"dc_coefficient"` // Pole coefficient R in (0,1); 0 = default 0.995
}

// SpectrumConfig contains spectrum post-processing settings
type SpectrumConfig struct {
	GainDB               float64 `yaml:"gain_db"`                // Gain adjustment in dB applied to all spectrum data
	NoiseFloorPercentile float64 `yaml:"noise_floor_percentile"` // Percentile used as the noise floor estimate (default: 10)
	MinPeakSNRDB         float64 `yaml:"min_peak_snr_db"`        // Minimum SNR in dB for a reported peak (default: 6)
}

// ServerConfig contains HTTP/WebSocket server settings
type ServerConfig struct {
	Listen          string `yaml:"listen"`            // HTTP listen address (e.g. ":8080")
	MaxClients      int    `yaml:"max_clients"`       // Maximum concurrent WebSocket clients
	SendBuffer      int    `yaml:"send_buffer"`       // Per-client frame queue depth (default: 8)
	UseCompression  bool   `yaml:"use_compression"`   // zstd-compress binary spectrum frames
	WriteTimeoutSec int    `yaml:"write_timeout_sec"` // Per-message WebSocket write deadline (default: 10)
}

// MQTTConfig contains MQTT publishing settings
type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Broker      string        `yaml:"broker"` // e.g. "tcp://localhost:1883"
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"` // default: "sensorfront"
	IntervalSec int           `yaml:"interval_sec"` // metrics publish interval (default: 30)
	TLS         MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig contains MQTT TLS settings
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// PrometheusConfig contains metrics settings
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads and parses the YAML configuration file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills in defaults for unset optional fields
func (c *Config) applyDefaults() {
	if c.Input.SampleRate == 0 {
		c.Input.SampleRate = 48000
	}
	if c.Spectrum.NoiseFloorPercentile == 0 {
		c.Spectrum.NoiseFloorPercentile = 10
	}
	if c.Spectrum.MinPeakSNRDB == 0 {
		c.Spectrum.MinPeakSNRDB = 6
	}
	if c.Server.MaxClients == 0 {
		c.Server.MaxClients = 64
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = 8
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 10
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "sensorfront"
	}
	if c.MQTT.IntervalSec == 0 {
		c.MQTT.IntervalSec = 30
	}
}

// Validate checks the configuration for required fields and ranges
func (c *Config) Validate() error {
	if c.Input.Listen == "" {
		return fmt.Errorf("input.listen is required")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Input.SampleRate < 8000 {
		return fmt.Errorf("input.sample_rate must be at least 8000")
	}
	if c.Engine.DCCoefficient < 0 || c.Engine.DCCoefficient >= 1 {
		return fmt.Errorf("engine.dc_coefficient must be in [0, 1)")
	}
	if c.Spectrum.NoiseFloorPercentile <= 0 || c.Spectrum.NoiseFloorPercentile >= 100 {
		return fmt.Errorf("spectrum.noise_floor_percentile must be in (0, 100)")
	}
	if c.Server.MaxClients < 1 {
		return fmt.Errorf("server.max_clients must be at least 1")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// DCCoeffQ15 converts the configured pole coefficient to Q15, or 0 to
// select the filter default
func (ec *EngineConfig) DCCoeffQ15() int16 {
	if ec.DCCoefficient == 0 {
		return 0
	}
	return int16(ec.DCCoefficient * 32768)
}
