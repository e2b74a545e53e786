package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
input:
  listen: "239.10.10.1:5004"
server:
  listen: ":8080"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 48000, cfg.Input.SampleRate)
	assert.Equal(t, 10.0, cfg.Spectrum.NoiseFloorPercentile)
	assert.Equal(t, 6.0, cfg.Spectrum.MinPeakSNRDB)
	assert.Equal(t, 64, cfg.Server.MaxClients)
	assert.Equal(t, 8, cfg.Server.SendBuffer)
	assert.Equal(t, 10, cfg.Server.WriteTimeoutSec)
	assert.Equal(t, "sensorfront", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 30, cfg.MQTT.IntervalSec)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfig(t, "input: [this is not a mapping")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidateRejectsMissingInput(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":8080"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "input.listen")
}

func TestValidateRejectsBadValues(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Input:  InputConfig{Listen: "127.0.0.1:5004", SampleRate: 48000},
			Server: ServerConfig{Listen: ":8080", MaxClients: 64},
			Spectrum: SpectrumConfig{
				NoiseFloorPercentile: 10,
				MinPeakSNRDB:         6,
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"low sample rate", func(c *Config) { c.Input.SampleRate = 4000 }, "sample_rate"},
		{"dc coefficient out of range", func(c *Config) { c.Engine.DCCoefficient = 1.5 }, "dc_coefficient"},
		{"percentile out of range", func(c *Config) { c.Spectrum.NoiseFloorPercentile = 150 }, "noise_floor_percentile"},
		{"zero max clients", func(c *Config) { c.Server.MaxClients = 0 }, "max_clients"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestDCCoeffQ15(t *testing.T) {
	ec := EngineConfig{}
	assert.Equal(t, int16(0), ec.DCCoeffQ15(), "zero selects the filter default")

	ec.DCCoefficient = 0.995
	assert.Equal(t, int16(32604), ec.DCCoeffQ15())

	ec.DCCoefficient = 0.5
	assert.Equal(t, int16(16384), ec.DCCoeffQ15())
}
