package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Len(t, cfg.Zoom.ServerNets, len(DefaultServerNets))
	assert.Equal(t, 64, cfg.RTP.WindowSize)
	assert.Equal(t, []uint8{98, 99, 110, 112, 113}, cfg.RTP.PayloadTypes)
	assert.Equal(t, uint32(3000), cfg.Meetings.DedupBuffer)

	window, err := cfg.StunWindowSeconds()
	require.NoError(t, err)
	assert.Equal(t, uint32(300), window)

	exp, err := cfg.ExpirationSeconds()
	require.NoError(t, err)
	assert.Equal(t, uint32(3600), exp)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "log: [\n"},
		{"window not power of two", "rtp:\n  window_size: 48\n"},
		{"window too small", "rtp:\n  window_size: 4\n"},
		{"bad stun window", "zoom:\n  stun_window: soon\n"},
		{"unknown api source", "api:\n  source: influx\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.Equal(t, "snapshot", cfg.API.Source)
}

func TestRepositoryConfig(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)
	assert.Len(t, cfg.Output.Writers, 4)
	assert.Equal(t, "zoom.records", cfg.Probe.Subject)
}

func TestCSVFiles(t *testing.T) {
	cfg := &Config{}
	files := cfg.CSVFiles()
	files["flows"] = "flows.csv"

	require.Len(t, cfg.Output.Writers, 1)
	assert.True(t, cfg.Output.Writers[0].Enabled)
	assert.Equal(t, "flows.csv", cfg.CSVFiles()["flows"])
}
