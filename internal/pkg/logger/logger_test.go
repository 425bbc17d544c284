package logger

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZoomSpectra/internal/config"
)

func TestSetup(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	require.NoError(t, Setup(config.LogConfig{Level: "debug", Format: "json"}))
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	assert.Error(t, Setup(config.LogConfig{Level: "loud"}))
	assert.Error(t, Setup(config.LogConfig{Level: "info", Format: "xml"}))
}
