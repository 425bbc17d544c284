package factory

import (
	"errors"
	"testing"

	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	rows   []interface{}
	closed bool
}

func (w *recordingWriter) Write(payload interface{}) error {
	w.rows = append(w.rows, payload)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

type countingTask struct {
	out model.Writer
	n   int
}

func (t *countingTask) ProcessRecord(*protocol.Record) error { t.n++; return nil }
func (t *countingTask) Finish() error                        { return t.out.Write(t.n) }
func (t *countingTask) Name() string                         { return "counting" }

var lastWriter *recordingWriter

func init() {
	RegisterWriter("recording", func(config.WriterDef, *config.Config) (model.Writer, error) {
		lastWriter = &recordingWriter{}
		return lastWriter, nil
	})
	RegisterWriter("broken", func(config.WriterDef, *config.Config) (model.Writer, error) {
		return nil, errors.New("no backend")
	})
	RegisterTask("counting", func(_ *config.Config, out model.Writer) (model.Task, error) {
		return &countingTask{out: out}, nil
	})
}

func configWith(defs ...config.WriterDef) *config.Config {
	return &config.Config{Output: config.OutputConfig{Writers: defs}}
}

func TestCreate(t *testing.T) {
	cfg := configWith(
		config.WriterDef{Type: "recording", Enabled: true},
		config.WriterDef{Type: "broken", Enabled: false},
	)
	group, err := Create(cfg, []string{"counting"})
	require.NoError(t, err)
	require.Len(t, group.Tasks, 1)
	require.Len(t, group.Writers, 1)

	task := group.Tasks[0]
	require.NoError(t, task.ProcessRecord(&protocol.Record{}))
	require.NoError(t, task.ProcessRecord(&protocol.Record{}))
	require.NoError(t, task.Finish())
	require.NoError(t, group.Writers.Close())

	assert.Equal(t, []interface{}{2}, lastWriter.rows)
	assert.True(t, lastWriter.closed)
}

func TestCreateErrors(t *testing.T) {
	_, err := Create(configWith(config.WriterDef{Type: "recording", Enabled: true}), []string{"missing"})
	assert.ErrorContains(t, err, "unknown task type")
	assert.True(t, lastWriter.closed)

	_, err = CreateWriters(configWith(config.WriterDef{Type: "carrier-pigeon", Enabled: true}))
	assert.ErrorContains(t, err, "unknown writer type")

	_, err = CreateWriters(configWith(config.WriterDef{Type: "broken", Enabled: true}))
	assert.ErrorContains(t, err, "no backend")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		RegisterWriter("recording", func(config.WriterDef, *config.Config) (model.Writer, error) { return nil, nil })
	})
	assert.Panics(t, func() {
		RegisterTask("counting", func(*config.Config, model.Writer) (model.Task, error) { return nil, nil })
	})
}
