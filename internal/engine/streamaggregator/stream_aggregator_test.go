package streamaggregator

import (
	"errors"
	"testing"

	"ZoomSpectra/internal/engine/manager"
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/internal/factory"
	"ZoomSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTask struct{ n int }

func (t *countingTask) ProcessRecord(*protocol.Record) error { t.n++; return nil }
func (t *countingTask) Finish() error                        { return nil }
func (t *countingTask) Name() string                         { return "counting" }

func newTestAggregator(task model.Task) *StreamAggregator {
	group := &factory.TaskGroup{Tasks: []model.Task{task}}
	return &StreamAggregator{manager: manager.NewManagerWithGroup(group, 2, 0)}
}

func TestRecordsAfterStopAreDropped(t *testing.T) {
	task := &countingTask{}
	sa := newTestAggregator(task)
	sa.manager.Start()

	for i := 0; i < 5; i++ {
		sa.handleRecord(&protocol.Record{})
	}
	require.NoError(t, sa.stop(nil))

	// The manager's channel is closed; late records must not reach it.
	sa.handleRecord(&protocol.Record{})
	assert.Equal(t, 5, task.n)
	assert.Equal(t, uint64(5), sa.Received())
}

func TestStopReturnsCause(t *testing.T) {
	sa := newTestAggregator(&countingTask{})
	sa.manager.Start()

	cause := errors.New("subscribe failed")
	assert.ErrorIs(t, sa.stop(cause), cause)
}
