// Package streamaggregator runs record tasks over records received from NATS.
package streamaggregator

import (
	"context"
	"sync"

	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/engine/manager"
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/internal/probe"

	log "github.com/sirupsen/logrus"
)

// StreamAggregator consumes records from NATS and uses a manager.Manager to process them.
type StreamAggregator struct {
	cfg     *config.Config
	sub     *probe.Subscriber
	manager *manager.Manager

	mu      sync.Mutex
	stopped bool
}

// NewStreamAggregator creates the manager for taskTypes. Connecting happens in Run.
func NewStreamAggregator(cfg *config.Config, taskTypes ...string) (*StreamAggregator, error) {
	mgr, err := manager.NewManager(cfg, taskTypes...)
	if err != nil {
		return nil, err
	}
	return &StreamAggregator{cfg: cfg, manager: mgr}, nil
}

// Run subscribes to the record subject and processes records until the publisher
// ends the stream or ctx is cancelled. It returns the error of the manager.
func (sa *StreamAggregator) Run(ctx context.Context) error {
	sub, err := probe.NewSubscriber(sa.cfg.Probe)
	if err != nil {
		return err
	}
	sa.sub = sub

	sa.manager.Start()
	if err := sub.Start(sa.handleRecord); err != nil {
		sub.Close()
		return sa.stop(err)
	}

	select {
	case <-sub.Done():
		log.Println("StreamAggregator received end of stream")
	case <-ctx.Done():
		log.Println("StreamAggregator interrupted")
	}
	sub.Close()
	return sa.stop(nil)
}

func (sa *StreamAggregator) stop(cause error) error {
	sa.mu.Lock()
	sa.stopped = true
	sa.mu.Unlock()
	if err := sa.manager.Stop(); err != nil {
		return err
	}
	return cause
}

// handleRecord passes a record to the manager's channel. Records arriving after stop
// are dropped.
func (sa *StreamAggregator) handleRecord(rec *protocol.Record) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	if sa.stopped {
		return
	}
	sa.manager.InputChannel() <- rec
}

// Received returns the number of records handed to the tasks.
func (sa *StreamAggregator) Received() uint64 { return sa.manager.Received() }
