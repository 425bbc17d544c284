package manager

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"ZoomSpectra/internal/config"
	_ "ZoomSpectra/internal/engine/impl/meetings" // Registers the meetings task
	_ "ZoomSpectra/internal/engine/impl/rtp"      // Registers the rtp task
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/internal/factory"
	_ "ZoomSpectra/internal/probe"    // Registers the nats summary writer
	_ "ZoomSpectra/internal/snapshot" // Registers the snapshot writer
	_ "ZoomSpectra/internal/writer"   // Registers the csv and clickhouse writers

	log "github.com/sirupsen/logrus"
)

const progressEvery = 10_000_000

// Manager feeds packet records to a group of tasks on a single worker, so every task
// sees the records in input order.
type Manager struct {
	group *factory.TaskGroup

	recordChannel chan *protocol.Record
	workerWg      sync.WaitGroup

	limit    uint64
	received uint64
	err      error
}

// NewManager creates the writers and tasks named by taskTypes.
func NewManager(cfg *config.Config, taskTypes ...string) (*Manager, error) {
	group, err := factory.Create(cfg, taskTypes)
	if err != nil {
		return nil, err
	}
	return NewManagerWithGroup(group, cfg.RTP.SizeOfRecordChannel, cfg.RTP.Limit), nil
}

// NewManagerWithGroup wraps an existing task group. A zero limit processes every record.
func NewManagerWithGroup(group *factory.TaskGroup, channelSize int, limit uint64) *Manager {
	return &Manager{
		group:         group,
		recordChannel: make(chan *protocol.Record, channelSize),
		limit:         limit,
	}
}

// Start launches the worker.
func (m *Manager) Start() {
	m.workerWg.Add(1)
	go m.worker()
	log.Printf("Manager started with %d tasks.", len(m.group.Tasks))
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	for rec := range m.recordChannel {
		// Keep draining after a failure or past the limit so the producer never blocks.
		if m.err != nil || (m.limit > 0 && m.received >= m.limit) {
			continue
		}
		m.received++
		for _, task := range m.group.Tasks {
			if err := task.ProcessRecord(rec); err != nil {
				m.err = fmt.Errorf("task %s: %w", task.Name(), err)
				log.Errorf("Stopping record processing: %v", m.err)
				break
			}
		}
		if m.received%progressEvery == 0 {
			log.Printf("Processed %d records", m.received)
		}
	}
}

// Stop gracefully shuts down the manager and returns the first processing error.
func (m *Manager) Stop() error {
	log.Println("Manager stopping...")
	// 1. Stop accepting new records.
	close(m.recordChannel)

	// 2. Wait for the worker to finish processing buffered records.
	m.workerWg.Wait()

	// 3. Let every task flush its state and emit its final rows.
	errs := []error{m.err}
	if m.err == nil {
		for _, task := range m.group.Tasks {
			if err := task.Finish(); err != nil {
				errs = append(errs, fmt.Errorf("task %s: %w", task.Name(), err))
			}
		}
	}

	// 4. Close the writers.
	if err := m.group.Writers.Close(); err != nil {
		errs = append(errs, err)
	}

	limited := ""
	if m.limit > 0 && m.received >= m.limit {
		limited = " (limited)"
	}
	log.Printf("Manager stopped after %d records%s.", m.received, limited)
	return errors.Join(errs...)
}

// InputChannel returns the channel records are sent to.
func (m *Manager) InputChannel() chan<- *protocol.Record {
	return m.recordChannel
}

// Received returns the number of records handed to the tasks. Only valid after Stop.
func (m *Manager) Received() uint64 { return m.received }

// Feed reads records from r into the manager until EOF or the record limit.
func (m *Manager) Feed(r io.Reader) (uint64, error) {
	rr := protocol.NewRecordReader(r)
	var n uint64
	for m.limit == 0 || n < m.limit {
		rec := new(protocol.Record)
		err := rr.Next(rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("failed to read record %d: %w", n, err)
		}
		m.recordChannel <- rec
		n++
	}
	return n, nil
}
