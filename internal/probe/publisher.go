// Package probe moves zpkt records and meeting summaries over NATS.
package probe

import (
	"fmt"
	"sync"

	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/internal/probe/persistent"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Message headers.
const (
	HeaderRunID = "Zoom-Run-Id"
	HeaderEOS   = "Zoom-Eos"
)

// DefaultBatchRecords is the number of records packed into one message.
const DefaultBatchRecords = 256

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	PublishMsg(m *nats.Msg) error
	Flush() error
	Drain() error
}

// Publisher packs records into batches and publishes them to a NATS subject. A
// message carries a whole number of 56-byte records; Close sends an end-of-stream
// marker so that subscribers know the run is complete.
type Publisher struct {
	mu        sync.Mutex
	nc        conn
	subject   string
	runID     string
	batch     []byte
	batchSize int
	published uint64
	err       error
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.ProbeConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("zoom-probe"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return newPublisher(nc, cfg.Subject, DefaultBatchRecords), nil
}

func newPublisher(nc conn, subject string, batchRecords int) *Publisher {
	if batchRecords <= 0 {
		batchRecords = DefaultBatchRecords
	}
	return &Publisher{
		nc:        nc,
		subject:   subject,
		runID:     uuid.NewString(),
		batch:     make([]byte, 0, batchRecords*protocol.RecordSize),
		batchSize: batchRecords,
	}
}

// RunID returns the id sent in the header of every message.
func (p *Publisher) RunID() string { return p.runID }

// Published returns the number of records handed to NATS.
func (p *Publisher) Published() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// Publish queues a record, sending the batch once it is full.
func (p *Publisher) Publish(rec *protocol.Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batch = append(p.batch, data...)
	if len(p.batch) >= p.batchSize*protocol.RecordSize {
		return p.flush()
	}
	return nil
}

// Enqueue publishes the record of a container so that a Publisher can serve as a
// record sink of the flows pass. The first error is kept and returned by Close.
func (p *Publisher) Enqueue(c *persistent.Container) {
	if err := p.Publish(&c.Record); err != nil {
		p.mu.Lock()
		if p.err == nil {
			p.err = err
			log.Errorf("Failed to publish record: %v", err)
		}
		p.mu.Unlock()
	}
}

func (p *Publisher) flush() error {
	if len(p.batch) == 0 {
		return nil
	}
	msg := p.message()
	msg.Data = append([]byte(nil), p.batch...)
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish records: %w", err)
	}
	p.published += uint64(len(p.batch) / protocol.RecordSize)
	p.batch = p.batch[:0]
	return nil
}

func (p *Publisher) message() *nats.Msg {
	msg := nats.NewMsg(p.subject)
	msg.Header.Set(HeaderRunID, p.runID)
	return msg
}

// Close sends the pending batch and the end-of-stream marker, then drains the
// connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.err
	if ferr := p.flush(); ferr != nil && err == nil {
		err = ferr
	}
	eos := p.message()
	eos.Header.Set(HeaderEOS, "1")
	if perr := p.nc.PublishMsg(eos); perr != nil && err == nil {
		err = fmt.Errorf("failed to publish end of stream: %w", perr)
	}
	if ferr := p.nc.Flush(); ferr != nil && err == nil {
		err = fmt.Errorf("failed to flush NATS connection: %w", ferr)
	}
	if derr := p.nc.Drain(); derr != nil && err == nil {
		err = derr
	}
	log.Printf("Published %d records to '%s' (run %s)", p.published, p.subject, p.runID)
	return err
}
