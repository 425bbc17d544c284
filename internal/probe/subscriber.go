package probe

import (
	"fmt"
	"sync"

	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/engine/protocol"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// RecordHandler is called for every record received, in message order.
type RecordHandler func(rec *protocol.Record)

// DecodeBatch splits a message payload into records.
func DecodeBatch(data []byte) ([]protocol.Record, error) {
	if len(data)%protocol.RecordSize != 0 {
		return nil, fmt.Errorf("%w: batch of %d bytes", protocol.ErrMalformedPacket, len(data))
	}
	recs := make([]protocol.Record, len(data)/protocol.RecordSize)
	for i := range recs {
		off := i * protocol.RecordSize
		if err := recs[i].UnmarshalBinary(data[off : off+protocol.RecordSize]); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Subscriber is responsible for subscribing to a NATS subject and handing the
// decoded records to a handler.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string

	done     chan struct{}
	doneOnce sync.Once
	received uint64
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("zoom-subscriber"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return &Subscriber{nc: nc, subject: cfg.Subject, done: make(chan struct{})}, nil
}

// Start subscribes to the subject. Messages are delivered on a single goroutine,
// so handler sees records in publish order.
func (s *Subscriber) Start(handler RecordHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		s.handle(msg, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", s.subject, err)
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for records...", s.subject)
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg, handler RecordHandler) {
	if msg.Header.Get(HeaderEOS) != "" {
		log.WithField("run_id", msg.Header.Get(HeaderRunID)).Info("End of record stream")
		s.doneOnce.Do(func() { close(s.done) })
		return
	}
	recs, err := DecodeBatch(msg.Data)
	if err != nil {
		log.Warnf("Dropping message: %v", err)
		return
	}
	for i := range recs {
		handler(&recs[i])
	}
	s.received += uint64(len(recs))
}

// Done is closed when the end-of-stream marker arrives.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Received returns the number of records handled so far. Only meaningful after Done
// or Close.
func (s *Subscriber) Received() uint64 { return s.received }

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			log.Warnf("Failed to unsubscribe: %v", err)
		}
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}
