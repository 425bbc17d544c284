package probe

import (
	"fmt"
	"strings"
	"time"

	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/factory"
	"ZoomSpectra/internal/model"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func init() {
	factory.RegisterWriter("nats", func(_ config.WriterDef, cfg *config.Config) (model.Writer, error) {
		return NewSummaryWriter(cfg.Probe)
	})
}

type meetingSummary struct {
	id       uint32
	streams  int
	p2p      int
	packets  uint64
	bytes    uint64
	startSec uint32
	endSec   uint32
	ssrcs    []uint32
}

// SummaryWriter publishes one protobuf event per meeting when it is closed. It
// implements the model.Writer interface and ignores every row but MeetingStream.
type SummaryWriter struct {
	nc      conn
	subject string
	runID   string

	meetings map[uint32]*meetingSummary
	order    []uint32
}

// NewSummaryWriter connects to NATS and returns a writer publishing on the summary
// subject.
func NewSummaryWriter(cfg config.ProbeConfig) (*SummaryWriter, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("zoom-summary"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return newSummaryWriter(nc, cfg.SummarySubject), nil
}

func newSummaryWriter(nc conn, subject string) *SummaryWriter {
	return &SummaryWriter{
		nc:       nc,
		subject:  subject,
		runID:    uuid.NewString(),
		meetings: make(map[uint32]*meetingSummary),
	}
}

func (w *SummaryWriter) Write(payload interface{}) error {
	row, ok := payload.(model.MeetingStream)
	if !ok {
		return nil
	}
	m, ok := w.meetings[row.MeetingID]
	if !ok {
		m = &meetingSummary{id: row.MeetingID, startSec: row.StartSec, endSec: row.EndSec}
		w.meetings[row.MeetingID] = m
		w.order = append(w.order, row.MeetingID)
	}
	m.streams++
	if row.P2P {
		m.p2p++
	}
	m.packets += row.Packets
	m.bytes += row.Bytes
	m.startSec = min(m.startSec, row.StartSec)
	m.endSec = max(m.endSec, row.EndSec)
	m.ssrcs = append(m.ssrcs, row.SSRC)
	return nil
}

// Events returns the summary events in meeting order.
func (w *SummaryWriter) Events() ([]*structpb.Struct, error) {
	events := make([]*structpb.Struct, 0, len(w.order))
	for _, id := range w.order {
		ev, err := w.meetings[id].event(w.runID)
		if err != nil {
			return nil, fmt.Errorf("failed to build summary of meeting %d: %w", id, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (m *meetingSummary) event(runID string) (*structpb.Struct, error) {
	ssrcs := make([]interface{}, len(m.ssrcs))
	for i, s := range m.ssrcs {
		ssrcs[i] = float64(s)
	}
	start, err := timestampJSON(m.startSec)
	if err != nil {
		return nil, err
	}
	end, err := timestampJSON(m.endSec)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{
		"run_id":      runID,
		"meeting_id":  float64(m.id),
		"streams":     float64(m.streams),
		"p2p_streams": float64(m.p2p),
		"packets":     float64(m.packets),
		"bytes":       float64(m.bytes),
		"start":       start,
		"end":         end,
		"duration_s":  float64(int64(m.endSec) - int64(m.startSec)),
		"ssrcs":       ssrcs,
	})
}

// timestampJSON renders sec with the JSON mapping of google.protobuf.Timestamp.
func timestampJSON(sec uint32) (string, error) {
	b, err := protojson.Marshal(timestamppb.New(time.Unix(int64(sec), 0)))
	if err != nil {
		return "", fmt.Errorf("failed to encode timestamp %d: %w", sec, err)
	}
	return strings.Trim(string(b), `"`), nil
}

// Close publishes the events and drains the connection. The connection is drained
// even when building or publishing an event fails.
func (w *SummaryWriter) Close() error {
	err := w.publish()
	if derr := w.nc.Drain(); derr != nil && err == nil {
		err = fmt.Errorf("failed to drain NATS connection: %w", derr)
	}
	return err
}

func (w *SummaryWriter) publish() error {
	events, err := w.Events()
	if err != nil {
		return err
	}
	for _, ev := range events {
		data, err := proto.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal summary: %w", err)
		}
		msg := nats.NewMsg(w.subject)
		msg.Header.Set(HeaderRunID, w.runID)
		msg.Data = data
		if err := w.nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("failed to publish summary: %w", err)
		}
	}
	if err := w.nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	log.Printf("Published %d meeting summaries to '%s'", len(events), w.subject)
	return nil
}

// DecodeSummary unmarshals a summary event published by a SummaryWriter.
func DecodeSummary(data []byte) (*structpb.Struct, error) {
	var ev structpb.Struct
	if err := proto.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return &ev, nil
}
