package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ZoomSpectra/internal/config"
	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/factory"
	"ZoomSpectra/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

func init() {
	factory.RegisterWriter("clickhouse", func(def config.WriterDef, _ *config.Config) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse)
	})
}

var createTableStatements = []string{`
CREATE TABLE IF NOT EXISTS zoom_flows (
    RunID       UUID,
    RunTime     DateTime,
    FlowID      UInt32,
    Protocol    UInt8,
    SrcIP       IPv4,
    SrcPort     UInt16,
    DstIP       IPv4,
    DstPort     UInt16,
    FlowType    LowCardinality(String),
    PacketCount UInt64,
    ByteCount   UInt64,
    StartTime   DateTime64(6),
    EndTime     DateTime64(6)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(RunTime)
ORDER BY (RunID, FlowID);
`, `
CREATE TABLE IF NOT EXISTS zoom_stream_quality (
    RunID         UUID,
    RunTime       DateTime,
    Protocol      UInt8,
    SrcIP         IPv4,
    SrcPort       UInt16,
    DstIP         IPv4,
    DstPort       UInt16,
    SSRC          UInt32,
    Media         LowCardinality(String),
    Kind          LowCardinality(String),
    PacketCount   UInt64,
    ByteCount     UInt64,
    Lost          UInt64,
    Duplicates    UInt64,
    OutOfOrder    UInt64,
    Frames        UInt64,
    MeanFrameSize Float64,
    MeanJitter    Float64,
    JitterP50     Float64,
    JitterP95     Float64,
    JitterP99     Float64,
    Failed        Bool
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(RunTime)
ORDER BY (RunID, SSRC);
`, `
CREATE TABLE IF NOT EXISTS zoom_meeting_streams (
    RunID       UUID,
    RunTime     DateTime,
    MeetingID   UInt32,
    StreamID    Int64,
    ConnType    LowCardinality(String),
    StartTime   DateTime,
    EndTime     DateTime,
    SrcIP       IPv4,
    SrcPort     UInt16,
    DstIP       IPv4,
    DstPort     UInt16,
    ZoomType    UInt8,
    SSRC        UInt32,
    StartRTP    UInt32,
    EndRTP      UInt32,
    PacketCount UInt64,
    ByteCount   UInt64,
    Audio112    UInt64,
    Audio99     UInt64,
    Audio113    UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(RunTime)
ORDER BY (RunID, MeetingID, StreamID);
`}

const (
	tableFlows    = "zoom_flows"
	tableQuality  = "zoom_stream_quality"
	tableMeetings = "zoom_meeting_streams"
)

// ClickHouseWriter buffers summary rows and inserts them in batches, tagging every row
// with the run id. It implements the model.Writer interface.
type ClickHouseWriter struct {
	conn      driver.Conn
	runID     uuid.UUID
	runTime   time.Time
	batchSize int

	pending map[string][][]interface{}
	written map[string]int
}

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	for _, stmt := range createTableStatements {
		if err := conn.Exec(context.Background(), stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	log.Println("Successfully connected to ClickHouse and ensured tables exist.")

	return newClickHouseWriter(conn, cfg.BatchSize), nil
}

func newClickHouseWriter(conn driver.Conn, batchSize int) *ClickHouseWriter {
	if batchSize <= 0 {
		batchSize = 10000
	}
	return &ClickHouseWriter{
		conn:      conn,
		runID:     uuid.New(),
		runTime:   time.Now().UTC(),
		batchSize: batchSize,
		pending:   make(map[string][][]interface{}),
		written:   make(map[string]int),
	}
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// RunID returns the id attached to every row of this writer.
func (w *ClickHouseWriter) RunID() uuid.UUID { return w.runID }

// Write buffers flow, stream quality and meeting rows. Other rows are ignored.
func (w *ClickHouseWriter) Write(payload interface{}) error {
	table, values := w.columns(payload)
	if table == "" {
		return nil
	}
	w.pending[table] = append(w.pending[table], values)
	if len(w.pending[table]) >= w.batchSize {
		return w.flush(table)
	}
	return nil
}

func (w *ClickHouseWriter) columns(payload interface{}) (string, []interface{}) {
	switch row := payload.(type) {
	case model.FlowSummary:
		return tableFlows, []interface{}{
			w.runID, w.runTime, row.ID, row.Tuple.Protocol,
			ipv4(row.Tuple.SrcIP), row.Tuple.SrcPort, ipv4(row.Tuple.DstIP), row.Tuple.DstPort,
			row.Type, row.Packets, row.Bytes, row.Start.Time(), row.End.Time(),
		}
	case model.StreamQuality:
		return tableQuality, []interface{}{
			w.runID, w.runTime, row.Tuple.Protocol,
			ipv4(row.Tuple.SrcIP), row.Tuple.SrcPort, ipv4(row.Tuple.DstIP), row.Tuple.DstPort,
			row.SSRC, row.Media, row.Kind, row.Packets, row.Bytes, row.Lost, row.Duplicates,
			row.OutOfOrder, row.Frames, row.MeanFrameSize, row.MeanJitter,
			row.JitterP50, row.JitterP95, row.JitterP99, row.Failed,
		}
	case model.MeetingStream:
		s := row.UniqueStream
		return tableMeetings, []interface{}{
			w.runID, w.runTime, row.MeetingID, s.StreamID, s.ConnType(),
			time.Unix(int64(s.StartSec), 0).UTC(), time.Unix(int64(s.EndSec), 0).UTC(),
			ipv4(s.Tuple.SrcIP), s.Tuple.SrcPort, ipv4(s.Tuple.DstIP), s.Tuple.DstPort,
			s.ZoomType, s.SSRC, s.StartRTP, s.EndRTP, s.Packets, s.Bytes,
			s.Audio112, s.Audio99, s.Audio113,
		}
	}
	return "", nil
}

func ipv4(ip uint32) string { return core.IPv4ToString(ip) }

func (w *ClickHouseWriter) flush(table string) error {
	rows := w.pending[table]
	if len(rows) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO "+table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, values := range rows {
		if err := batch.Append(values...); err != nil {
			return fmt.Errorf("failed to append row to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.written[table] += len(rows)
	w.pending[table] = rows[:0]
	log.Printf("Wrote %d rows to ClickHouse table '%s'", len(rows), table)
	return nil
}

// Close inserts the remaining rows and closes the connection.
func (w *ClickHouseWriter) Close() error {
	var errs []error
	for _, table := range []string{tableFlows, tableQuality, tableMeetings} {
		if err := w.flush(table); err != nil {
			errs = append(errs, fmt.Errorf("table %s: %w", table, err))
		}
	}
	if err := w.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	log.WithFields(log.Fields{
		"run_id":   w.runID.String(),
		"flows":    w.written[tableFlows],
		"quality":  w.written[tableQuality],
		"meetings": w.written[tableMeetings],
	}).Info("ClickHouse writer closed")
	return errors.Join(errs...)
}
