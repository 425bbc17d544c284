// Package writer persists report rows as CSV files or ClickHouse tables.
package writer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"ZoomSpectra/internal/config"
	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/internal/factory"
	"ZoomSpectra/internal/model"

	log "github.com/sirupsen/logrus"
)

func init() {
	factory.RegisterWriter("csv", func(def config.WriterDef, _ *config.Config) (model.Writer, error) {
		return NewCSVWriter(def.CSV.Files)
	})
}

// Report kinds, the keys of the csv writer's file map.
const (
	KindFlows         = "flows"
	KindTypes         = "types"
	KindRate          = "rate"
	KindPackets       = "packets"
	KindFrames        = "frames"
	KindStats         = "stats"
	KindStreams       = "streams"
	KindQuality       = "quality"
	KindUniqueStreams = "unique_streams"
	KindMeetings      = "meetings"
)

var tupleHeader = []string{"ip_proto", "ip_src", "tp_src", "ip_dst", "tp_dst"}

var uniqueHeader = []string{
	"stream_id", "conn_type", "start_ts_s", "end_ts_s", "ip_src", "tp_src", "ip_dst", "tp_dst",
	"zoom_type", "ssrc", "start_rtp_ts", "end_rtp_ts", "pkts", "bytes",
	"audio_112_pkts", "audio_99_pkts", "audio_113_pkts",
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var headers = map[string][]string{
	KindFlows: concat([]string{"flow_id"}, tupleHeader, []string{
		"type", "pkts", "bytes", "start_ts_tvs", "start_ts_tvus", "end_ts_tvs", "end_ts_tvus"}),
	KindTypes: {"mode", "outer_type", "inner_type", "pkts", "bytes"},
	KindRate:  {"ts_s", "total_pkts", "zoom_pkts", "zoom_bytes"},
	KindPackets: concat([]string{"#ts_s", "ts_us", "dir", "flow_type"}, tupleHeader, []string{
		"media_type", "pkts_in_frame", "ssrc", "pt", "rtp_seq", "rtp_ts", "pl_len", "rtp_ext1", "drop"}),
	KindFrames: concat(tupleHeader, []string{
		"ssrc", "media_type", "rtp_ext1", "min_ts_s", "min_ts_us", "max_ts_s", "max_ts_us",
		"rtp_ts", "pkts_seen", "pkts_hint", "frame_size", "fps", "jitter_ms"}),
	KindStats: concat([]string{"ts_s", "report_count"}, tupleHeader, []string{
		"media_type", "stream_type", "rtp_ssrc", "pkts", "bytes", "lost", "duplicate",
		"out_of_order", "frames", "mean_frame_len", "mean_jitter"}),
	KindStreams: {
		"ssrc", "pl_type", "ip_src", "tp_src", "ip_dst", "tp_dst", "flow_type", "zoom_type",
		"start_ts_s", "start_ts_us", "end_ts_s", "end_ts_us", "start_rtp_ts", "last_rtp_ts", "pkts", "bytes"},
	KindQuality: concat(tupleHeader, []string{
		"ssrc", "media", "stream_type", "pkts", "bytes", "lost", "duplicate", "out_of_order",
		"frames", "mean_frame_len", "mean_jitter", "jitter_p50", "jitter_p95", "jitter_p99", "failed"}),
	KindUniqueStreams: uniqueHeader,
	KindMeetings:      concat([]string{"meeting_id"}, uniqueHeader),
}

type csvFile struct {
	file *os.File
	buf  *bufio.Writer
	csv  *csv.Writer
	rows uint64
}

// CSVWriter writes every row kind that has a configured path to its own file.
// It implements the model.Writer interface.
type CSVWriter struct {
	files map[string]*csvFile
}

// NewCSVWriter creates the configured files and writes their headers.
func NewCSVWriter(paths map[string]string) (*CSVWriter, error) {
	w := &CSVWriter{files: make(map[string]*csvFile)}
	kinds := make([]string, 0, len(paths))
	for kind := range paths {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		path := paths[kind]
		if path == "" {
			continue
		}
		header, ok := headers[kind]
		if !ok {
			w.Close()
			return nil, fmt.Errorf("unknown csv report kind '%s'", kind)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to create csv directory: %w", err)
		}
		file, err := os.Create(path)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to create csv file: %w", err)
		}
		buf := bufio.NewWriter(file)
		f := &csvFile{file: file, buf: buf, csv: csv.NewWriter(buf)}
		w.files[kind] = f
		if err := f.csv.Write(header); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to write %s header: %w", kind, err)
		}
	}
	return w, nil
}

// Write formats the row and appends it to the file of its kind. Rows of kinds without
// a file are ignored.
func (w *CSVWriter) Write(payload interface{}) error {
	kind, record := format(payload)
	if kind == "" {
		return nil
	}
	f, ok := w.files[kind]
	if !ok {
		return nil
	}
	if err := f.csv.Write(record); err != nil {
		return fmt.Errorf("failed to write %s row: %w", kind, err)
	}
	f.rows++
	return nil
}

// Close flushes and closes every file.
func (w *CSVWriter) Close() error {
	var errs []error
	for kind, f := range w.files {
		f.csv.Flush()
		if err := f.csv.Error(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush %s: %w", kind, err))
		}
		if err := f.buf.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush %s: %w", kind, err))
		}
		if err := f.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", kind, err))
		}
		log.Printf("Wrote %d %s rows to %s", f.rows, kind, f.file.Name())
	}
	w.files = nil
	return errors.Join(errs...)
}

func u(v uint64) string   { return strconv.FormatUint(v, 10) }
func u32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }
func f5(v float64) string { return strconv.FormatFloat(v, 'g', 5, 64) }
func f6(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }
func na(ok bool, v string) string {
	if !ok {
		return "NA"
	}
	return v
}

func tuple(ft core.FiveTuple) []string {
	return []string{
		strconv.Itoa(int(ft.Protocol)),
		core.IPv4ToString(ft.SrcIP), strconv.Itoa(int(ft.SrcPort)),
		core.IPv4ToString(ft.DstIP), strconv.Itoa(int(ft.DstPort)),
	}
}

func hex3(b [3]byte) string {
	return fmt.Sprintf("%02x%02x%02x", b[0], b[1], b[2])
}

func unique(s model.UniqueStream) []string {
	return []string{
		strconv.FormatInt(s.StreamID, 10), s.ConnType(), u32(s.StartSec), u32(s.EndSec),
		core.IPv4ToString(s.Tuple.SrcIP), strconv.Itoa(int(s.Tuple.SrcPort)),
		core.IPv4ToString(s.Tuple.DstIP), strconv.Itoa(int(s.Tuple.DstPort)),
		strconv.Itoa(int(s.ZoomType)), u32(s.SSRC), u32(s.StartRTP), u32(s.EndRTP),
		u(s.Packets), u(s.Bytes), u(s.Audio112), u(s.Audio99), u(s.Audio113),
	}
}

func packetFlowType(r *protocol.Record) string {
	switch {
	case r.Flags&protocol.FlagSrv != 0:
		return "s"
	case r.IsP2P():
		return "p"
	}
	return "NA"
}

func packetMedia(tag uint8) string {
	switch tag {
	case protocol.TagAudio:
		return "a"
	case protocol.TagVideo:
		return "v"
	}
	return "NA"
}

// format maps a row to its kind and CSV fields.
func format(payload interface{}) (string, []string) {
	switch row := payload.(type) {
	case model.FlowSummary:
		return KindFlows, concat([]string{u32(row.ID)}, tuple(row.Tuple), []string{
			row.Type, u(row.Packets), u(row.Bytes),
			u32(row.Start.Sec), u32(row.Start.Usec), u32(row.End.Sec), u32(row.End.Usec)})

	case model.TypeVolume:
		return KindTypes, []string{
			row.Mode, na(row.Outer != model.NA, strconv.Itoa(row.Outer)),
			na(row.Inner != model.NA, strconv.Itoa(row.Inner)), u(row.Packets), u(row.Bytes)}

	case model.RateSample:
		return KindRate, []string{u32(row.Second), u(row.TotalPackets), u(row.ZoomPackets), u(row.ZoomBytes)}

	case model.PacketLog:
		r := &row.Record
		ext := r.Ext1 != [3]byte{}
		drop := "0"
		if row.Dropped {
			drop = "1"
		}
		return KindPackets, concat([]string{u32(r.TS.Sec), u32(r.TS.Usec), "u", packetFlowType(r)},
			tuple(r.Tuple), []string{
				packetMedia(r.MediaType), na(r.PktsInFrame != 0, strconv.Itoa(int(r.PktsInFrame))),
				u32(r.RTP.SSRC), strconv.Itoa(int(r.RTP.PayloadType)), strconv.Itoa(int(r.RTP.Sequence)),
				u32(r.RTP.Timestamp), strconv.Itoa(int(r.UDPPayloadLen)), na(ext, "0x"+hex3(r.Ext1)), drop})

	case model.FrameLog:
		return KindFrames, concat(tuple(row.Tuple), []string{
			u32(row.SSRC), strconv.Itoa(int(row.MediaType)), hex3(row.Ext1),
			u32(row.MinArrival.Sec), u32(row.MinArrival.Usec), u32(row.MaxArrival.Sec), u32(row.MaxArrival.Usec),
			u32(row.RTPTimestamp), strconv.Itoa(row.PacketsSeen), strconv.Itoa(int(row.PacketsHint)),
			u(row.Size), strconv.Itoa(row.FrameRate), f5(row.Jitter)})

	case model.StreamStats:
		return KindStats, concat([]string{u32(row.Second), u32(row.ReportCount)}, tuple(row.Tuple), []string{
			strconv.Itoa(int(row.MediaType)), row.Kind, u32(row.SSRC), u(row.Packets), u(row.Bytes),
			u(row.Lost), u(row.Duplicates), u(row.OutOfOrder), u(row.Frames),
			f6(row.MeanFrameSize), f6(row.MeanJitter)})

	case model.RTPFlow:
		return KindStreams, []string{
			u32(row.SSRC), strconv.Itoa(int(row.PayloadType)),
			core.IPv4ToString(row.Tuple.SrcIP), strconv.Itoa(int(row.Tuple.SrcPort)),
			core.IPv4ToString(row.Tuple.DstIP), strconv.Itoa(int(row.Tuple.DstPort)),
			row.FlowType, strconv.Itoa(int(row.ZoomType)),
			u32(row.Start.Sec), u32(row.Start.Usec), u32(row.End.Sec), u32(row.End.Usec),
			u32(row.StartRTP), u32(row.LastRTP), u(row.Packets), u(row.Bytes)}

	case model.StreamQuality:
		return KindQuality, concat(tuple(row.Tuple), []string{
			u32(row.SSRC), row.Media, row.Kind, u(row.Packets), u(row.Bytes), u(row.Lost),
			u(row.Duplicates), u(row.OutOfOrder), u(row.Frames), f6(row.MeanFrameSize),
			f6(row.MeanJitter), f5(row.JitterP50), f5(row.JitterP95), f5(row.JitterP99),
			strconv.FormatBool(row.Failed)})

	case model.UniqueStream:
		return KindUniqueStreams, unique(row)

	case model.MeetingStream:
		return KindMeetings, concat([]string{u32(row.MeetingID)}, unique(row.UniqueStream))
	}
	return "", nil
}
