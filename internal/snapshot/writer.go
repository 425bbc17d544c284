// Package snapshot persists the report of a run as gob files plus a JSON summary, and
// loads it back for the report API.
package snapshot

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/factory"
	"ZoomSpectra/internal/model"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	meetingsFile = "meetings.dat"
	streamsFile  = "streams.dat"
	summaryFile  = "summary.json"
	timeLayout   = "2006-01-02_15-04-05"
)

// ErrNoSnapshot is returned when a root directory holds no snapshot.
var ErrNoSnapshot = errors.New("no snapshot found")

func init() {
	factory.RegisterWriter("snapshot", func(def config.WriterDef, _ *config.Config) (model.Writer, error) {
		return NewWriter(def.Snapshot.RootPath), nil
	})
}

// Meeting is a meeting with its member streams in join order.
type Meeting struct {
	ID      uint32
	Streams []model.UniqueStream
}

// SummaryData holds the metadata for a snapshot.
type SummaryData struct {
	RunID          string `json:"run_id"`
	Timestamp      string `json:"timestamp"`
	Meetings       int    `json:"meetings"`
	MeetingStreams int    `json:"meeting_streams"`
	Streams        int    `json:"streams"`
	FailedStreams  int    `json:"failed_streams"`
	TotalPackets   uint64 `json:"total_packets"`
	TotalBytes     uint64 `json:"total_bytes"`
}

// Snapshot is the loaded content of one snapshot directory.
type Snapshot struct {
	Dir      string
	Summary  SummaryData
	Meetings []Meeting
	Streams  []model.StreamQuality
}

// Writer collects meeting and stream quality rows and writes them as one snapshot on
// Close. It implements the model.Writer interface.
type Writer struct {
	rootPath string
	runID    string

	meetings map[uint32]*Meeting
	order    []uint32
	streams  []model.StreamQuality
	dir      string
}

// NewWriter creates a snapshot writer below rootPath.
func NewWriter(rootPath string) *Writer {
	return &Writer{
		rootPath: rootPath,
		runID:    uuid.NewString(),
		meetings: make(map[uint32]*Meeting),
	}
}

// Write keeps MeetingStream and StreamQuality rows and ignores the rest.
func (w *Writer) Write(payload interface{}) error {
	switch row := payload.(type) {
	case model.MeetingStream:
		m, ok := w.meetings[row.MeetingID]
		if !ok {
			m = &Meeting{ID: row.MeetingID}
			w.meetings[row.MeetingID] = m
			w.order = append(w.order, row.MeetingID)
		}
		m.Streams = append(m.Streams, row.UniqueStream)
	case model.StreamQuality:
		w.streams = append(w.streams, row)
	}
	return nil
}

// Dir returns the directory of the written snapshot, empty before Close or when there
// was nothing to write.
func (w *Writer) Dir() string { return w.dir }

// Close writes the snapshot. A run without meeting or stream rows writes nothing.
func (w *Writer) Close() error {
	if len(w.order) == 0 && len(w.streams) == 0 {
		return nil
	}

	// 1. Create timestamped directory
	now := time.Now().UTC()
	dir := filepath.Join(w.rootPath, fmt.Sprintf("%s_%s", now.Format(timeLayout), w.runID[:8]))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	// 2. Gob files
	meetings := make([]Meeting, 0, len(w.order))
	summary := SummaryData{
		RunID:     w.runID,
		Timestamp: now.Format(time.RFC3339),
		Meetings:  len(w.order),
		Streams:   len(w.streams),
	}
	for _, id := range w.order {
		m := w.meetings[id]
		meetings = append(meetings, *m)
		summary.MeetingStreams += len(m.Streams)
		for _, s := range m.Streams {
			summary.TotalPackets += s.Packets
			summary.TotalBytes += s.Bytes
		}
	}
	for _, s := range w.streams {
		if s.Failed {
			summary.FailedStreams++
		}
	}
	if err := writeGob(filepath.Join(dir, meetingsFile), meetings); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(dir, streamsFile), w.streams); err != nil {
		return err
	}

	// 3. Summary file
	f, err := os.Create(filepath.Join(dir, summaryFile))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer f.Close()
	jsonEncoder := json.NewEncoder(f)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}

	w.dir = dir
	log.Printf("Wrote snapshot with %d meetings and %d streams to %s", len(meetings), len(w.streams), dir)
	return nil
}

func writeGob(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", path, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		return fmt.Errorf("failed to encode gob for file '%s': %w", path, err)
	}
	return nil
}

func readGob(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file '%s': %w", path, err)
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("failed to decode gob file '%s': %w", path, err)
	}
	return nil
}

// Load reads the snapshot stored in dir.
func Load(dir string) (*Snapshot, error) {
	s := &Snapshot{Dir: dir}

	data, err := os.ReadFile(filepath.Join(dir, summaryFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read summary file: %w", err)
	}
	if err := json.Unmarshal(data, &s.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary file: %w", err)
	}
	if err := readGob(filepath.Join(dir, meetingsFile), &s.Meetings); err != nil {
		return nil, err
	}
	if err := readGob(filepath.Join(dir, streamsFile), &s.Streams); err != nil {
		return nil, err
	}
	return s, nil
}

// Latest returns the most recent snapshot directory under rootPath.
func Latest(rootPath string) (string, error) {
	entries, err := os.ReadDir(rootPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSnapshot
	}
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot root: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(rootPath, e.Name(), summaryFile)); err == nil {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return "", ErrNoSnapshot
	}
	sort.Strings(dirs)
	return filepath.Join(rootPath, dirs[len(dirs)-1]), nil
}
