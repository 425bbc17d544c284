// Package query answers report queries from the latest snapshot or from ClickHouse.
package query

import (
	"context"
	"errors"
	"sync"

	"ZoomSpectra/internal/model"
	"ZoomSpectra/internal/snapshot"
)

// ErrNotFound is returned when a requested meeting does not exist.
var ErrNotFound = errors.New("not found")

// StreamFilter selects stream quality rows. Zero fields match everything.
type StreamFilter struct {
	SSRC       uint32
	Media      string
	FailedOnly bool
}

func (f StreamFilter) match(s model.StreamQuality) bool {
	return (f.SSRC == 0 || s.SSRC == f.SSRC) &&
		(f.Media == "" || s.Media == f.Media) &&
		(!f.FailedOnly || s.Failed)
}

// Querier defines the interface for querying run reports.
type Querier interface {
	Summary(ctx context.Context) (*snapshot.SummaryData, error)
	Meetings(ctx context.Context) ([]snapshot.Meeting, error)
	Meeting(ctx context.Context, id uint32) (*snapshot.Meeting, error)
	Streams(ctx context.Context, filter StreamFilter) ([]model.StreamQuality, error)
}

// snapshotQuerier implements the Querier interface over the newest snapshot directory.
type snapshotQuerier struct {
	rootPath string

	mu     sync.Mutex
	cached *snapshot.Snapshot
}

// NewSnapshotQuerier creates a querier reading snapshots below rootPath.
func NewSnapshotQuerier(rootPath string) Querier {
	return &snapshotQuerier{rootPath: rootPath}
}

// latest loads the newest snapshot, reusing the cached one while it is still the newest.
func (q *snapshotQuerier) latest() (*snapshot.Snapshot, error) {
	dir, err := snapshot.Latest(q.rootPath)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cached != nil && q.cached.Dir == dir {
		return q.cached, nil
	}
	s, err := snapshot.Load(dir)
	if err != nil {
		return nil, err
	}
	q.cached = s
	return s, nil
}

func (q *snapshotQuerier) Summary(ctx context.Context) (*snapshot.SummaryData, error) {
	s, err := q.latest()
	if err != nil {
		return nil, err
	}
	summary := s.Summary
	return &summary, nil
}

func (q *snapshotQuerier) Meetings(ctx context.Context) ([]snapshot.Meeting, error) {
	s, err := q.latest()
	if err != nil {
		return nil, err
	}
	return s.Meetings, nil
}

func (q *snapshotQuerier) Meeting(ctx context.Context, id uint32) (*snapshot.Meeting, error) {
	s, err := q.latest()
	if err != nil {
		return nil, err
	}
	for i := range s.Meetings {
		if s.Meetings[i].ID == id {
			return &s.Meetings[i], nil
		}
	}
	return nil, ErrNotFound
}

func (q *snapshotQuerier) Streams(ctx context.Context, filter StreamFilter) ([]model.StreamQuality, error) {
	s, err := q.latest()
	if err != nil {
		return nil, err
	}
	out := []model.StreamQuality{}
	for _, row := range s.Streams {
		if filter.match(row) {
			out = append(out, row)
		}
	}
	return out, nil
}
