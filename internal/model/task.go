package model

import "ZoomSpectra/internal/engine/protocol"

// Task defines a single, self-contained analysis over the packet record stream
// (e.g., rtp reassembly, meeting grouping). Records arrive in capture order from a
// single goroutine.
type Task interface {
	ProcessRecord(rec *protocol.Record) error
	// Finish flushes pending state and emits the final report rows.
	Finish() error
	Name() string
}
