package model

import (
	"errors"
	"fmt"
)

// Writer defines a generic interface for persisting report rows.
type Writer interface {
	// Write takes a report row and persists it.
	// The implementation is expected to ignore row types it does not handle.
	Write(payload interface{}) error

	// Close flushes buffered rows and releases the underlying store.
	Close() error
}

// MultiWriter fans every row out to a list of writers.
type MultiWriter []Writer

func (m MultiWriter) Write(payload interface{}) error {
	for _, w := range m {
		if err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every writer and returns all errors joined.
func (m MultiWriter) Close() error {
	var errs []error
	for _, w := range m {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close writer: %w", err))
		}
	}
	return errors.Join(errs...)
}
