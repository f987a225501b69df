package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSchemaVersion indicates a record written by a newer schema.
	ErrSchemaVersion = errors.New("unsupported schema version")

	// ErrCorruptRecord indicates a persisted record that does not parse.
	ErrCorruptRecord = errors.New("corrupt record")
)

// Logical record names used in errors and logs.
const (
	RecordArticles  = "articles"
	RecordChangelog = "changelog"
	RecordGraph     = "graph"
	RecordClusters  = "clusters"
	RecordAIConfig  = "ai_config"
)

// PersistenceError wraps a failed read or write of one logical record.
type PersistenceError struct {
	Op     string // "read" or "write"
	Record string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Record, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ReadError wraps err as a read failure of record. Nil stays nil.
func ReadError(record string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: "read", Record: record, Err: err}
}

// WriteError wraps err as a write failure of record. Nil stays nil.
func WriteError(record string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: "write", Record: record, Err: err}
}
