// Package state is the storage layer under the modules: a key-value backend,
// the per-transaction overlay that buffers writes until commit, and typed
// mappings that namespace keys per module.
package state

import (
	"context"
	"errors"
)

// ErrClosed is returned by a backend after Close.
var ErrClosed = errors.New("state: backend closed")

// Write is a single buffered mutation. Delete writes carry no value.
type Write struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// LogEntry is one committed event in the durable event log. Data is opaque
// to the backend.
type LogEntry struct {
	Seq    uint64
	TxID   string
	Module string
	Name   string
	Block  uint64
	Data   []byte
}

// Batch is everything one transaction commits.
type Batch struct {
	Writes []Write
	Log    []LogEntry
}

// Reader is the read side of a backend.
type Reader interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
}

// Backend stores committed state. Apply must be atomic: either every write and
// log entry of the batch becomes visible or none does.
type Backend interface {
	Reader
	Apply(ctx context.Context, b Batch) error
	// Log returns up to limit entries with Seq > after in ascending order.
	Log(ctx context.Context, after uint64, limit int) ([]LogEntry, error)
	Close() error
}
