// Package results records the pipeline's output three ways: an
// in-memory cursor log for live polling, per-subject JSONL files, and
// a SQLite store for retention across restarts.
package results

import (
	"sync"

	"github.com/readback-labs/readback-core/internal/protocol"
)

// Cursor marks a position in a session's result log. The zero cursor
// reads from the beginning.
type Cursor uint64

// Log is an append-only in-memory result sequence. Clients poll with
// the cursor from their previous read; a repeated cursor returns
// nothing new and an advancing cursor never replays a record.
type Log struct {
	mu      sync.RWMutex
	records []protocol.LiveRecord
}

func NewLog() *Log {
	return &Log{}
}

// Append adds one record and returns the cursor just past it.
func (l *Log) Append(record protocol.LiveRecord) Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return Cursor(len(l.records))
}

// Since returns the records after the cursor plus the cursor for the
// next poll.
func (l *Log) Since(cursor Cursor) ([]protocol.LiveRecord, Cursor) {
	return l.SinceLimit(cursor, 0)
}

// SinceLimit is Since with an upper bound on the batch size. The
// returned cursor advances only past what was returned, so a capped
// read never skips records. A limit of zero means no bound.
func (l *Log) SinceLimit(cursor Cursor, limit int) ([]protocol.LiveRecord, Cursor) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	end := Cursor(len(l.records))
	if cursor >= end {
		return nil, end
	}
	if limit > 0 && end-cursor > Cursor(limit) {
		end = cursor + Cursor(limit)
	}
	out := make([]protocol.LiveRecord, end-cursor)
	copy(out, l.records[cursor:end])
	return out, end
}

// Len reports the record count.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
