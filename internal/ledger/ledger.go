// Package ledger provides durable append-only record storage.
//
// A Ledger is a historical log: records are never deleted or mutated, and
// "most recent wins" questions are resolved at read time by scanning
// newest-first. Two implementations are provided: a SQLite-backed store for
// production use and an in-memory store for tests.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrStopScan can be returned from a scan callback to end iteration early
// without reporting an error.
var ErrStopScan = errors.New("stop scan")

// Record is a single appended entry.
type Record struct {
	// ID is the unique record identifier (UUID).
	ID string

	// Payload is the opaque record body, typically JSON.
	Payload []byte

	// CreatedAt is when the record was appended.
	CreatedAt time.Time
}

// Ledger is a durable append-only record store.
//
// Append must be atomic per record: a record is either fully durable when
// the call returns or not present at all. Concurrent appenders must not
// corrupt or lose records.
type Ledger interface {
	// Append durably stores a new record and returns its generated ID.
	Append(ctx context.Context, payload []byte) (string, error)

	// ScanNewestFirst iterates records from newest to oldest, calling fn for
	// each. Iteration stops when fn returns ErrStopScan (no error reported)
	// or any other error (propagated).
	ScanNewestFirst(ctx context.Context, fn func(Record) error) error

	// Count returns the number of records in the ledger.
	Count(ctx context.Context) (int, error)
}

// AppendJSON marshals v and appends it to l.
func AppendJSON(ctx context.Context, l Ledger, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	if _, err := l.Append(ctx, payload); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	return nil
}

// ScanJSON iterates l newest-first, decoding each payload into T.
// Records that fail to decode are skipped so a corrupt entry cannot hide
// the rest of the history. fn may return ErrStopScan to end iteration early.
func ScanJSON[T any](ctx context.Context, l Ledger, fn func(T, time.Time) error) error {
	return l.ScanNewestFirst(ctx, func(rec Record) error {
		var v T
		if err := json.Unmarshal(rec.Payload, &v); err != nil {
			// A corrupt record must not hide the rest of the history.
			return nil
		}
		return fn(v, rec.CreatedAt)
	})
}
