package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-memory Ledger implementation for testing.
type MemoryLedger struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Append adds a record to the ledger.
func (l *MemoryLedger) Append(ctx context.Context, payload []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{
		ID:        uuid.New().String(),
		Payload:   append([]byte(nil), payload...),
		CreatedAt: time.Now(),
	}
	l.records = append(l.records, rec)
	return rec.ID, nil
}

// ScanNewestFirst iterates records newest to oldest.
func (l *MemoryLedger) ScanNewestFirst(ctx context.Context, fn func(Record) error) error {
	l.mu.RLock()
	snapshot := make([]Record, len(l.records))
	copy(snapshot, l.records)
	l.mu.RUnlock()

	for i := len(snapshot) - 1; i >= 0; i-- {
		if err := fn(snapshot[i]); err != nil {
			if err == ErrStopScan {
				return nil
			}
			return err
		}
	}
	return nil
}

// Count returns the number of records.
func (l *MemoryLedger) Count(ctx context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records), nil
}
