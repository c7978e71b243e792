package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// validLedgerName restricts ledger names to safe SQL identifiers, since the
// name becomes part of the table name.
var validLedgerName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// SQLiteStore manages one or more ledgers backed by a single SQLite database.
//
// Each ledger gets its own table. Appends are single INSERT statements, which
// SQLite executes atomically, so concurrent appenders from multiple workflow
// invocations never interleave into a corrupted record list.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a ledger database at path.
//
// The connection uses WAL mode so concurrent webhook invocations can read
// while another appends.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path cannot be empty")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging ledger database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ledger returns the named ledger, creating its table if needed.
func (s *SQLiteStore) Ledger(name string) (Ledger, error) {
	if !validLedgerName.MatchString(name) {
		return nil, fmt.Errorf("invalid ledger name %q", name)
	}

	table := "ledger_" + name
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	payload BLOB NOT NULL,
	created_at INTEGER NOT NULL
);`, table)

	if _, err := s.db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating ledger table %s: %w", table, err)
	}

	return &sqliteLedger{db: s.db, table: table}, nil
}

type sqliteLedger struct {
	db    *sql.DB
	table string
}

func (l *sqliteLedger) Append(ctx context.Context, payload []byte) (string, error) {
	id := uuid.New().String()
	query := fmt.Sprintf(`INSERT INTO %s (id, payload, created_at) VALUES (?, ?, ?)`, l.table)

	if _, err := l.db.ExecContext(ctx, query, id, payload, time.Now().UnixMicro()); err != nil {
		return "", fmt.Errorf("appending to %s: %w", l.table, err)
	}
	return id, nil
}

func (l *sqliteLedger) ScanNewestFirst(ctx context.Context, fn func(Record) error) error {
	query := fmt.Sprintf(`SELECT id, payload, created_at FROM %s ORDER BY seq DESC`, l.table)

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", l.table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec Record
		var createdMicros int64
		if err := rows.Scan(&rec.ID, &rec.Payload, &createdMicros); err != nil {
			return fmt.Errorf("scanning row from %s: %w", l.table, err)
		}
		rec.CreatedAt = time.UnixMicro(createdMicros)

		if err := fn(rec); err != nil {
			if err == ErrStopScan {
				return nil
			}
			return err
		}
	}
	return rows.Err()
}

func (l *sqliteLedger) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, l.table)

	var n int
	if err := l.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", l.table, err)
	}
	return n, nil
}
