// Package history records every spoof, restore and diagnosis in a local
// SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS operations (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ns  INTEGER NOT NULL,
    type          TEXT NOT NULL,
    vendor_id     INTEGER NOT NULL,
    product_id    INTEGER NOT NULL,
    chipset       TEXT NOT NULL,
    target_vid    INTEGER,
    target_pid    INTEGER,
    result        TEXT NOT NULL,
    dry_run       INTEGER NOT NULL DEFAULT 0,
    duration_ms   INTEGER NOT NULL,
    error         TEXT,
    backup_id     TEXT
);

CREATE INDEX IF NOT EXISTS idx_operations_timestamp ON operations(timestamp_ns);
`

type Type string

const (
	TypeSpoof        Type = "spoof"
	TypeRestore      Type = "restore"
	TypeForceRestore Type = "force-restore"
	TypeDiagnose     Type = "diagnose"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeNoOp      Outcome = "no-op"
)

// Operation is one history entry.
type Operation struct {
	ID        int64
	Timestamp time.Time
	Type      Type
	VendorID  uint16
	ProductID uint16
	Chipset   string
	// Target is zero for operations that do not change the identity.
	TargetVID uint16
	TargetPID uint16
	Outcome   Outcome
	DryRun    bool
	Duration  time.Duration
	Error     string
	BackupID  string
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullable(v uint16) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Record stores op and returns its id. A zero Timestamp is set to now.
func (s *Store) Record(ctx context.Context, op Operation) (int64, error) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (timestamp_ns, type, vendor_id, product_id, chipset, target_vid, target_pid, result, dry_run, duration_ms, error, backup_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.Timestamp.UnixNano(), string(op.Type), op.VendorID, op.ProductID, op.Chipset,
		nullable(op.TargetVID), nullable(op.TargetPID), string(op.Outcome), op.DryRun,
		op.Duration.Milliseconds(), nullString(op.Error), nullString(op.BackupID),
	)
	if err != nil {
		return 0, fmt.Errorf("insert operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit operations, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp_ns, type, vendor_id, product_id, chipset, target_vid, target_pid, result, dry_run, duration_ms, error, backup_id
		FROM operations ORDER BY timestamp_ns DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var res []Operation
	for rows.Next() {
		var (
			op                   Operation
			ts, durMs            int64
			typ, outcome         string
			targetVID, targetPID sql.NullInt64
			errMsg, backupID     sql.NullString
		)
		if err := rows.Scan(&op.ID, &ts, &typ, &op.VendorID, &op.ProductID, &op.Chipset, &targetVID, &targetPID, &outcome, &op.DryRun, &durMs, &errMsg, &backupID); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Timestamp = time.Unix(0, ts)
		op.Type = Type(typ)
		op.Outcome = Outcome(outcome)
		op.TargetVID = uint16(targetVID.Int64)
		op.TargetPID = uint16(targetPID.Int64)
		op.Duration = time.Duration(durMs) * time.Millisecond
		op.Error = errMsg.String
		op.BackupID = backupID.String
		res = append(res, op)
	}
	return res, rows.Err()
}

type Stats struct {
	Total           int
	ByOutcome       map[Outcome]int
	ByType          map[Type]int
	AverageDuration time.Duration
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByOutcome: make(map[Outcome]int),
		ByType:    make(map[Type]int),
	}
	rows, err := s.db.QueryContext(ctx, `SELECT type, result, COUNT(*), COALESCE(SUM(duration_ms), 0) FROM operations GROUP BY type, result`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var totalMs int64
	for rows.Next() {
		var (
			typ, outcome string
			n            int
			ms           int64
		)
		if err := rows.Scan(&typ, &outcome, &n, &ms); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.Total += n
		st.ByType[Type(typ)] += n
		st.ByOutcome[Outcome(outcome)] += n
		totalMs += ms
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if st.Total > 0 {
		st.AverageDuration = time.Duration(totalMs/int64(st.Total)) * time.Millisecond
	}
	return st, nil
}

// Clear deletes every entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM operations`); err != nil {
		return fmt.Errorf("clear operations: %w", err)
	}
	return nil
}
