// Package receipts keeps a local journal of create-booking attempts so a
// submit retried after a failure or crash reuses its idempotency key.
package receipts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// Status is the outcome of an attempt as far as the client knows.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned for unknown keys.
var ErrNotFound = errors.New("receipt not found")

// Receipt is one create-booking attempt.
type Receipt struct {
	Key         string
	Fingerprint string
	Status      Status
	BookingID   int64
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Journal stores receipts in SQLite.
type Journal struct {
	db     *sql.DB
	path   string
	logger *zerolog.Logger
	now    func() time.Time
}

// Open opens or creates the journal at path.
func Open(path string, logger *zerolog.Logger) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	j := &Journal{db: db, path: path, logger: logger, now: time.Now}
	if err := j.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Debug().Str("path", path).Msg("receipts journal opened")
	return j, nil
}

func (j *Journal) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS receipts (
			key TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			booking_id INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_fingerprint ON receipts(fingerprint, status)`,
	}
	for _, q := range queries {
		if _, err := j.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// PingContext checks the database.
func (j *Journal) PingContext(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Begin records a pending attempt. Beginning an existing key is a no-op.
func (j *Journal) Begin(ctx context.Context, key, fingerprint string) error {
	now := j.now().UTC()
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO receipts (key, fingerprint, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key, fingerprint, StatusPending, now, now)
	if err != nil {
		return fmt.Errorf("begin receipt: %w", err)
	}
	return nil
}

// Pending returns the newest pending key recorded for fingerprint.
func (j *Journal) Pending(ctx context.Context, fingerprint string) (string, bool, error) {
	var key string
	err := j.db.QueryRowContext(ctx,
		`SELECT key FROM receipts WHERE fingerprint = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`,
		fingerprint, StatusPending).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pending receipt: %w", err)
	}
	return key, true, nil
}

// Confirm marks key as accepted by the backend.
func (j *Journal) Confirm(ctx context.Context, key string, bookingID int64) error {
	return j.finish(ctx, key, StatusConfirmed, bookingID, "")
}

// Fail marks key as definitively rejected; a later attempt gets a new key.
func (j *Journal) Fail(ctx context.Context, key, reason string) error {
	return j.finish(ctx, key, StatusFailed, 0, reason)
}

func (j *Journal) finish(ctx context.Context, key string, status Status, bookingID int64, reason string) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE receipts SET status = ?, booking_id = ?, reason = ?, updated_at = ? WHERE key = ?`,
		status, bookingID, reason, j.now().UTC(), key)
	if err != nil {
		return fmt.Errorf("update receipt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the receipt for key.
func (j *Journal) Get(ctx context.Context, key string) (*Receipt, error) {
	var r Receipt
	err := j.db.QueryRowContext(ctx,
		`SELECT key, fingerprint, status, booking_id, reason, created_at, updated_at
		 FROM receipts WHERE key = ?`, key).
		Scan(&r.Key, &r.Fingerprint, &r.Status, &r.BookingID, &r.Reason, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return &r, nil
}

// List returns receipts, newest first, optionally filtered by status.
func (j *Journal) List(ctx context.Context, status Status, limit int) ([]Receipt, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT key, fingerprint, status, booking_id, reason, created_at, updated_at FROM receipts`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var r Receipt
		if err := rows.Scan(&r.Key, &r.Fingerprint, &r.Status, &r.BookingID, &r.Reason, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes finished receipts last updated before cutoff.
func (j *Journal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := j.now().UTC().Add(-olderThan)
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM receipts WHERE status != ? AND updated_at < ?`, StatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune receipts: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		j.logger.Info().Int64("deleted", n).Msg("receipts pruned")
	}
	return n, nil
}
