// Package history keeps a queryable SQLite index of deployment attempts.
// The plain-text deployment log stays the durable record; this index backs
// the status endpoint and the history command.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"docshook/internal/deployment"
	"docshook/internal/security"

	_ "modernc.org/sqlite"
)

// History manages deployment history in SQLite
type History struct {
	db *sql.DB
}

// NewHistory opens (creating if needed) the history database at dbPath
func NewHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := security.RestrictPermissions(dbPath, security.PermDBFile); err != nil {
		db.Close()
		return nil, err
	}

	return h, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			attempt_id TEXT NOT NULL UNIQUE,
			delivery_id TEXT,
			ref TEXT,
			commit_hash TEXT,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			duration_seconds REAL NOT NULL,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_started
		ON deployments(started_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordAttempt stores a deployment attempt and returns its row ID
func (h *History) RecordAttempt(ctx context.Context, attempt deployment.Attempt) (int64, error) {
	result, err := h.db.ExecContext(ctx, `
		INSERT INTO deployments
		(attempt_id, delivery_id, ref, commit_hash, status, started_at,
		 duration_seconds, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		attempt.ID.String(),
		nullable(attempt.DeliveryID),
		nullable(attempt.Ref),
		nullable(attempt.Commit),
		string(attempt.Status),
		attempt.Timestamp.UTC().Format(time.RFC3339Nano),
		attempt.Duration.Seconds(),
		nullable(attempt.ErrorDetail()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deployment record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetLatestDeployment returns the most recent attempt, or nil if none exist
func (h *History) GetLatestDeployment(ctx context.Context) (*DeploymentRecord, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT id, attempt_id, delivery_id, ref, commit_hash, status,
		       started_at, duration_seconds, error_message
		FROM deployments
		ORDER BY id DESC
		LIMIT 1
	`)

	record, err := scanDeploymentRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest deployment: %w", err)
	}

	return record, nil
}

// GetDeploymentHistory returns up to limit attempts, newest first
func (h *History) GetDeploymentHistory(ctx context.Context, limit int) ([]DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, attempt_id, delivery_id, ref, commit_hash, status,
		       started_at, duration_seconds, error_message
		FROM deployments
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment history: %w", err)
	}
	defer rows.Close()

	records := []DeploymentRecord{}
	for rows.Next() {
		record, err := scanDeploymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeploymentRecord(s scanner) (*DeploymentRecord, error) {
	var record DeploymentRecord
	var startedAtStr string

	err := s.Scan(
		&record.ID,
		&record.AttemptID,
		&record.DeliveryID,
		&record.Ref,
		&record.CommitHash,
		&record.Status,
		&startedAtStr,
		&record.DurationSeconds,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339Nano, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	return &record, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
