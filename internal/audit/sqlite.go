package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Jasguerrero/wa-bot/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed audit store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS audit_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		raw_message TEXT NOT NULL,
		parsed_message TEXT,
		timestamp INTEGER NOT NULL,
		status TEXT NOT NULL,
		recipient TEXT,
		message_id TEXT,
		remote_jid TEXT,
		acknowledged INTEGER NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_records(status);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert appends one audit record.
func (s *SQLiteStore) Insert(ctx context.Context, rec *domain.AuditRecord) error {
	query := `
	INSERT INTO audit_records (
		raw_message, parsed_message, timestamp, status,
		recipient, message_id, remote_jid, acknowledged, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var parsed interface{}
	if rec.ParsedMessage != nil {
		data, err := json.Marshal(rec.ParsedMessage)
		if err != nil {
			return fmt.Errorf("marshal parsed message: %w", err)
		}
		parsed = string(data)
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.RawMessage, parsed, rec.Timestamp.Unix(), rec.Status,
		nullable(rec.Recipient), nullable(rec.MessageID), nullable(rec.RemoteJID),
		rec.Acknowledged, nullable(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*domain.AuditRecord, error) {
	query := `
		SELECT raw_message, parsed_message, timestamp, status,
		       recipient, message_id, remote_jid, acknowledged, error
		FROM audit_records ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close audit rows", "error", closeErr)
		}
	}()

	var records []*domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var parsed, recipient, messageID, remoteJID, errText sql.NullString
		var ts int64

		if err := rows.Scan(
			&rec.RawMessage, &parsed, &ts, &rec.Status,
			&recipient, &messageID, &remoteJID, &rec.Acknowledged, &errText,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}

		rec.Timestamp = time.Unix(ts, 0)
		rec.Recipient = recipient.String
		rec.MessageID = messageID.String
		rec.RemoteJID = remoteJID.String
		rec.Error = errText.String

		if parsed.Valid {
			var n domain.Notification
			if err := json.Unmarshal([]byte(parsed.String), &n); err == nil {
				rec.ParsedMessage = &n
			}
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
