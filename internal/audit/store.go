// Package audit provides the append-only delivery audit trail.
package audit

import (
	"context"

	"github.com/Jasguerrero/wa-bot/internal/domain"
)

// Store persists audit records. Records are insert-only; nothing in the bot
// ever updates or deletes one.
type Store interface {
	// Insert appends one audit record.
	Insert(ctx context.Context, rec *domain.AuditRecord) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]*domain.AuditRecord, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close closes the underlying connection.
	Close() error
}
