package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Jasguerrero/wa-bot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return store
}

func TestSQLite_InsertAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &domain.AuditRecord{
		RawMessage: `{"id":"n1","message":"hi","extra_info":{"phone":"5550001"}}`,
		ParsedMessage: &domain.Notification{
			ID:        "n1",
			Message:   "hi",
			ExtraInfo: domain.ExtraInfo{Phone: "5550001"},
		},
		Timestamp:    time.Now(),
		Status:       domain.StatusDelivered,
		Recipient:    "5550001",
		MessageID:    "wamid.1",
		RemoteJID:    "5550001@s.whatsapp.net",
		Acknowledged: true,
	}
	second := &domain.AuditRecord{
		RawMessage:   `not json`,
		Timestamp:    time.Now(),
		Status:       domain.StatusProcessingError,
		Acknowledged: true,
		Error:        "parse notification: invalid character 'o'",
	}

	if err := store.Insert(ctx, first); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, second); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	records, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	// Newest first.
	if records[0].Status != domain.StatusProcessingError {
		t.Errorf("expected newest record first, got status %s", records[0].Status)
	}
	if records[0].Error == "" {
		t.Error("expected error text on processing_error record")
	}
	if records[0].ParsedMessage != nil {
		t.Error("unparseable record must have no parsed message")
	}

	got := records[1]
	if got.Status != domain.StatusDelivered || got.Recipient != "5550001" {
		t.Errorf("unexpected delivered record: %+v", got)
	}
	if got.MessageID != "wamid.1" || got.RemoteJID != "5550001@s.whatsapp.net" {
		t.Errorf("delivery identifiers lost: %+v", got)
	}
	if got.ParsedMessage == nil || got.ParsedMessage.ID != "n1" {
		t.Errorf("parsed message lost: %+v", got.ParsedMessage)
	}
	if !got.Acknowledged {
		t.Error("acknowledged flag lost")
	}
}

func TestSQLite_RecentRespectsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := &domain.AuditRecord{
			RawMessage:   "{}",
			Timestamp:    time.Now(),
			Status:       domain.StatusMissingPhone,
			Acknowledged: true,
		}
		if err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	records, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 records, got %d", len(records))
	}
}

func TestSQLite_RecentEmpty(t *testing.T) {
	store := newTestStore(t)

	records, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestSQLite_Ping(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
