// Package domain holds the core data types shared across the bot.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Notification is a single entry pulled from the notification queue.
// It arrives as a UTF-8 JSON record produced by the scheduler.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	ExtraInfo ExtraInfo `json:"extra_info"`
}

// ExtraInfo carries routing metadata attached to a notification.
type ExtraInfo struct {
	Phone string `json:"phone"`
}

// ParseNotification decodes a raw queue payload into a Notification.
func ParseNotification(raw []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("parse notification: %w", err)
	}
	return &n, nil
}

// Delivery outcome statuses recorded in the audit trail.
const (
	StatusDelivered       = "delivered"
	StatusMissingPhone    = "missing_phone"
	StatusMissingMessage  = "missing_message"
	StatusNotOnWhatsApp   = "undeliverable_number_not_on_whatsapp"
	StatusProcessingError = "processing_error"
)

// AuditRecord is the append-only log entry written for every terminal
// (acknowledged) notification outcome. Requeued attempts are not recorded.
type AuditRecord struct {
	RawMessage    string        `json:"raw_message"`
	ParsedMessage *Notification `json:"parsed_message,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	Status        string        `json:"status"`
	Recipient     string        `json:"recipient,omitempty"`
	MessageID     string        `json:"message_id,omitempty"`
	RemoteJID     string        `json:"remote_jid,omitempty"`
	Acknowledged  bool          `json:"acknowledged"`
	Error         string        `json:"error,omitempty"`
}
