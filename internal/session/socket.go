// Package session provides the connection to the WhatsApp gateway: the
// Socket abstraction the rest of the bot programs against, its event
// taxonomy, and credential persistence.
package session

import "context"

// State describes the bot's view of the chat session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateAwaitingScan State = "awaiting_scan"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateTerminated   State = "terminated"
)

// EventKind discriminates socket events.
type EventKind int

const (
	// EventQR carries a pairing code the operator must scan.
	EventQR EventKind = iota
	// EventOpen fires once the session is established.
	EventOpen
	// EventClose fires when the session drops; StatusCode classifies why.
	EventClose
	// EventMessage carries an inbound chat message.
	EventMessage
)

// StatusLoggedOut is the gateway close status for authentication failures.
// Anything else is treated as transient.
const StatusLoggedOut = 401

// Event is a single occurrence on the session socket.
type Event struct {
	Kind       EventKind
	QRCode     string
	SelfJID    string
	StatusCode int
	Message    *IncomingMessage
}

// IncomingMessage is an inbound chat message as delivered by the gateway.
type IncomingMessage struct {
	From         string   `json:"from"` // sender or group JID
	Text         string   `json:"text"`
	MentionedJID []string `json:"mentioned_jid,omitempty"`
	FromMe       bool     `json:"from_me,omitempty"`
}

// OutgoingMessage is a message to deliver. ImagePath, when set, attaches a
// locally stored image with Text as the caption.
type OutgoingMessage struct {
	Text      string
	ImagePath string
}

// SendReceipt identifies a delivered message.
type SendReceipt struct {
	MessageID string
	RemoteJID string
}

// ProbeResult reports whether a phone number is registered on the platform.
// JID is the canonical address to use for sending when Exists is true.
type ProbeResult struct {
	Exists bool
	JID    string
}

// Presence values understood by the gateway.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// Socket is the live connection to the chat platform. Implementations are
// single-session: one Socket maps to one gateway connection.
type Socket interface {
	// Events returns the socket's event stream. The channel closes when the
	// underlying connection is gone and no further events will arrive.
	Events() <-chan Event

	// Send delivers a message to the given JID.
	Send(ctx context.Context, to string, msg OutgoingMessage) (*SendReceipt, error)

	// SendPresence updates the bot's presence indicator in a chat.
	SendPresence(ctx context.Context, to string, presence Presence) error

	// ProbeReachable checks whether a phone number is on the platform.
	ProbeReachable(ctx context.Context, phone string) (*ProbeResult, error)

	// SelfJID returns the bot's own address, empty until the session opens.
	SelfJID() string

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Dialer establishes a new Socket. The lifecycle manager owns the only
// Socket instance; tests substitute fakes through this interface.
type Dialer interface {
	Dial(ctx context.Context) (Socket, error)
}
