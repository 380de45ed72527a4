// Package lifecycle owns the chat session: it establishes the socket,
// drives reconnect with bounded retry, and couples the background task set
// to the session's lifetime.
package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Jasguerrero/wa-bot/internal/session"
	"github.com/mdp/qrterminal/v3"
)

// Terminal outcomes of the session loop.
var (
	// ErrAuthFailure means the gateway logged the session out; the operator
	// must re-pair. Not retryable.
	ErrAuthFailure = errors.New("authentication failure, re-scan required")

	// ErrRetriesExhausted means the reconnect cap was hit.
	ErrRetriesExhausted = errors.New("max reconnect attempts reached")
)

// Decision is the outcome of classifying a session close.
type Decision int

const (
	// DecisionReconnect retries the session.
	DecisionReconnect Decision = iota
	// DecisionTerminateAuth stops the process: credentials are invalid.
	DecisionTerminateAuth
	// DecisionTerminateExhausted stops the process: retry cap reached.
	DecisionTerminateExhausted
)

// Decide classifies a close as a pure function of (status, retry counter,
// cap). Auth failures are fatal regardless of the counter.
func Decide(closeStatus, retries, maxRetries int) Decision {
	if closeStatus == session.StatusLoggedOut {
		return DecisionTerminateAuth
	}
	if retries >= maxRetries {
		return DecisionTerminateExhausted
	}
	return DecisionReconnect
}

// TaskSupervisor is the background task set coupled to the session.
type TaskSupervisor interface {
	Restart(sock session.Socket) error
	StopAll()
}

// MessageHandler receives inbound chat messages along with the socket
// replies must go through.
type MessageHandler interface {
	HandleMessage(ctx context.Context, sock session.Socket, msg *session.IncomingMessage)
}

// Snapshot is the manager's externally visible state.
type Snapshot struct {
	State   session.State `json:"state"`
	Retries int           `json:"retries"`
	SelfJID string        `json:"self_jid,omitempty"`
}

// Manager runs the session loop. It is the sole owner of the socket
// instance and of the retry counter.
type Manager struct {
	dialer     session.Dialer
	supervisor TaskSupervisor
	handler    MessageHandler

	maxRetries int
	retryDelay time.Duration
	filterSelf bool // drop own messages (production sessions)

	qrOut io.Writer

	mu   sync.Mutex
	snap Snapshot
}

// Options tune the manager.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	FilterSelf bool
	QROut      io.Writer // defaults to stdout
}

// NewManager creates a Manager.
func NewManager(dialer session.Dialer, supervisor TaskSupervisor, handler MessageHandler, opts Options) *Manager {
	if opts.QROut == nil {
		opts.QROut = os.Stdout
	}
	return &Manager{
		dialer:     dialer,
		supervisor: supervisor,
		handler:    handler,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		filterSelf: opts.FilterSelf,
		qrOut:      opts.QROut,
		snap:       Snapshot{State: session.StateDisconnected},
	}
}

// Snapshot returns the current session state for the ops API.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Run drives the session until a terminal condition. An explicit loop
// carries the retry counter: no recursive restarts, no unbounded stack
// growth on flappy connections.
func (m *Manager) Run(ctx context.Context) error {
	retries := 0
	for {
		slog.Info("Establishing session", "attempt", retries)

		closeStatus := 0
		opened := false
		sock, err := m.dialer.Dial(ctx)
		if err != nil {
			slog.Error("Failed to establish session", "error", err)
		} else {
			closeStatus, opened = m.pump(ctx, sock)
		}
		if opened {
			// A successful connection resets the counter; a later close
			// starts a fresh retry budget.
			retries = 0
		}

		if ctx.Err() != nil {
			m.setState(session.StateTerminated, retries, "")
			return ctx.Err()
		}

		switch Decide(closeStatus, retries, m.maxRetries) {
		case DecisionTerminateAuth:
			slog.Error("Authentication error. Please re-scan the QR code.")
			m.setState(session.StateTerminated, retries, "")
			return ErrAuthFailure
		case DecisionTerminateExhausted:
			slog.Error("Max retries reached", "max", m.maxRetries)
			m.setState(session.StateTerminated, retries, "")
			return ErrRetriesExhausted
		case DecisionReconnect:
			retries++
			m.setState(session.StateReconnecting, retries, "")
			slog.Info("Reconnecting", "attempt", retries, "max", m.maxRetries)
			if m.retryDelay > 0 {
				select {
				case <-time.After(m.retryDelay):
				case <-ctx.Done():
				}
			}
		}
	}
}

// pump consumes socket events until the session closes. On close the task
// set is stopped synchronously before anything else, so no stale background
// work ever runs against a dead socket.
func (m *Manager) pump(ctx context.Context, sock session.Socket) (closeStatus int, opened bool) {
	defer func() {
		if err := sock.Close(); err != nil {
			slog.Debug("Failed to close socket", "error", err)
		}
	}()

	events := sock.Events()
	for {
		select {
		case <-ctx.Done():
			m.supervisor.StopAll()
			return 0, opened

		case ev, ok := <-events:
			if !ok {
				m.supervisor.StopAll()
				m.setState(session.StateDisconnected, 0, "")
				return 0, opened
			}

			switch ev.Kind {
			case session.EventQR:
				m.setState(session.StateAwaitingScan, 0, "")
				slog.Info("Scan the QR code to authenticate")
				qrterminal.GenerateHalfBlock(ev.QRCode, qrterminal.L, m.qrOut)

			case session.EventOpen:
				opened = true
				m.setState(session.StateConnected, 0, ev.SelfJID)
				slog.Info("Connected successfully", "self_jid", ev.SelfJID)
				if err := m.supervisor.Restart(sock); err != nil {
					slog.Error("Error setting up scheduled tasks", "error", err)
				}

			case session.EventMessage:
				if ev.Message == nil {
					continue
				}
				if m.filterSelf && ev.Message.FromMe {
					continue
				}
				slog.Info("Message received", "from", ev.Message.From)
				m.handler.HandleMessage(ctx, sock, ev.Message)

			case session.EventClose:
				// Teardown first: background tasks must never outlive the
				// socket they send through.
				m.supervisor.StopAll()
				m.setState(session.StateDisconnected, 0, "")
				slog.Warn("Connection closed", "status", ev.StatusCode)
				return ev.StatusCode, opened
			}
		}
	}
}

func (m *Manager) setState(state session.State, retries int, selfJID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = Snapshot{State: state, Retries: retries, SelfJID: selfJID}
}
