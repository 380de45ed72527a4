package lifecycle

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/Jasguerrero/wa-bot/internal/session"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name        string
		closeStatus int
		retries     int
		max         int
		want        Decision
	}{
		{"transient close under cap", 500, 0, 5, DecisionReconnect},
		{"transient close at last attempt", 500, 4, 5, DecisionReconnect},
		{"transient close cap reached", 500, 5, 5, DecisionTerminateExhausted},
		{"auth failure always terminal", session.StatusLoggedOut, 0, 5, DecisionTerminateAuth},
		{"auth failure over cap", session.StatusLoggedOut, 9, 5, DecisionTerminateAuth},
		{"unknown status retries", 0, 2, 5, DecisionReconnect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.closeStatus, tt.retries, tt.max); got != tt.want {
				t.Errorf("Decide(%d, %d, %d) = %v, want %v",
					tt.closeStatus, tt.retries, tt.max, got, tt.want)
			}
		})
	}
}

type fakeSocket struct {
	events chan session.Event
	closed bool
}

func newFakeSocket(script ...session.Event) *fakeSocket {
	events := make(chan session.Event, len(script))
	for _, ev := range script {
		events <- ev
	}
	return &fakeSocket{events: events}
}

func (s *fakeSocket) Events() <-chan session.Event { return s.events }

func (s *fakeSocket) Send(ctx context.Context, to string, msg session.OutgoingMessage) (*session.SendReceipt, error) {
	return &session.SendReceipt{MessageID: "m1", RemoteJID: to}, nil
}

func (s *fakeSocket) SendPresence(ctx context.Context, to string, presence session.Presence) error {
	return nil
}

func (s *fakeSocket) ProbeReachable(ctx context.Context, phone string) (*session.ProbeResult, error) {
	return &session.ProbeResult{Exists: true, JID: phone}, nil
}

func (s *fakeSocket) SelfJID() string { return "999000111@s.whatsapp.net" }

func (s *fakeSocket) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	sockets []*fakeSocket
	next    int
}

func (d *fakeDialer) Dial(ctx context.Context) (session.Socket, error) {
	if d.next >= len(d.sockets) {
		return nil, errors.New("no more sockets scripted")
	}
	sock := d.sockets[d.next]
	d.next++
	return sock, nil
}

type fakeSupervisor struct {
	calls []string
}

func (s *fakeSupervisor) Restart(sock session.Socket) error {
	s.calls = append(s.calls, "restart")
	return nil
}

func (s *fakeSupervisor) StopAll() {
	s.calls = append(s.calls, "stop")
}

type nopHandler struct{ handled int }

func (h *nopHandler) HandleMessage(ctx context.Context, sock session.Socket, msg *session.IncomingMessage) {
	h.handled++
}

func newTestManager(dialer session.Dialer, sup TaskSupervisor, handler MessageHandler, maxRetries int) *Manager {
	return NewManager(dialer, sup, handler, Options{
		MaxRetries: maxRetries,
		QROut:      io.Discard,
	})
}

func TestRun_AuthFailureIsTerminal(t *testing.T) {
	dialer := &fakeDialer{sockets: []*fakeSocket{
		newFakeSocket(session.Event{Kind: session.EventClose, StatusCode: session.StatusLoggedOut}),
	}}
	sup := &fakeSupervisor{}
	m := newTestManager(dialer, sup, &nopHandler{}, 5)

	err := m.Run(context.Background())
	if !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
	if dialer.next != 1 {
		t.Errorf("expected exactly 1 dial, got %d", dialer.next)
	}
	if snap := m.Snapshot(); snap.State != session.StateTerminated {
		t.Errorf("expected terminated state, got %s", snap.State)
	}
}

func TestRun_RetriesExhausted(t *testing.T) {
	// Three transient closes with a cap of 2: attempts 1 and 2 reconnect,
	// the third close exceeds the cap.
	dialer := &fakeDialer{sockets: []*fakeSocket{
		newFakeSocket(session.Event{Kind: session.EventClose, StatusCode: 500}),
		newFakeSocket(session.Event{Kind: session.EventClose, StatusCode: 500}),
		newFakeSocket(session.Event{Kind: session.EventClose, StatusCode: 500}),
	}}
	sup := &fakeSupervisor{}
	m := newTestManager(dialer, sup, &nopHandler{}, 2)

	err := m.Run(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if dialer.next != 3 {
		t.Errorf("expected 3 dial attempts, got %d", dialer.next)
	}
}

func TestRun_RetryCounterResetsOnOpen(t *testing.T) {
	// Each session opens before closing, so the counter resets every time
	// and the cap of 1 is never exceeded until a session fails to open.
	dialer := &fakeDialer{sockets: []*fakeSocket{
		newFakeSocket(
			session.Event{Kind: session.EventOpen, SelfJID: "bot@s.whatsapp.net"},
			session.Event{Kind: session.EventClose, StatusCode: 500},
		),
		newFakeSocket(
			session.Event{Kind: session.EventOpen, SelfJID: "bot@s.whatsapp.net"},
			session.Event{Kind: session.EventClose, StatusCode: 500},
		),
		newFakeSocket(session.Event{Kind: session.EventClose, StatusCode: 500}),
	}}
	sup := &fakeSupervisor{}
	m := newTestManager(dialer, sup, &nopHandler{}, 1)

	err := m.Run(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	// Sockets 1 and 2 opened, so each close spent attempt 1 of 1; socket 3
	// never opened and its close hit the cap.
	if dialer.next != 3 {
		t.Errorf("expected 3 dial attempts, got %d", dialer.next)
	}
}

func TestRun_TasksRestartOnOpenAndStopOnClose(t *testing.T) {
	dialer := &fakeDialer{sockets: []*fakeSocket{
		newFakeSocket(
			session.Event{Kind: session.EventOpen, SelfJID: "bot@s.whatsapp.net"},
			session.Event{Kind: session.EventClose, StatusCode: session.StatusLoggedOut},
		),
	}}
	sup := &fakeSupervisor{}
	m := newTestManager(dialer, sup, &nopHandler{}, 5)

	if err := m.Run(context.Background()); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}

	want := []string{"restart", "stop"}
	if len(sup.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, sup.calls)
	}
	for i := range want {
		if sup.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, sup.calls)
		}
	}
	if !dialer.sockets[0].closed {
		t.Error("socket was not closed after session ended")
	}
}

func TestRun_MessagesReachHandler(t *testing.T) {
	dialer := &fakeDialer{sockets: []*fakeSocket{
		newFakeSocket(
			session.Event{Kind: session.EventOpen},
			session.Event{Kind: session.EventMessage, Message: &session.IncomingMessage{From: "g1@g.us", Text: "!boss"}},
			session.Event{Kind: session.EventMessage, Message: &session.IncomingMessage{From: "g1@g.us", Text: "hola", FromMe: true}},
			session.Event{Kind: session.EventClose, StatusCode: session.StatusLoggedOut},
		),
	}}
	handler := &nopHandler{}
	m := NewManager(dialer, &fakeSupervisor{}, handler, Options{
		MaxRetries: 5,
		FilterSelf: true,
		QROut:      io.Discard,
	})

	if err := m.Run(context.Background()); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
	if handler.handled != 1 {
		t.Errorf("expected 1 handled message (own message filtered), got %d", handler.handled)
	}
}

func TestRun_ContextCancelStopsLoop(t *testing.T) {
	sock := newFakeSocket(session.Event{Kind: session.EventOpen})
	dialer := &fakeDialer{sockets: []*fakeSocket{sock}}
	sup := &fakeSupervisor{}
	m := newTestManager(dialer, sup, &nopHandler{}, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
