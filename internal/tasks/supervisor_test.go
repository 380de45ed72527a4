package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/Jasguerrero/wa-bot/internal/session"
)

type stubSocket struct{}

func (stubSocket) Events() <-chan session.Event { return nil }

func (stubSocket) Send(ctx context.Context, to string, msg session.OutgoingMessage) (*session.SendReceipt, error) {
	return &session.SendReceipt{}, nil
}

func (stubSocket) SendPresence(ctx context.Context, to string, presence session.Presence) error {
	return nil
}

func (stubSocket) ProbeReachable(ctx context.Context, phone string) (*session.ProbeResult, error) {
	return &session.ProbeResult{Exists: true}, nil
}

func (stubSocket) SelfJID() string { return "bot@s.whatsapp.net" }
func (stubSocket) Close() error    { return nil }

type fakeBroadcaster struct{ stopped int }

func (b *fakeBroadcaster) Stop() { b.stopped++ }

type fakeConsumer struct{ closed int }

func (c *fakeConsumer) Close() error {
	c.closed++
	return nil
}

// harness wires a Supervisor to factories that record every handle they
// produce.
type harness struct {
	sup          *Supervisor
	broadcasters []*fakeBroadcaster
	consumers    []*fakeConsumer
	consumerErr  error
}

func newHarness() *harness {
	h := &harness{}
	h.sup = NewSupervisor(
		func(sock session.Socket) (BroadcastHandle, error) {
			b := &fakeBroadcaster{}
			h.broadcasters = append(h.broadcasters, b)
			return b, nil
		},
		func(sock session.Socket) (ConsumerHandle, error) {
			if h.consumerErr != nil {
				return nil, h.consumerErr
			}
			c := &fakeConsumer{}
			h.consumers = append(h.consumers, c)
			return c, nil
		},
	)
	return h
}

func TestRestart_ReplacesPreviousTaskSet(t *testing.T) {
	h := newHarness()

	for i := 0; i < 3; i++ {
		if err := h.sup.Restart(stubSocket{}); err != nil {
			t.Fatalf("restart %d failed: %v", i, err)
		}
	}

	if len(h.broadcasters) != 3 || len(h.consumers) != 3 {
		t.Fatalf("expected 3 task sets created, got %d/%d", len(h.broadcasters), len(h.consumers))
	}
	// All but the latest must be released exactly once.
	for i := 0; i < 2; i++ {
		if h.broadcasters[i].stopped != 1 {
			t.Errorf("broadcaster %d stopped %d times, want 1", i, h.broadcasters[i].stopped)
		}
		if h.consumers[i].closed != 1 {
			t.Errorf("consumer %d closed %d times, want 1", i, h.consumers[i].closed)
		}
	}
	if h.broadcasters[2].stopped != 0 || h.consumers[2].closed != 0 {
		t.Error("latest task set must still be live after restart")
	}
}

func TestRestart_ConsumerFactoryFailureReleasesBroadcaster(t *testing.T) {
	h := newHarness()
	h.consumerErr = errors.New("broker unreachable")

	if err := h.sup.Restart(stubSocket{}); err == nil {
		t.Fatal("expected restart to fail when the consumer factory fails")
	}
	if len(h.broadcasters) != 1 || h.broadcasters[0].stopped != 1 {
		t.Fatal("broadcaster created before the failure must be stopped")
	}

	// A half-started set must not linger: StopAll has nothing to release.
	h.sup.StopAll()
	if h.broadcasters[0].stopped != 1 {
		t.Errorf("broadcaster stopped %d times, want 1", h.broadcasters[0].stopped)
	}
}

func TestStopAll_Idempotent(t *testing.T) {
	h := newHarness()

	h.sup.StopAll() // nothing running yet

	if err := h.sup.Restart(stubSocket{}); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	h.sup.StopAll()
	h.sup.StopAll()

	if h.broadcasters[0].stopped != 1 {
		t.Errorf("broadcaster stopped %d times, want 1", h.broadcasters[0].stopped)
	}
	if h.consumers[0].closed != 1 {
		t.Errorf("consumer closed %d times, want 1", h.consumers[0].closed)
	}
}
