// Package tasks supervises the background work whose lifetime must track
// the chat session: the periodic broadcaster and the notification consumer.
package tasks

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Jasguerrero/wa-bot/internal/session"
)

// BroadcastHandle is a live broadcaster. Stop blocks until the schedule is
// cancelled and any running tick has drained.
type BroadcastHandle interface {
	Stop()
}

// ConsumerHandle is a live queue subscription. Close blocks until in-flight
// processing has stopped and the underlying connection is released.
type ConsumerHandle interface {
	Close() error
}

// Supervisor owns at most one live broadcaster and one live consumer.
// It is the only place background tasks are created, which makes "two live
// consumers" unrepresentable: Restart holds the lock across the whole
// teardown and setup.
type Supervisor struct {
	newBroadcaster func(sock session.Socket) (BroadcastHandle, error)
	newConsumer    func(sock session.Socket) (ConsumerHandle, error)

	mu          sync.Mutex
	broadcaster BroadcastHandle
	consumer    ConsumerHandle
}

// NewSupervisor creates a Supervisor from task factories. Factories are
// invoked with the socket the tasks must send through.
func NewSupervisor(
	newBroadcaster func(sock session.Socket) (BroadcastHandle, error),
	newConsumer func(sock session.Socket) (ConsumerHandle, error),
) *Supervisor {
	return &Supervisor{
		newBroadcaster: newBroadcaster,
		newConsumer:    newConsumer,
	}
}

// Restart tears down any previous task set, then creates a fresh one bound
// to sock. The previous set is fully released before the new one exists.
func (s *Supervisor) Restart(sock session.Socket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	broadcaster, err := s.newBroadcaster(sock)
	if err != nil {
		return fmt.Errorf("start broadcaster: %w", err)
	}

	consumer, err := s.newConsumer(sock)
	if err != nil {
		broadcaster.Stop()
		return fmt.Errorf("start consumer: %w", err)
	}

	s.broadcaster = broadcaster
	s.consumer = consumer
	slog.Info("Scheduled tasks initialized")
	return nil
}

// StopAll releases the current task set. Idempotent: safe to call when
// nothing is running.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	if s.broadcaster != nil {
		s.broadcaster.Stop()
		s.broadcaster = nil
	}
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			slog.Error("Failed to close notification consumer", "error", err)
		}
		s.consumer = nil
	}
}
