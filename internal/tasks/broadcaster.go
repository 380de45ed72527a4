package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jasguerrero/wa-bot/internal/cache"
	"github.com/Jasguerrero/wa-bot/internal/session"
	"github.com/robfig/cron/v3"
)

const tickTimeout = 60 * time.Second

// Sender is the slice of the session socket the broadcaster needs.
type Sender interface {
	Send(ctx context.Context, to string, msg session.OutgoingMessage) (*session.SendReceipt, error)
}

// StatusSource composes the broadcast message. A non-nil error skips the
// whole tick.
type StatusSource func(ctx context.Context) (text string, imagePath string, err error)

// Broadcaster sends a status message to a set of destinations on a fixed
// schedule. A per-destination cache marker with a TTL suppresses repeats, so
// the tick rate is decoupled from the delivery rate: at most one broadcast
// per destination per suppression window, however often the timer fires.
type Broadcaster struct {
	sock         Sender
	cache        cache.Cache
	destinations []string
	window       time.Duration
	compose      StatusSource
	cron         *cron.Cron
}

// StartBroadcaster schedules the broadcast job at the given interval and
// returns its handle.
func StartBroadcaster(sock Sender, kv cache.Cache, destinations []string, interval, window time.Duration, compose StatusSource) (*Broadcaster, error) {
	b := &Broadcaster{
		sock:         sock,
		cache:        kv,
		destinations: destinations,
		window:       window,
		compose:      compose,
		cron:         cron.New(),
	}

	if _, err := b.cron.AddFunc(fmt.Sprintf("@every %s", interval), b.tick); err != nil {
		return nil, fmt.Errorf("schedule broadcast job: %w", err)
	}

	b.cron.Start()
	slog.Info("Periodic broadcaster started",
		"interval", interval, "window", window, "destinations", len(destinations))
	return b, nil
}

// Stop cancels the schedule and blocks until any running tick has drained.
func (b *Broadcaster) Stop() {
	<-b.cron.Stop().Done()
	slog.Info("Periodic broadcaster stopped")
}

func (b *Broadcaster) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	text, imagePath, err := b.compose(ctx)
	if err != nil {
		slog.Warn("Broadcast compose failed, skipping tick", "error", err)
		return
	}

	for _, dest := range b.destinations {
		key := "broadcast:" + dest

		marker, err := b.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("Broadcast marker lookup failed", "destination", dest, "error", err)
			continue
		}
		if marker != "" {
			continue // sent within the suppression window
		}

		if _, err := b.sock.Send(ctx, dest, session.OutgoingMessage{Text: text, ImagePath: imagePath}); err != nil {
			slog.Error("Broadcast send failed", "destination", dest, "error", err)
			continue
		}

		if err := b.cache.SetWithTTL(ctx, key, text, b.window); err != nil {
			slog.Warn("Failed to set broadcast marker", "destination", dest, "error", err)
		}
		slog.Info("Broadcast sent", "destination", dest)
	}
}
