package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"watchroom-server/clock"
	"watchroom-server/domain"
	"watchroom-server/metrics"
	"watchroom-server/protocol"
	"watchroom-server/room"
)

const DefaultInterval = 5 * time.Second

// Sender delivers a frame to every member of a room.
type Sender interface {
	Broadcast(roomID string, data []byte, exclude string)
}

// Broadcaster periodically pushes the extrapolated position of every playing
// room to its members.
type Broadcaster struct {
	rooms    *room.Registry
	sender   Sender
	clock    clock.Clock
	interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(rooms *room.Registry, sender Sender, clk clock.Clock, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Broadcaster{
		rooms:    rooms,
		sender:   sender,
		clock:    clk,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the ticker. Later calls are no-ops.
func (b *Broadcaster) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		b.cancel = cancel
		go func() {
			defer close(b.done)
			b.run(ctx)
		}()
	})
}

// Stop cancels the ticker and waits for the loop to exit. It is safe to call
// more than once, and before Start.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		started := false
		b.startOnce.Do(func() { close(b.done) })
		if b.cancel != nil {
			started = true
			b.cancel()
		}
		<-b.done
		slog.Info("heartbeat stopped", "started", started)
	})
}

func (b *Broadcaster) run(ctx context.Context) {
	slog.Info("heartbeat started", "interval", b.interval)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick(b.clock.Now())
		}
	}
}

// Tick sends one heartbeat round over a snapshot of the registry and returns
// the number of rooms that were sent one.
func (b *Broadcaster) Tick(now time.Time) int {
	start := time.Now()
	defer func() {
		metrics.HeartbeatTicks.Inc()
		metrics.HeartbeatDuration.Observe(time.Since(start).Seconds())
	}()

	sent := 0
	for _, r := range b.rooms.Snapshot() {
		ok, err := b.beat(r, now)
		switch {
		case err != nil && errors.Is(err, domain.ErrNotFound):
			metrics.HeartbeatRooms.WithLabelValues("gone").Inc()
		case err != nil:
			metrics.HeartbeatRooms.WithLabelValues("failed").Inc()
			slog.Error("heartbeat failed", "roomId", r.ID(), "error", err)
		case ok:
			sent++
			metrics.HeartbeatRooms.WithLabelValues("sent").Inc()
		default:
			metrics.HeartbeatRooms.WithLabelValues("paused").Inc()
		}
	}
	return sent
}

func (b *Broadcaster) beat(r *room.Room, now time.Time) (sent bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			sent, err = false, fmt.Errorf("heartbeat panic: %v", rec)
		}
	}()

	a, err := r.Anchor()
	if err != nil {
		return false, err
	}
	if !a.IsPlaying {
		return false, nil
	}

	data, err := protocol.Message{
		Type: protocol.EventSyncHeartbeat,
		Payload: protocol.SyncState{
			IsPlaying:   a.IsPlaying,
			CurrentTime: clock.Extrapolate(a, now),
			ServerTime:  clock.Millis(now),
		},
	}.Encode()
	if err != nil {
		return false, err
	}
	b.sender.Broadcast(r.ID(), data, "")
	r.MarkHeartbeat(now)
	return true, nil
}
