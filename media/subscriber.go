package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"watchroom-server/clock"
	"watchroom-server/domain"
	"watchroom-server/metrics"
)

const DefaultChannel = "media:transcode"

// Signal is a transcoding pipeline notification.
type Signal struct {
	MediaID    string      `json:"mediaId"`
	Title      string      `json:"title,omitempty"`
	Status     Status      `json:"status"`
	Progress   int         `json:"progress,omitempty"`
	Renditions []Rendition `json:"renditions,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// Dial connects to redis and checks the connection.
func Dial(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Subscriber applies pipeline signals published on a redis channel to the
// catalog.
type Subscriber struct {
	client  *redis.Client
	channel string
	catalog *Catalog
	clock   clock.Clock
}

func NewSubscriber(client *redis.Client, channel string, catalog *Catalog, clk clock.Clock) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{client: client, channel: channel, catalog: catalog, clock: clk}
}

// Run consumes the channel until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	slog.Info("media subscriber started", "channel", s.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle([]byte(msg.Payload))
		}
	}
}

func (s *Subscriber) handle(data []byte) {
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		metrics.MediaSignals.WithLabelValues("invalid").Inc()
		slog.Warn("invalid media signal", "error", err)
		return
	}
	if err := s.Apply(sig); err != nil {
		metrics.MediaSignals.WithLabelValues("rejected").Inc()
		slog.Warn("media signal rejected", "mediaId", sig.MediaID, "status", sig.Status, "error", err)
		return
	}
	metrics.MediaSignals.WithLabelValues(string(sig.Status)).Inc()
}

// Apply updates the catalog from one signal. Items the catalog has not seen
// yet are registered first.
func (s *Subscriber) Apply(sig Signal) error {
	if sig.MediaID == "" {
		return fmt.Errorf("signal without mediaId: %w", domain.ErrInvalidState)
	}
	now := s.clock.Now()
	if err := s.ensure(sig, now); err != nil {
		return err
	}

	var err error
	switch sig.Status {
	case StatusPending:
	case StatusProcessing:
		_, err = s.catalog.Progress(sig.MediaID, sig.Progress, now)
	case StatusReady:
		_, err = s.catalog.Complete(sig.MediaID, sig.Renditions, now)
	case StatusFailed:
		_, err = s.catalog.Fail(sig.MediaID, sig.Error, now)
	default:
		err = fmt.Errorf("unknown status %q: %w", sig.Status, domain.ErrInvalidState)
	}
	return err
}

func (s *Subscriber) ensure(sig Signal, now time.Time) error {
	if _, err := s.catalog.Get(sig.MediaID); !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	_, err := s.catalog.Register(sig.MediaID, sig.Title, now)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil
	}
	return err
}
