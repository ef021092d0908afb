package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel permission bumps are published on.
const DefaultChannel = "permissions.bump"

// Broadcaster publishes and receives permission-change notifications over
// Redis pub/sub so that every replica refreshes after a write on any of them.
type Broadcaster struct {
	client   *redis.Client
	channel  string
	instance string
	logger   *slog.Logger
}

var _ Publisher = (*Broadcaster)(nil)

// NewBroadcaster returns a broadcaster with a fresh instance identifier.
func NewBroadcaster(client *redis.Client, channel string, logger *slog.Logger) *Broadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{client: client, channel: channel, instance: uuid.NewString(), logger: logger}
}

// Instance identifies this process in published messages.
func (b *Broadcaster) Instance() string {
	if b == nil {
		return ""
	}
	return b.instance
}

// Publish announces a change.
func (b *Broadcaster) Publish(ctx context.Context) error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Publish(ctx, b.channel, b.instance).Err()
}

// Listen subscribes to the channel and calls onBump for every message sent by
// another instance. It returns once the subscription is confirmed; delivery
// runs in a goroutine until ctx is cancelled.
func (b *Broadcaster) Listen(ctx context.Context, onBump func(context.Context) error) error {
	if b == nil || b.client == nil {
		return nil
	}
	if onBump == nil {
		return errors.New("rbac: bump handler required")
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if strings.TrimSpace(msg.Payload) == b.instance {
					continue
				}
				if err := onBump(ctx); err != nil {
					b.logger.Warn("rbac refresh on bump", slog.String("from", msg.Payload), slog.Any("error", err))
				}
			}
		}
	}()
	return nil
}
