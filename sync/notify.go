package sync

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Channels names the two change-notification topics.
type Channels struct {
	LogLevel       string
	ConfigModified string
}

// Notification is one message received on a topic.
type Notification struct {
	Channel string
	Payload string
}

// Notifier delivers messages published on the given channels until ctx is
// done, at which point the returned channel is closed.
type Notifier interface {
	Subscribe(ctx context.Context, channels ...string) (<-chan Notification, error)
}

// RedisNotifier is a Notifier over Redis pub/sub.
type RedisNotifier struct {
	client redis.UniversalClient
}

var _ Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier wraps an existing client.
func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Subscribe confirms the subscription before returning.
func (n *RedisNotifier) Subscribe(ctx context.Context, channels ...string) (<-chan Notification, error) {
	ps := n.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close() //nolint:errcheck
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	out := make(chan Notification, 16)
	go func() {
		defer close(out)
		defer ps.Close() //nolint:errcheck
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Notification{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// PublishLogLevel broadcasts a new process log level.
func PublishLogLevel(ctx context.Context, client redis.UniversalClient, channels Channels, level string) error {
	if err := client.Publish(ctx, channels.LogLevel, level).Err(); err != nil {
		return fmt.Errorf("publish log level: %w", err)
	}
	return nil
}
