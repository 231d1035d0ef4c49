package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ConfigStore holds the shared binding configuration.
type ConfigStore interface {
	// Fetch returns the stored snapshot. A missing key yields an empty
	// snapshot and no error.
	Fetch(ctx context.Context) (ConfigSnapshot, error)
}

// RedisConfigStore keeps the snapshot as JSON under a single key and
// announces changes on the config-modified channel.
type RedisConfigStore struct {
	client   redis.UniversalClient
	key      string
	channels Channels
}

var _ ConfigStore = (*RedisConfigStore)(nil)

// NewRedisConfigStore creates a store for key.
func NewRedisConfigStore(client redis.UniversalClient, key string, channels Channels) *RedisConfigStore {
	return &RedisConfigStore{client: client, key: key, channels: channels}
}

// Fetch reads and decodes the snapshot.
func (s *RedisConfigStore) Fetch(ctx context.Context) (ConfigSnapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ConfigSnapshot{}, nil
	}
	if err != nil {
		return ConfigSnapshot{}, fmt.Errorf("read config %s: %w", s.key, err)
	}
	return DecodeSnapshot(data)
}

// Put stores snap and publishes its modified token.
func (s *RedisConfigStore) Put(ctx context.Context, snap ConfigSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("write config %s: %w", s.key, err)
	}
	if err := s.client.Publish(ctx, s.channels.ConfigModified, snap.Modified).Err(); err != nil {
		return fmt.Errorf("publish config change: %w", err)
	}
	return nil
}

// DecodeSnapshot parses a stored snapshot. Empty input is an empty snapshot.
func DecodeSnapshot(data []byte) (ConfigSnapshot, error) {
	var snap ConfigSnapshot
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return ConfigSnapshot{}, fmt.Errorf("decode config: %w", err)
	}
	return snap, nil
}
