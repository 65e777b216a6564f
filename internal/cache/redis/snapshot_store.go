package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/arvindrk/silverbot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore as a single JSON document
// at a fixed key. The bot trades one instrument, so one document is the
// whole durable state.
type SnapshotStore struct {
	rdb *redis.Client
	key string
}

// NewSnapshotStore creates a SnapshotStore backed by the given Client.
// keySuffix distinguishes parallel deployments; empty uses the default key.
func NewSnapshotStore(c *Client, keySuffix string) *SnapshotStore {
	key := "silverbot:state"
	if keySuffix != "" {
		key += ":" + keySuffix
	}
	return &SnapshotStore{rdb: c.Underlying(), key: key}
}

// SaveSnapshot writes the state document.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the state document. A missing document returns
// domain.ErrNotFound; a corrupt one is an error, never a silent reset.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context) (domain.Snapshot, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("redis: load snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("redis: decode snapshot: %w", err)
	}
	return snap, nil
}
