package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKey = "gearwars:snapshot"

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore keeps the snapshot under a single key. ttl=0 persists forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, snapshotKey, b, s.ttl).Err()
}

func (s *RedisStore) Load(ctx context.Context) (Snapshot, bool, error) {
	val, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}

	var snap Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}
