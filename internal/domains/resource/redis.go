package resource

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/pylonhq/pylon/pkg/wire"
)

const redisKeyPrefix = "pylon:resources:"

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore keeps resource snapshots in Redis with a native key TTL, so
// expiry needs no sweep pass on our side. The capacity limit is not enforced
// here; Redis memory policy owns it.
func NewRedisStore(client *redis.Client, ttl time.Duration) Store {
	return &redisStore{client: client, ttl: ttl}
}

// Put implements Store.
func (r *redisStore) Put(deviceID string, resources []wire.ResourceDescriptor) error {
	snap := Snapshot{
		DeviceID:  deviceID,
		Resources: resources,
		UpdatedAt: time.Now(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal resource snapshot: %w", err)
	}
	if err := r.client.Set(redisKeyPrefix+deviceID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store resource snapshot: %w", err)
	}
	return nil
}

// Get implements Store.
func (r *redisStore) Get(deviceID string) (Snapshot, error) {
	data, err := r.client.Get(redisKeyPrefix + deviceID).Bytes()
	if err == redis.Nil {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load resource snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode resource snapshot: %w", err)
	}
	return snap, nil
}

// Remove implements Store.
func (r *redisStore) Remove(deviceID string) {
	r.client.Del(redisKeyPrefix + deviceID)
}

// SweepExpired implements Store. Keys carry their own TTL, nothing to do.
func (r *redisStore) SweepExpired(time.Duration, int) int {
	return 0
}
