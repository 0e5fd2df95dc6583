package resource

import (
	"errors"
	"time"

	"github.com/pylonhq/pylon/pkg/wire"
)

var ErrSnapshotNotFound = errors.New("no resource snapshot for device")

// Snapshot is the per-device list of monitored resource descriptors last
// reported over the device's connection.
type Snapshot struct {
	DeviceID  string                    `json:"deviceId"`
	Resources []wire.ResourceDescriptor `json:"resources"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

// Store keeps monitored resource snapshots under the same TTL/capacity
// eviction discipline as the connection registry, with independent limits.
type Store interface {
	Put(deviceID string, resources []wire.ResourceDescriptor) error
	Get(deviceID string) (Snapshot, error)
	Remove(deviceID string)
	SweepExpired(ttl time.Duration, maxCount int) int
}
