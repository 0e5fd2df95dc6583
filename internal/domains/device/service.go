package device

import (
	"errors"
	"time"

	"github.com/pylonhq/pylon/pkg/push"
	"github.com/pylonhq/pylon/pkg/wire"
)

// Common errors
var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrNotConnected   = errors.New("device has no push-capable connection")
	ErrInvalidInput   = errors.New("invalid registration input")
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Record is one registered device. Handle is nil for side-channel
// registrations, which are never valid targets for push requests.
type Record struct {
	DeviceID       string
	DisplayName    string
	DeviceType     string
	IPAddress      string
	Status         Status
	Handle         push.Handle
	ConnectedAt    time.Time
	LastActivityAt time.Time
}

// RegisterInput is the upsert request for a device record. DeviceID is
// optional; IPAddress is required when no handle is supplied.
type RegisterInput struct {
	DeviceID    string
	DisplayName string
	DeviceType  string
	IPAddress   string
	Handle      push.Handle
}

// Registry tracks device identity to live connection handle with TTL and
// capacity eviction. Implementations must be safe for concurrent use.
type Registry interface {
	// lifecycle
	Register(in RegisterInput) (string, error)
	Remove(deviceID string)
	Touch(deviceID string)
	// queries
	Lookup(deviceID string) (Record, error)
	List() []Record
	// eviction
	SweepExpired(ttl time.Duration, maxCount int) int
}

// Notifier receives the full registry snapshot after every visible mutation.
// The broadcast fan-out implements it; the registry never enumerates
// transport connections itself.
type Notifier interface {
	DevicesChanged(devices []wire.DeviceSummary)
}
