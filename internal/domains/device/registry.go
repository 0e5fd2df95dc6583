package device

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pylonhq/pylon/pkg/Logger"
	"github.com/pylonhq/pylon/pkg/push"
	"github.com/pylonhq/pylon/pkg/wire"
)

type entry struct {
	rec Record
	seq uint64
}

type memoryRegistry struct {
	logger   *Logger.Logger
	notifier Notifier

	mu      sync.RWMutex
	devices map[string]*entry
	nextSeq uint64
}

// NewRegistry builds the in-memory connection registry. notifier may be nil
// when no observer fan-out is wired (tests).
func NewRegistry(logger *Logger.Logger, notifier Notifier) Registry {
	return &memoryRegistry{
		logger:   logger,
		notifier: notifier,
		devices:  make(map[string]*entry),
	}
}

// Register implements Registry. A later registration for the same id
// overwrites the previous record; the superseded handle is closed so it can
// no longer be reached through signaling.
func (m *memoryRegistry) Register(in RegisterInput) (string, error) {
	if in.Handle == nil && in.IPAddress == "" {
		return "", ErrInvalidInput
	}

	deviceID := in.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	now := time.Now()
	rec := Record{
		DeviceID:       deviceID,
		DisplayName:    in.DisplayName,
		DeviceType:     in.DeviceType,
		IPAddress:      in.IPAddress,
		Status:         StatusOffline,
		Handle:         in.Handle,
		ConnectedAt:    now,
		LastActivityAt: now,
	}
	if in.Handle != nil {
		rec.Status = StatusOnline
	}

	m.mu.Lock()
	var superseded push.Handle
	if old, exists := m.devices[deviceID]; exists {
		if old.rec.Handle != nil && old.rec.Handle != in.Handle {
			superseded = old.rec.Handle
		}
	}
	m.nextSeq++
	m.devices[deviceID] = &entry{rec: rec, seq: m.nextSeq}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if superseded != nil {
		m.logger.Infof("device %s re-registered, superseding previous handle", deviceID)
		_ = superseded.Close()
	}
	m.publish(snapshot)

	return deviceID, nil
}

// Remove implements Registry.
func (m *memoryRegistry) Remove(deviceID string) {
	m.mu.Lock()
	e, exists := m.devices[deviceID]
	if exists {
		delete(m.devices, deviceID)
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if !exists {
		return
	}
	if e.rec.Handle != nil {
		_ = e.rec.Handle.Close()
	}
	m.logger.Infof("device %s removed from registry", deviceID)
	m.publish(snapshot)
}

// Touch implements Registry. Invoked by liveness signals; a miss is a no-op.
func (m *memoryRegistry) Touch(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, exists := m.devices[deviceID]; exists {
		e.rec.LastActivityAt = time.Now()
	}
}

// Lookup implements Registry.
func (m *memoryRegistry) Lookup(deviceID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, exists := m.devices[deviceID]
	if !exists {
		return Record{}, ErrDeviceNotFound
	}
	return e.rec, nil
}

// List implements Registry. Records come back in registration order so
// listings stay deterministic when input order is fixed.
func (m *memoryRegistry) List() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.sortedLocked()
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.rec)
	}
	return records
}

// SweepExpired implements Registry. Removes every record whose last activity
// precedes now-ttl, then evicts least-recently-active records until the
// registry fits maxCount. maxCount <= 0 disables the capacity limit.
func (m *memoryRegistry) SweepExpired(ttl time.Duration, maxCount int) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	var evicted []*entry
	for id, e := range m.devices {
		if e.rec.LastActivityAt.Before(cutoff) {
			evicted = append(evicted, e)
			delete(m.devices, id)
		}
	}

	if maxCount > 0 && len(m.devices) > maxCount {
		remaining := m.sortedByActivityLocked()
		excess := len(remaining) - maxCount
		for _, e := range remaining[:excess] {
			evicted = append(evicted, e)
			delete(m.devices, e.rec.DeviceID)
		}
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if len(evicted) == 0 {
		return 0
	}
	for _, e := range evicted {
		if e.rec.Handle != nil {
			_ = e.rec.Handle.Close()
		}
	}
	m.logger.Infof("registry sweep evicted %d stale device(s)", len(evicted))
	m.publish(snapshot)

	return len(evicted)
}

// sortedLocked returns entries in insertion order. Caller holds the lock.
func (m *memoryRegistry) sortedLocked() []*entry {
	entries := make([]*entry, 0, len(m.devices))
	for _, e := range m.devices {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

// sortedByActivityLocked orders entries least-recently-active first, with the
// insertion sequence breaking activity ties.
func (m *memoryRegistry) sortedByActivityLocked() []*entry {
	entries := make([]*entry, 0, len(m.devices))
	for _, e := range m.devices {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].rec.LastActivityAt.Equal(entries[j].rec.LastActivityAt) {
			return entries[i].seq < entries[j].seq
		}
		return entries[i].rec.LastActivityAt.Before(entries[j].rec.LastActivityAt)
	})
	return entries
}

func (m *memoryRegistry) snapshotLocked() []wire.DeviceSummary {
	entries := m.sortedLocked()
	devices := make([]wire.DeviceSummary, 0, len(entries))
	for _, e := range entries {
		devices = append(devices, wire.DeviceSummary{
			DeviceID:    e.rec.DeviceID,
			DisplayName: e.rec.DisplayName,
			DeviceType:  e.rec.DeviceType,
			Status:      string(e.rec.Status),
		})
	}
	return devices
}

// publish hands the snapshot to the fan-out outside the registry lock so a
// slow observer can never stall a mutation.
func (m *memoryRegistry) publish(snapshot []wire.DeviceSummary) {
	if m.notifier != nil {
		m.notifier.DevicesChanged(snapshot)
	}
}
