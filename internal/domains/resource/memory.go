package resource

import (
	"sort"
	"sync"
	"time"

	"github.com/pylonhq/pylon/pkg/wire"
)

type memoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*memoryEntry
	nextSeq   uint64
}

type memoryEntry struct {
	snap Snapshot
	seq  uint64
}

// NewMemoryStore is the default snapshot store, process-local like the
// registry itself.
func NewMemoryStore() Store {
	return &memoryStore{snapshots: make(map[string]*memoryEntry)}
}

// Put implements Store.
func (m *memoryStore) Put(deviceID string, resources []wire.ResourceDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	m.snapshots[deviceID] = &memoryEntry{
		snap: Snapshot{
			DeviceID:  deviceID,
			Resources: resources,
			UpdatedAt: time.Now(),
		},
		seq: m.nextSeq,
	}
	return nil
}

// Get implements Store.
func (m *memoryStore) Get(deviceID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, exists := m.snapshots[deviceID]
	if !exists {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return e.snap, nil
}

// Remove implements Store.
func (m *memoryStore) Remove(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, deviceID)
}

// SweepExpired implements Store, mirroring the registry's eviction: drop
// everything older than ttl, then the least-recently-updated excess over
// maxCount.
func (m *memoryStore) SweepExpired(ttl time.Duration, maxCount int) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.snapshots {
		if e.snap.UpdatedAt.Before(cutoff) {
			delete(m.snapshots, id)
			removed++
		}
	}

	if maxCount > 0 && len(m.snapshots) > maxCount {
		entries := make([]*memoryEntry, 0, len(m.snapshots))
		for _, e := range m.snapshots {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].snap.UpdatedAt.Equal(entries[j].snap.UpdatedAt) {
				return entries[i].seq < entries[j].seq
			}
			return entries[i].snap.UpdatedAt.Before(entries[j].snap.UpdatedAt)
		})
		for _, e := range entries[:len(entries)-maxCount] {
			delete(m.snapshots, e.snap.DeviceID)
			removed++
		}
	}

	return removed
}
