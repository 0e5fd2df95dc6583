package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pylonhq/pylon/pkg/Logger"
	"github.com/pylonhq/pylon/pkg/wire"
)

// DefaultRingSize bounds the retained snapshot backlog.
const DefaultRingSize = 64 * 1024

const (
	// generous per-device estimate for one marshalled DeviceSummary
	snapshotBytesPerDevice = 256
	retainedFrames         = 4
)

// RingSizeFor sizes the snapshot ring so a frame covering maxDevices records
// fits with room for a few retained predecessors.
func RingSizeFor(maxDevices int) int {
	size := maxDevices * snapshotBytesPerDevice * retainedFrames
	if size < DefaultRingSize {
		return DefaultRingSize
	}
	return size
}

// Observer is one connected snapshot consumer. The transport layer owns the
// underlying connection; the broadcaster only fans out.
type Observer interface {
	ID() uuid.UUID
	SendSnapshot(devices []wire.DeviceSummary) error
	Close() error
}

// Broadcaster publishes registry snapshots to every attached observer. It
// implements device.Notifier.
type Broadcaster struct {
	logger *Logger.Logger

	mu        sync.RWMutex
	observers map[uuid.UUID]Observer
	ring      *snapshotRing
}

// New builds the fan-out. ringSize <= 0 falls back to DefaultRingSize; size
// it with RingSizeFor so a full-registry frame always fits.
func New(logger *Logger.Logger, ringSize int) *Broadcaster {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Broadcaster{
		logger:    logger,
		observers: make(map[uuid.UUID]Observer),
		ring:      newSnapshotRing(ringSize),
	}
}

// Attach registers an observer and primes it with the latest retained
// snapshot so a fresh liveness display does not wait for the next mutation.
func (b *Broadcaster) Attach(o Observer) {
	b.mu.Lock()
	b.observers[o.ID()] = o
	b.mu.Unlock()

	if frame := b.ring.Latest(); frame != nil {
		var devices []wire.DeviceSummary
		if err := json.Unmarshal(frame, &devices); err == nil {
			if err := o.SendSnapshot(devices); err != nil {
				b.logger.Warnf("failed to prime observer %s: %v", o.ID(), err)
			}
		}
	}
	b.logger.Infof("observer %s attached (%d total)", o.ID(), b.ObserverCount())
}

// Detach removes an observer; safe to call for an unknown id.
func (b *Broadcaster) Detach(id uuid.UUID) {
	b.mu.Lock()
	_, exists := b.observers[id]
	delete(b.observers, id)
	b.mu.Unlock()
	if exists {
		b.logger.Infof("observer %s detached", id)
	}
}

// ObserverCount reports the number of attached observers.
func (b *Broadcaster) ObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// DevicesChanged implements device.Notifier: every registry mutation lands
// here with a consistent snapshot. Observers that fail a write are dropped;
// a slow observer seeing snapshots arrive late is tolerated.
func (b *Broadcaster) DevicesChanged(devices []wire.DeviceSummary) {
	if frame, err := json.Marshal(devices); err == nil {
		if err := b.ring.Push(frame); err != nil {
			b.logger.Warnf("snapshot ring push failed: %v", err)
		}
	}

	b.mu.RLock()
	observers := make([]Observer, 0, len(b.observers))
	for _, o := range b.observers {
		observers = append(observers, o)
	}
	b.mu.RUnlock()

	for _, o := range observers {
		if err := o.SendSnapshot(devices); err != nil {
			b.logger.Warnf("dropping observer %s: %v", o.ID(), err)
			b.Detach(o.ID())
			_ = o.Close()
		}
	}
}
