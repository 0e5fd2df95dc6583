package broadcast

import (
	"errors"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// snapshotRing retains the most recent snapshot frames in a bounded byte
// ring. Frames are length-prefixed (4 bytes, little endian); when space runs
// out the oldest frames are dropped.
type snapshotRing struct {
	mu sync.Mutex
	rb *ringbuffer.RingBuffer
}

func newSnapshotRing(size int) *snapshotRing {
	return &snapshotRing{
		rb: ringbuffer.New(size).SetBlocking(false),
	}
}

// Push appends one frame, evicting old frames as needed.
func (r *snapshotRing) Push(frame []byte) error {
	required := len(frame) + 4
	if required > r.rb.Capacity() {
		return errors.New("snapshot frame too large for ring")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.rb.Free() < required {
		if !r.dropOldestLocked() {
			r.rb.Reset()
			break
		}
	}

	sizeBytes := []byte{
		byte(len(frame)),
		byte(len(frame) >> 8),
		byte(len(frame) >> 16),
		byte(len(frame) >> 24),
	}
	if _, err := r.rb.Write(sizeBytes); err != nil {
		return err
	}
	_, err := r.rb.Write(frame)
	return err
}

// Latest returns a copy of the most recently pushed frame, or nil when the
// ring is empty. Retained frames are preserved.
func (r *snapshotRing) Latest() []byte {
	frames := r.Frames()
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1]
}

// Frames drains every retained frame and writes them back, returning copies
// in push order.
func (r *snapshotRing) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	var frames [][]byte
	for !r.rb.IsEmpty() {
		frame, ok := r.readFrameLocked()
		if !ok {
			r.rb.Reset()
			break
		}
		frames = append(frames, frame)
	}

	// restore ring contents
	for _, frame := range frames {
		sizeBytes := []byte{
			byte(len(frame)),
			byte(len(frame) >> 8),
			byte(len(frame) >> 16),
			byte(len(frame) >> 24),
		}
		if _, err := r.rb.Write(sizeBytes); err != nil {
			break
		}
		if _, err := r.rb.Write(frame); err != nil {
			break
		}
	}

	return frames
}

func (r *snapshotRing) readFrameLocked() ([]byte, bool) {
	sizeBytes := make([]byte, 4)
	n, err := r.rb.Read(sizeBytes)
	if err != nil || n != 4 {
		return nil, false
	}
	size := int(sizeBytes[0]) | int(sizeBytes[1])<<8 | int(sizeBytes[2])<<16 | int(sizeBytes[3])<<24

	frame := make([]byte, size)
	n, err = r.rb.Read(frame)
	if err != nil || n != size {
		return nil, false
	}
	return frame, true
}

func (r *snapshotRing) dropOldestLocked() bool {
	if r.rb.IsEmpty() {
		return false
	}
	_, ok := r.readFrameLocked()
	return ok
}
