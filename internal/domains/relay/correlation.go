package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pylonhq/pylon/pkg/Logger"
)

// Common errors
var (
	ErrRequestTimeout  = errors.New("request timed out waiting for device response")
	ErrTooManyPending  = errors.New("correlation table is at capacity")
	ErrUnknownPending  = errors.New("no pending entry for correlation id")
	ErrAlreadyAttached = errors.New("sink already attached")
)

// RemoteError is a failure the device explicitly reported for a correlation
// id. It surfaces only to the caller awaiting that id.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("device reported error: %s", e.Reason)
}

// Kind selects how a pending entry resolves.
type Kind int

const (
	// KindSingle parks a resolvable future the caller awaits.
	KindSingle Kind = iota
	// KindStream parks a chunk sink that response events feed.
	KindStream
)

// Each entry carries an explicit lifecycle machine. The first actor to move
// it out of pending wins; response events, timers and sweeps racing behind
// it fail the transition and become no-ops.
const (
	statePending  = "pending"
	stateResolved = "resolved"
	stateRejected = "rejected"
	stateTimedOut = "timed_out"

	eventResolve = "resolve"
	eventReject  = "reject"
	eventTimeout = "timeout"
)

type outcome struct {
	value any
	err   error
}

type pendingEntry struct {
	id        string
	kind      Kind
	createdAt time.Time
	timer     *time.Timer
	state     *fsm.FSM

	// single-value future, buffered so the winner never blocks
	result chan outcome

	// streamed sink; mu serializes sink access between the producing
	// connection and the timeout timer
	mu    sync.Mutex
	sink  ChunkSink
	wrote bool
}

func newPendingEntry(id string, kind Kind) *pendingEntry {
	return &pendingEntry{
		id:        id,
		kind:      kind,
		createdAt: time.Now(),
		result:    make(chan outcome, 1),
		state: fsm.NewFSM(
			statePending,
			fsm.Events{
				{Name: eventResolve, Src: []string{statePending}, Dst: stateResolved},
				{Name: eventReject, Src: []string{statePending}, Dst: stateRejected},
				{Name: eventTimeout, Src: []string{statePending}, Dst: stateTimedOut},
			},
			fsm.Callbacks{},
		),
	}
}

// fire attempts the terminal transition and reports whether this caller won.
func (e *pendingEntry) fire(event string) bool {
	return e.state.Event(context.Background(), event) == nil
}

func (e *pendingEntry) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
	}
}

// Correlator is the request correlation table: it issues correlation ids for
// outbound requests and routes the asynchronous response events arriving on a
// different logical channel back to the correct waiter exactly once.
type Correlator struct {
	logger     *Logger.Logger
	maxPending int

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

// NewCorrelator builds the table. maxPending <= 0 disables the capacity cap.
func NewCorrelator(logger *Logger.Logger, maxPending int) *Correlator {
	return &Correlator{
		logger:     logger,
		maxPending: maxPending,
		pending:    make(map[string]*pendingEntry),
	}
}

// Allocate reserves a fresh correlation id and schedules its timeout. If the
// entry is still pending when the timer fires it fails the future, or closes
// the attached sink with a timeout error.
func (c *Correlator) Allocate(kind Kind, timeout time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxPending > 0 && len(c.pending) >= c.maxPending {
		return "", ErrTooManyPending
	}

	id := uuid.NewString()
	for { // uuid collisions are theoretical, the contract is not
		if _, exists := c.pending[id]; !exists {
			break
		}
		id = uuid.NewString()
	}

	entry := newPendingEntry(id, kind)
	entry.timer = time.AfterFunc(timeout, func() { c.expire(id) })
	c.pending[id] = entry

	return id, nil
}

// AttachSink binds the write target a streamed entry's chunks will feed.
func (c *Correlator) AttachSink(id string, sink ChunkSink) error {
	entry := c.get(id)
	if entry == nil {
		return ErrUnknownPending
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.sink != nil {
		return ErrAlreadyAttached
	}
	entry.sink = sink
	return nil
}

// AwaitResolution suspends the caller until the single-value entry resolves,
// is rejected, or times out, then releases the entry.
func (c *Correlator) AwaitResolution(ctx context.Context, id string) (any, error) {
	entry := c.get(id)
	if entry == nil {
		return nil, ErrUnknownPending
	}

	select {
	case out := <-entry.result:
		c.remove(id)
		return out.value, out.err
	case <-ctx.Done():
		// the caller stopped waiting; the entry's own timeout reclaims it
		return nil, ctx.Err()
	}
}

// Resolve completes a single-value entry with success. A miss, an entry
// already out of pending, or an entry of the wrong kind means the event is
// unroutable and absorbed; a streamed entry stays pending so its timeout
// still terminates the sink.
func (c *Correlator) Resolve(id string, value any) {
	entry := c.get(id)
	if entry == nil {
		c.logger.Warnf("discarding response for unknown correlation id %s", id)
		return
	}
	if entry.kind != KindSingle {
		c.logger.Warnf("discarding single-value response for streamed correlation id %s", id)
		return
	}
	if !entry.fire(eventResolve) {
		c.logger.Warnf("discarding duplicate response for correlation id %s", id)
		return
	}
	entry.stopTimer()
	entry.result <- outcome{value: value}
}

// Reject completes an entry with a device-reported failure: the future fails
// with a RemoteError, or the attached sink is terminated.
func (c *Correlator) Reject(id string, reason string) {
	entry := c.get(id)
	if entry == nil {
		c.logger.Warnf("discarding error for unknown correlation id %s", id)
		return
	}

	err := &RemoteError{Reason: reason}
	if entry.kind == KindStream {
		entry.mu.Lock()
		if entry.fire(eventReject) {
			entry.stopTimer()
			if entry.sink != nil {
				_ = entry.sink.CloseWithError(err)
			}
		}
		entry.mu.Unlock()
		c.remove(id)
		return
	}

	if !entry.fire(eventReject) {
		c.logger.Warnf("discarding duplicate error for correlation id %s", id)
		return
	}
	entry.stopTimer()
	entry.result <- outcome{err: err}
}

// Discard drops an entry whose request never reached the device. The caller
// already has the synchronous send error; nothing waits on the entry.
func (c *Correlator) Discard(id string) {
	entry := c.get(id)
	if entry == nil {
		return
	}
	if entry.fire(eventReject) {
		entry.stopTimer()
	}
	c.remove(id)
}

// PushChunk writes one streamed chunk to the attached sink, closing it when
// isLast is set. Chunks for an id that is no longer pending are discarded.
func (c *Correlator) PushChunk(id string, chunk []byte, isLast bool) {
	entry := c.get(id)
	if entry == nil {
		c.logger.Warnf("discarding late chunk for correlation id %s (%d bytes)", id, len(chunk))
		return
	}
	if entry.kind != KindStream {
		c.logger.Warnf("discarding chunk for non-streamed correlation id %s", id)
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.state.Current() != statePending {
		c.logger.Warnf("discarding chunk for completed correlation id %s", id)
		return
	}
	if entry.sink == nil {
		c.logger.Errorf("chunk for correlation id %s arrived before a sink was attached", id)
		return
	}

	if len(chunk) > 0 {
		if _, err := entry.sink.Write(chunk); err != nil {
			// the consumer went away; drop the entry so the remaining
			// chunks are discarded as late arrivals
			c.logger.Warnf("sink write failed for correlation id %s: %v", id, err)
			if entry.fire(eventReject) {
				entry.stopTimer()
				_ = entry.sink.CloseWithError(err)
			}
			c.remove(id)
			return
		}
		entry.wrote = true
	}

	if isLast {
		if entry.fire(eventResolve) {
			entry.stopTimer()
			_ = entry.sink.Close()
		}
		c.remove(id)
	}
}

// SweepExpired removes entries far older than any legitimate timeout,
// guarding against a leaked entry whose timer failed to fire or whose
// outcome was never collected.
func (c *Correlator) SweepExpired(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	c.mu.Lock()
	var stale []*pendingEntry
	for id, entry := range c.pending {
		if entry.createdAt.Before(cutoff) {
			stale = append(stale, entry)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, entry := range stale {
		c.logger.Warnf("sweeping stuck correlation entry %s (age %s)", entry.id, time.Since(entry.createdAt))
		entry.mu.Lock()
		if entry.fire(eventTimeout) {
			entry.stopTimer()
			if entry.kind == KindStream {
				if entry.sink != nil {
					_ = entry.sink.CloseWithError(ErrRequestTimeout)
				}
			} else {
				entry.result <- outcome{err: ErrRequestTimeout}
			}
		}
		entry.mu.Unlock()
	}
	return len(stale)
}

// PendingCount reports the number of entries currently held by the table.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) get(id string) *pendingEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[id]
}

func (c *Correlator) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// expire is the timeout action scheduled by Allocate.
func (c *Correlator) expire(id string) {
	entry := c.get(id)
	if entry == nil {
		return
	}

	if entry.kind == KindStream {
		entry.mu.Lock()
		if entry.fire(eventTimeout) {
			c.logger.Infof("correlation id %s timed out after %s", id, time.Since(entry.createdAt))
			if entry.sink != nil {
				_ = entry.sink.CloseWithError(ErrRequestTimeout)
			}
		}
		entry.mu.Unlock()
		c.remove(id)
		return
	}

	if !entry.fire(eventTimeout) {
		return
	}
	c.logger.Infof("correlation id %s timed out after %s", id, time.Since(entry.createdAt))
	entry.result <- outcome{err: ErrRequestTimeout}
}
