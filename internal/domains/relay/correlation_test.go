package relay

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pylonhq/pylon/pkg/Logger"
)

type bufferSink struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	closeErr error
	writeErr error
	closes   int
}

func (s *bufferSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.buf.Write(p)
}

func (s *bufferSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closes++
	return nil
}

func (s *bufferSink) CloseWithError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeErr = err
	s.closes++
	return nil
}

func (s *bufferSink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func (s *bufferSink) terminalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *bufferSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func testCorrelator(t *testing.T) *Correlator {
	t.Helper()
	return NewCorrelator(Logger.New(true), 0)
}

func TestResolveDeliversValueExactlyOnce(t *testing.T) {
	c := testCorrelator(t)

	id, err := c.Allocate(KindSingle, time.Minute)
	require.NoError(t, err)

	c.Resolve(id, "payload")
	c.Resolve(id, "duplicate") // absorbed
	c.Reject(id, "late error") // absorbed

	value, err := c.AwaitResolution(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "payload", value)

	assert.Equal(t, 0, c.PendingCount())
	_, err = c.AwaitResolution(context.Background(), id)
	assert.ErrorIs(t, err, ErrUnknownPending)
}

func TestRejectFailsTheWaiter(t *testing.T) {
	c := testCorrelator(t)

	id, err := c.Allocate(KindSingle, time.Minute)
	require.NoError(t, err)

	c.Reject(id, "no such directory")

	_, err = c.AwaitResolution(context.Background(), id)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "no such directory", remote.Reason)
	assert.Equal(t, 0, c.PendingCount())
}

func TestTimeoutFailsTheWaiter(t *testing.T) {
	c := testCorrelator(t)

	id, err := c.Allocate(KindSingle, 20*time.Millisecond)
	require.NoError(t, err)

	_, err = c.AwaitResolution(context.Background(), id)
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, 0, c.PendingCount())

	// a response arriving after the timeout is a no-op
	c.Resolve(id, "too late")
	assert.Equal(t, 0, c.PendingCount())
}

func TestAwaitHonorsContextCancellation(t *testing.T) {
	c := testCorrelator(t)

	id, err := c.Allocate(KindSingle, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.AwaitResolution(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentEntriesResolveIndependently(t *testing.T) {
	c := testCorrelator(t)

	first, err := c.Allocate(KindSingle, time.Minute)
	require.NoError(t, err)
	second, err := c.Allocate(KindSingle, time.Minute)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	c.Resolve(second, "B")
	c.Resolve(first, "A")

	valueA, err := c.AwaitResolution(context.Background(), first)
	require.NoError(t, err)
	valueB, err := c.AwaitResolution(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, "A", valueA)
	assert.Equal(t, "B", valueB)
}

func TestCapacityLimit(t *testing.T) {
	c := NewCorrelator(Logger.New(true), 2)

	_, err := c.Allocate(KindSingle, time.Minute)
	require.NoError(t, err)
	_, err = c.Allocate(KindSingle, time.Minute)
	require.NoError(t, err)

	_, err = c.Allocate(KindSingle, time.Minute)
	assert.ErrorIs(t, err, ErrTooManyPending)
}

func TestStreamChunksArriveInOrder(t *testing.T) {
	c := testCorrelator(t)
	sink := &bufferSink{}

	id, err := c.Allocate(KindStream, time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.AttachSink(id, sink))

	c.PushChunk(id, []byte("hello "), false)
	c.PushChunk(id, []byte("world"), false)
	c.PushChunk(id, nil, true)

	assert.Equal(t, []byte("hello world"), sink.bytes())
	assert.NoError(t, sink.terminalError())
	assert.Equal(t, 1, sink.closeCount())
	assert.Equal(t, 0, c.PendingCount())

	// anything after the final chunk is a late arrival
	c.PushChunk(id, []byte("straggler"), false)
	assert.Equal(t, []byte("hello world"), sink.bytes())
}

func TestStreamRejectTerminatesSink(t *testing.T) {
	c := testCorrelator(t)
	sink := &bufferSink{}

	id, err := c.Allocate(KindStream, time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.AttachSink(id, sink))

	c.PushChunk(id, []byte("partial"), false)
	c.Reject(id, "read failed")

	var remote *RemoteError
	require.ErrorAs(t, sink.terminalError(), &remote)
	assert.Equal(t, "read failed", remote.Reason)
	assert.Equal(t, 1, sink.closeCount())
	assert.Equal(t, 0, c.PendingCount())
}

func TestStreamTimeoutTerminatesSink(t *testing.T) {
	c := testCorrelator(t)
	sink := &bufferSink{}

	id, err := c.Allocate(KindStream, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, c.AttachSink(id, sink))

	require.Eventually(t, func() bool {
		return sink.terminalError() != nil
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, sink.terminalError(), ErrRequestTimeout)
	assert.Equal(t, 0, c.PendingCount())

	c.PushChunk(id, []byte("late"), true)
	assert.Empty(t, sink.bytes())
	assert.Equal(t, 1, sink.closeCount())
}

func TestStreamSinkWriteFailureDropsEntry(t *testing.T) {
	c := testCorrelator(t)
	sink := &bufferSink{writeErr: errors.New("client went away")}

	id, err := c.Allocate(KindStream, time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.AttachSink(id, sink))

	c.PushChunk(id, []byte("doomed"), false)

	assert.Error(t, sink.terminalError())
	assert.Equal(t, 0, c.PendingCount())
}

func TestStreamIgnoresSingleValueResponse(t *testing.T) {
	c := testCorrelator(t)
	sink := &bufferSink{}

	id, err := c.Allocate(KindStream, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, c.AttachSink(id, sink))

	// a misbehaving device answering a download with a list-response must
	// not consume the entry; the timeout still terminates the sink
	c.Resolve(id, []byte("bogus"))
	assert.Equal(t, 1, c.PendingCount())

	require.Eventually(t, func() bool {
		return sink.terminalError() != nil
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, sink.terminalError(), ErrRequestTimeout)
	assert.Equal(t, 1, sink.closeCount())
	assert.Equal(t, 0, c.PendingCount())
}

func TestSingleEntryIgnoresChunks(t *testing.T) {
	c := testCorrelator(t)

	id, err := c.Allocate(KindSingle, time.Minute)
	require.NoError(t, err)

	c.PushChunk(id, []byte("misdirected"), true)
	assert.Equal(t, 1, c.PendingCount())

	c.Resolve(id, "real answer")
	value, err := c.AwaitResolution(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "real answer", value)
}

func TestAttachSinkErrors(t *testing.T) {
	c := testCorrelator(t)

	assert.ErrorIs(t, c.AttachSink("missing", &bufferSink{}), ErrUnknownPending)

	id, err := c.Allocate(KindStream, time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.AttachSink(id, &bufferSink{}))
	assert.ErrorIs(t, c.AttachSink(id, &bufferSink{}), ErrAlreadyAttached)
}

func TestSweepReclaimsStuckEntries(t *testing.T) {
	c := testCorrelator(t)
	sink := &bufferSink{}

	_, err := c.Allocate(KindSingle, time.Hour)
	require.NoError(t, err)
	streamID, err := c.Allocate(KindStream, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.AttachSink(streamID, sink))

	time.Sleep(30 * time.Millisecond)

	swept := c.SweepExpired(10 * time.Millisecond)
	assert.Equal(t, 2, swept)
	assert.Equal(t, 0, c.PendingCount())
	assert.ErrorIs(t, sink.terminalError(), ErrRequestTimeout)

	assert.Equal(t, 0, c.SweepExpired(10*time.Millisecond))
}

func TestDiscardRemovesEntrySilently(t *testing.T) {
	c := testCorrelator(t)

	id, err := c.Allocate(KindSingle, time.Minute)
	require.NoError(t, err)

	c.Discard(id)
	assert.Equal(t, 0, c.PendingCount())
	_, err = c.AwaitResolution(context.Background(), id)
	assert.ErrorIs(t, err, ErrUnknownPending)
}
