package device

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pylonhq/pylon/pkg/Logger"
	"github.com/pylonhq/pylon/pkg/push"
	"github.com/pylonhq/pylon/pkg/wire"
)

type fakeHandle struct {
	id push.HandleID

	mu     sync.Mutex
	sent   []wire.Envelope
	closed bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{id: push.HandleID(uuid.New())}
}

func (f *fakeHandle) ID() push.HandleID { return f.id }

func (f *fakeHandle) Send(env wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeHandle) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type captureNotifier struct {
	mu        sync.Mutex
	snapshots [][]wire.DeviceSummary
}

func (n *captureNotifier) DevicesChanged(devices []wire.DeviceSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snapshots = append(n.snapshots, devices)
}

func (n *captureNotifier) last() []wire.DeviceSummary {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.snapshots) == 0 {
		return nil
	}
	return n.snapshots[len(n.snapshots)-1]
}

func testRegistry(t *testing.T) (Registry, *captureNotifier) {
	t.Helper()
	notifier := &captureNotifier{}
	return NewRegistry(Logger.New(true), notifier), notifier
}

func TestRegisterAndLookup(t *testing.T) {
	reg, notifier := testRegistry(t)

	handle := newFakeHandle()
	id, err := reg.Register(RegisterInput{
		DisplayName: "living-room-pi",
		DeviceType:  "agent",
		IPAddress:   "10.0.0.7",
		Handle:      handle,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := reg.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, "living-room-pi", rec.DisplayName)
	assert.Equal(t, StatusOnline, rec.Status)
	assert.Same(t, handle, rec.Handle.(*fakeHandle))

	last := notifier.last()
	require.Len(t, last, 1)
	assert.Equal(t, id, last[0].DeviceID)
	assert.Equal(t, string(StatusOnline), last[0].Status)
}

func TestRegisterWithoutHandleRequiresAddress(t *testing.T) {
	reg, _ := testRegistry(t)

	_, err := reg.Register(RegisterInput{DisplayName: "ghost"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	id, err := reg.Register(RegisterInput{DisplayName: "side-channel", IPAddress: "10.0.0.9"})
	require.NoError(t, err)

	rec, err := reg.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, rec.Status)
	assert.Nil(t, rec.Handle)
}

func TestLookupUnknownDevice(t *testing.T) {
	reg, _ := testRegistry(t)

	_, err := reg.Lookup("nope")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestReRegisterSupersedesHandle(t *testing.T) {
	reg, _ := testRegistry(t)

	first := newFakeHandle()
	id, err := reg.Register(RegisterInput{DeviceID: "dev-1", Handle: first})
	require.NoError(t, err)

	second := newFakeHandle()
	sameID, err := reg.Register(RegisterInput{DeviceID: "dev-1", Handle: second})
	require.NoError(t, err)
	assert.Equal(t, id, sameID)

	assert.True(t, first.isClosed(), "superseded handle must be closed")
	assert.False(t, second.isClosed())

	rec, err := reg.Lookup("dev-1")
	require.NoError(t, err)
	assert.Same(t, second, rec.Handle.(*fakeHandle))
}

func TestRemoveClosesHandleAndPublishes(t *testing.T) {
	reg, notifier := testRegistry(t)

	handle := newFakeHandle()
	id, err := reg.Register(RegisterInput{Handle: handle})
	require.NoError(t, err)

	reg.Remove(id)

	assert.True(t, handle.isClosed())
	_, err = reg.Lookup(id)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Empty(t, notifier.last())

	// removing again is a no-op and publishes nothing new
	before := len(notifier.snapshots)
	reg.Remove(id)
	assert.Equal(t, before, len(notifier.snapshots))
}

func TestListOrderedByRegistration(t *testing.T) {
	reg, _ := testRegistry(t)

	for _, name := range []string{"alpha", "beta", "gamma"} {
		_, err := reg.Register(RegisterInput{DeviceID: name, Handle: newFakeHandle()})
		require.NoError(t, err)
	}

	records := reg.List()
	require.Len(t, records, 3)
	assert.Equal(t, "alpha", records[0].DeviceID)
	assert.Equal(t, "beta", records[1].DeviceID)
	assert.Equal(t, "gamma", records[2].DeviceID)
}

func TestSweepEvictsOnlyExpired(t *testing.T) {
	reg, _ := testRegistry(t)

	stale := newFakeHandle()
	_, err := reg.Register(RegisterInput{DeviceID: "stale", Handle: stale})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	fresh := newFakeHandle()
	_, err = reg.Register(RegisterInput{DeviceID: "fresh", Handle: fresh})
	require.NoError(t, err)

	evicted := reg.SweepExpired(40*time.Millisecond, 0)
	assert.Equal(t, 1, evicted)
	assert.True(t, stale.isClosed())
	assert.False(t, fresh.isClosed())

	_, err = reg.Lookup("stale")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	_, err = reg.Lookup("fresh")
	assert.NoError(t, err)
}

func TestTouchDefersEviction(t *testing.T) {
	reg, _ := testRegistry(t)

	_, err := reg.Register(RegisterInput{DeviceID: "pinger", Handle: newFakeHandle()})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	reg.Touch("pinger")

	evicted := reg.SweepExpired(40*time.Millisecond, 0)
	assert.Equal(t, 0, evicted)

	_, err = reg.Lookup("pinger")
	assert.NoError(t, err)
}

func TestSweepCapacityEvictsLeastRecentlyActive(t *testing.T) {
	reg, _ := testRegistry(t)

	for _, name := range []string{"oldest", "middle", "newest"} {
		_, err := reg.Register(RegisterInput{DeviceID: name, Handle: newFakeHandle()})
		require.NoError(t, err)
		time.Sleep(15 * time.Millisecond)
	}
	reg.Touch("oldest") // most recently active despite earliest registration

	evicted := reg.SweepExpired(time.Hour, 2)
	assert.Equal(t, 1, evicted)

	_, err := reg.Lookup("middle")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	_, err = reg.Lookup("oldest")
	assert.NoError(t, err)
	_, err = reg.Lookup("newest")
	assert.NoError(t, err)
}

func TestSnapshotPublishedOnEveryMutation(t *testing.T) {
	reg, notifier := testRegistry(t)

	idA, err := reg.Register(RegisterInput{DeviceID: "a", Handle: newFakeHandle()})
	require.NoError(t, err)
	_, err = reg.Register(RegisterInput{DeviceID: "b", Handle: newFakeHandle()})
	require.NoError(t, err)
	reg.Remove(idA)

	notifier.mu.Lock()
	count := len(notifier.snapshots)
	notifier.mu.Unlock()
	assert.Equal(t, 3, count)

	last := notifier.last()
	require.Len(t, last, 1)
	assert.Equal(t, "b", last[0].DeviceID)
}
