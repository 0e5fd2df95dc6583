package signal

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pylonhq/pylon/internal/domains/device"
	"github.com/pylonhq/pylon/pkg/Logger"
	"github.com/pylonhq/pylon/pkg/push"
	"github.com/pylonhq/pylon/pkg/wire"
)

type recordingHandle struct {
	id      push.HandleID
	sendErr error

	mu   sync.Mutex
	sent []wire.Envelope
}

func newRecordingHandle() *recordingHandle {
	return &recordingHandle{id: push.HandleID(uuid.New())}
}

func (h *recordingHandle) ID() push.HandleID { return h.id }
func (h *recordingHandle) Close() error      { return nil }

func (h *recordingHandle) Send(env wire.Envelope) error {
	if h.sendErr != nil {
		return h.sendErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, env)
	return nil
}

func (h *recordingHandle) envelopes() []wire.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]wire.Envelope(nil), h.sent...)
}

func testSignalService(t *testing.T) (*Service, device.Registry) {
	t.Helper()
	logger := Logger.New(true)
	registry := device.NewRegistry(logger, nil)
	return NewService(logger, registry), registry
}

func TestForwardRewritesSender(t *testing.T) {
	svc, registry := testSignalService(t)

	target := newRecordingHandle()
	_, err := registry.Register(device.RegisterInput{DeviceID: "browser-1", Handle: target})
	require.NoError(t, err)

	offer := json.RawMessage(`{"sdp":"v=0..."}`)
	svc.Forward("agent-1", "browser-1", wire.TypeSignalOffer, offer)

	sent := target.envelopes()
	require.Len(t, sent, 1)
	assert.Equal(t, wire.TypeSignalOffer, sent[0].Type)
	assert.Empty(t, sent[0].CorrelationID)

	var payload wire.SignalPayload
	require.NoError(t, json.Unmarshal(sent[0].Data, &payload))
	assert.Equal(t, "agent-1", payload.FromDeviceID)
	assert.Empty(t, payload.TargetDeviceID)
	assert.JSONEq(t, string(offer), string(payload.Payload))
}

func TestForwardUnknownTargetIsDropped(t *testing.T) {
	svc, _ := testSignalService(t)

	// must not panic or block
	svc.Forward("agent-1", "ghost", wire.TypeSignalICE, json.RawMessage(`{}`))
}

func TestForwardTargetWithoutHandleIsDropped(t *testing.T) {
	svc, registry := testSignalService(t)

	_, err := registry.Register(device.RegisterInput{DeviceID: "passive", IPAddress: "10.0.0.3"})
	require.NoError(t, err)

	svc.Forward("agent-1", "passive", wire.TypeSignalAnswer, json.RawMessage(`{}`))
}

func TestForwardSendFailureIsDropped(t *testing.T) {
	svc, registry := testSignalService(t)

	target := newRecordingHandle()
	target.sendErr = assert.AnError
	_, err := registry.Register(device.RegisterInput{DeviceID: "flaky", Handle: target})
	require.NoError(t, err)

	svc.Forward("agent-1", "flaky", wire.TypeSignalICE, json.RawMessage(`{"candidate":"..."}`))
	assert.Empty(t, target.envelopes())
}
