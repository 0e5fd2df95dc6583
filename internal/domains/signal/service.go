package signal

import (
	"encoding/json"

	"github.com/pylonhq/pylon/internal/domains/device"
	"github.com/pylonhq/pylon/pkg/Logger"
	"github.com/pylonhq/pylon/pkg/wire"
)

// Service relays WebRTC negotiation payloads point-to-point between two
// devices. No correlation ids are involved; a miss is dropped and the
// initiating side retries at a higher layer.
type Service struct {
	logger   *Logger.Logger
	registry device.Registry
}

func NewService(logger *Logger.Logger, registry device.Registry) *Service {
	return &Service{logger: logger, registry: registry}
}

// Forward delivers one offer/answer/ICE payload to the target device,
// rewritten to name the sender.
func (s *Service) Forward(fromDeviceID, targetDeviceID string, kind wire.MessageType, payload json.RawMessage) {
	rec, err := s.registry.Lookup(targetDeviceID)
	if err != nil || rec.Handle == nil {
		s.logger.Debugf("dropping %s from %s: target %s not reachable", kind, fromDeviceID, targetDeviceID)
		return
	}

	env, err := wire.NewEnvelope(kind, "", wire.SignalPayload{
		FromDeviceID: fromDeviceID,
		Payload:      payload,
	})
	if err != nil {
		s.logger.Errorf("failed to build %s relay envelope: %v", kind, err)
		return
	}
	if err := rec.Handle.Send(env); err != nil {
		s.logger.Debugf("dropping %s from %s: send to %s failed: %v", kind, fromDeviceID, targetDeviceID, err)
	}
}
