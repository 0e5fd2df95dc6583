package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pylonhq/pylon/pkg/push"
	pushws "github.com/pylonhq/pylon/pkg/push/websocket"
	"github.com/pylonhq/pylon/pkg/wire"
)

// DeviceSession is one device's persistent connection. The push handle wraps
// the same socket and owns the write side; the session's read loop lives in
// the handler. DeviceID stays empty until the agent registers.
type DeviceSession struct {
	ConnectionID uuid.UUID
	Conn         *websocket.Conn
	Handle       push.Handle
	DeviceID     string
	ConnectedAt  time.Time
}

// NewDeviceSession wraps a freshly upgraded connection.
func NewDeviceSession(conn *websocket.Conn) *DeviceSession {
	return &DeviceSession{
		ConnectionID: uuid.New(),
		Conn:         conn,
		Handle:       pushws.New(conn),
		ConnectedAt:  time.Now(),
	}
}

// Send pushes one envelope to the agent through the session's handle.
func (s *DeviceSession) Send(t wire.MessageType, correlationID string, payload any) error {
	env, err := wire.NewEnvelope(t, correlationID, payload)
	if err != nil {
		return err
	}
	return s.Handle.Send(env)
}

// Registered reports whether the agent has completed registration.
func (s *DeviceSession) Registered() bool {
	return s.DeviceID != ""
}
