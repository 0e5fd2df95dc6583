package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pylonhq/pylon/pkg/wire"
)

// ObserverConn adapts one observer WebSocket to the broadcast fan-out.
type ObserverConn struct {
	id   uuid.UUID
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func NewObserverConn(conn *websocket.Conn) *ObserverConn {
	return &ObserverConn{id: uuid.New(), conn: conn}
}

// ID implements broadcast.Observer.
func (o *ObserverConn) ID() uuid.UUID {
	return o.id
}

// SendSnapshot implements broadcast.Observer.
func (o *ObserverConn) SendSnapshot(devices []wire.DeviceSummary) error {
	env, err := wire.NewEnvelope(wire.TypeDevicesChanged, "", wire.DevicesChangedPayload{Devices: devices})
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return websocket.ErrCloseSent
	}
	return o.conn.WriteJSON(env)
}

// Close implements broadcast.Observer.
func (o *ObserverConn) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.conn.Close()
}
