package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pylonhq/pylon/pkg/push"
	"github.com/pylonhq/pylon/pkg/wire"
)

type wsHandle struct {
	id     uuid.UUID
	client *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// ID implements push.Handle.
func (w *wsHandle) ID() push.HandleID {
	return push.HandleID(w.id)
}

// Send implements push.Handle. gorilla connections allow one concurrent
// writer, so every outbound frame goes through the handle mutex.
func (w *wsHandle) Send(env wire.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return websocket.ErrCloseSent
	}
	return w.client.WriteJSON(env)
}

// Close implements push.Handle.
func (w *wsHandle) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.client.Close()
}

func New(client *websocket.Conn) push.Handle {
	return &wsHandle{
		id:     uuid.New(),
		client: client,
	}
}
