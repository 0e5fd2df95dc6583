package websocket

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pylonhq/pylon/internal/domains/device"
	"github.com/pylonhq/pylon/internal/domains/relay"
	"github.com/pylonhq/pylon/internal/domains/resource"
	"github.com/pylonhq/pylon/internal/domains/signal"
	"github.com/pylonhq/pylon/internal/repository/connlog"
	"github.com/pylonhq/pylon/pkg/Logger"
	"github.com/pylonhq/pylon/pkg/broadcast"
	"github.com/pylonhq/pylon/pkg/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler owns both socket surfaces: the device persistent connection and
// the observer snapshot feed.
type WSHandler struct {
	logger        *Logger.Logger
	registry      device.Registry
	relayService  *relay.Service
	signalService *signal.Service
	resources     resource.Store
	broadcaster   *broadcast.Broadcaster
	connLog       *connlog.Repository
}

func NewWSHandler(
	logger *Logger.Logger,
	registry device.Registry,
	relayService *relay.Service,
	signalService *signal.Service,
	resources resource.Store,
	broadcaster *broadcast.Broadcaster,
	connLog *connlog.Repository,
) *WSHandler {
	return &WSHandler{
		logger:        logger,
		registry:      registry,
		relayService:  relayService,
		signalService: signalService,
		resources:     resources,
		broadcaster:   broadcaster,
		connLog:       connLog,
	}
}

// DeviceSocket upgrades a device agent connection and runs its read loop.
func (h *WSHandler) DeviceSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("device ws upgrade failed: %v", err)
		return
	}

	session := NewDeviceSession(conn)
	h.logger.Infof("device socket connected (connection %s, remote %s)", session.ConnectionID, c.ClientIP())
	defer h.cleanup(session)

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warnf("device socket read error (connection %s): %v", session.ConnectionID, err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(msgBytes, &env); err != nil {
			h.logger.Warnf("malformed envelope on connection %s: %v", session.ConnectionID, err)
			continue
		}
		h.dispatch(c, session, env)
	}
}

// ObserverSocket upgrades an observer connection and feeds it registry
// snapshots until it goes away.
func (h *WSHandler) ObserverSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("observer ws upgrade failed: %v", err)
		return
	}

	observer := NewObserverConn(conn)
	h.broadcaster.Attach(observer)
	defer func() {
		h.broadcaster.Detach(observer.ID())
		_ = observer.Close()
	}()

	// observers only listen; the read loop just detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandler) dispatch(c *gin.Context, session *DeviceSession, env wire.Envelope) {
	switch env.Type {
	case wire.TypeRegister:
		h.handleRegister(c, session, env)
	case wire.TypePing:
		h.handlePing(session)
	case wire.TypeListResponse:
		h.handleListResponse(env)
	case wire.TypeDownloadChunk:
		h.handleDownloadChunk(env)
	case wire.TypeSignalOffer, wire.TypeSignalAnswer, wire.TypeSignalICE:
		h.handleSignal(session, env)
	case wire.TypeResourceReport:
		h.handleResourceReport(session, env)
	default:
		h.logger.Warnf("unhandled message type %s on connection %s", env.Type, session.ConnectionID)
	}
}

func (h *WSHandler) handleRegister(c *gin.Context, session *DeviceSession, env wire.Envelope) {
	var payload wire.RegisterPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		h.logger.Warnf("malformed register payload on connection %s: %v", session.ConnectionID, err)
		return
	}

	ip := payload.IPAddress
	if ip == "" {
		ip = c.ClientIP()
	}

	deviceID, err := h.registry.Register(device.RegisterInput{
		DeviceID:    payload.DeviceID,
		DisplayName: payload.DisplayName,
		DeviceType:  payload.DeviceType,
		IPAddress:   ip,
		Handle:      session.Handle,
	})
	if err != nil {
		h.logger.Errorf("registration failed on connection %s: %v", session.ConnectionID, err)
		return
	}

	session.DeviceID = deviceID
	h.connLog.RecordConnect(deviceID, session.ConnectionID.String())
	h.logger.Infof("device %s (%s) registered on connection %s", deviceID, payload.DisplayName, session.ConnectionID)

	if err := session.Send(wire.TypeRegistered, env.CorrelationID, wire.RegisteredPayload{DeviceID: deviceID}); err != nil {
		h.logger.Warnf("failed to confirm registration to device %s: %v", deviceID, err)
	}
}

func (h *WSHandler) handlePing(session *DeviceSession) {
	if session.Registered() {
		h.registry.Touch(session.DeviceID)
	}
	if err := session.Send(wire.TypePong, "", wire.PongPayload{Timestamp: time.Now()}); err != nil {
		h.logger.Debugf("failed to answer ping on connection %s: %v", session.ConnectionID, err)
	}
}

func (h *WSHandler) handleListResponse(env wire.Envelope) {
	var payload wire.ListResponsePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		h.relayService.HandleListResponse(env.CorrelationID, nil, "malformed list-response payload")
		return
	}
	h.relayService.HandleListResponse(env.CorrelationID, payload.Files, payload.Error)
}

func (h *WSHandler) handleDownloadChunk(env wire.Envelope) {
	var payload wire.DownloadChunkPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		h.relayService.HandleDownloadChunk(env.CorrelationID, nil, false, "malformed download-chunk payload")
		return
	}
	if payload.Error != "" {
		h.relayService.HandleDownloadChunk(env.CorrelationID, nil, false, payload.Error)
		return
	}

	chunk, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		h.relayService.HandleDownloadChunk(env.CorrelationID, nil, false, "undecodable chunk data")
		return
	}
	h.relayService.HandleDownloadChunk(env.CorrelationID, chunk, payload.IsLast, "")
}

func (h *WSHandler) handleSignal(session *DeviceSession, env wire.Envelope) {
	if !session.Registered() {
		h.logger.Warnf("dropping %s from unregistered connection %s", env.Type, session.ConnectionID)
		return
	}
	var payload wire.SignalPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		h.logger.Warnf("malformed %s payload from device %s: %v", env.Type, session.DeviceID, err)
		return
	}
	h.signalService.Forward(session.DeviceID, payload.TargetDeviceID, env.Type, payload.Payload)
}

func (h *WSHandler) handleResourceReport(session *DeviceSession, env wire.Envelope) {
	if !session.Registered() {
		h.logger.Warnf("dropping resource report from unregistered connection %s", session.ConnectionID)
		return
	}
	var payload wire.ResourceReportPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		h.logger.Warnf("malformed resource report from device %s: %v", session.DeviceID, err)
		return
	}
	if err := h.resources.Put(session.DeviceID, payload.Resources); err != nil {
		h.logger.Errorf("failed to store resource snapshot for device %s: %v", session.DeviceID, err)
	}
}

// cleanup runs when a device socket goes away. The record is removed only if
// this session's handle is still the registered one: a re-registration on a
// newer connection supersedes it, and the stale socket must not evict the
// live record. Other devices' pending requests are untouched; this device's
// own outstanding requests fail via their timeouts.
func (h *WSHandler) cleanup(session *DeviceSession) {
	defer func() { _ = session.Handle.Close() }()

	if !session.Registered() {
		return
	}

	rec, err := h.registry.Lookup(session.DeviceID)
	if err == nil && rec.Handle == session.Handle {
		h.registry.Remove(session.DeviceID)
	} else if err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
		h.logger.Warnf("cleanup lookup failed for device %s: %v", session.DeviceID, err)
	}
	h.connLog.RecordDisconnect(session.DeviceID, session.ConnectionID.String())
	h.logger.Infof("device %s disconnected (connection %s, online %s)",
		session.DeviceID, session.ConnectionID, time.Since(session.ConnectedAt))
}
