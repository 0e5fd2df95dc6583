package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType defines the type of a socket message
type MessageType string

const (
	// device -> hub
	TypeRegister       MessageType = "register"
	TypePing           MessageType = "liveness-ping"
	TypeListResponse   MessageType = "list-response"
	TypeDownloadChunk  MessageType = "download-chunk"
	TypeSignalOffer    MessageType = "signal-offer"
	TypeSignalAnswer   MessageType = "signal-answer"
	TypeSignalICE      MessageType = "signal-ice"
	TypeResourceReport MessageType = "resource-report"

	// hub -> device
	TypeRegistered      MessageType = "registered"
	TypePong            MessageType = "liveness-pong"
	TypeListRequest     MessageType = "list-request"
	TypeDownloadRequest MessageType = "download-request"

	// hub -> observers
	TypeDevicesChanged MessageType = "devices-changed"
)

// Envelope is the frame every socket message travels in. CorrelationID binds
// a request to its out-of-band response events and is empty for
// fire-and-forget messages (signaling, liveness, broadcasts).
type Envelope struct {
	Type          MessageType     `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(t MessageType, correlationID string, payload any) (Envelope, error) {
	env := Envelope{Type: t, CorrelationID: correlationID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		env.Data = data
	}
	return env, nil
}

// RegisterPayload announces a device on its persistent connection. DeviceID
// is optional; the hub generates one when absent.
type RegisterPayload struct {
	DeviceID    string `json:"deviceId,omitempty"`
	DisplayName string `json:"displayName"`
	DeviceType  string `json:"deviceType"`
	IPAddress   string `json:"ipAddress,omitempty"`
}

// RegisteredPayload carries the effective device id back to the agent.
type RegisteredPayload struct {
	DeviceID string `json:"deviceId"`
}

// PongPayload answers a liveness ping.
type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// ListRequestPayload asks a device for a directory listing.
type ListRequestPayload struct {
	Path string `json:"path"`
}

// FileInfo describes one entry of a remote directory listing.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"isDir"`
	ModTime time.Time `json:"modTime,omitempty"`
}

// ListResponsePayload answers a list-request. Error is set instead of Files
// when the device could not serve the listing.
type ListResponsePayload struct {
	Files []FileInfo `json:"files,omitempty"`
	Error string     `json:"error,omitempty"`
}

// DownloadRequestPayload asks a device to stream a file back.
type DownloadRequestPayload struct {
	Path string `json:"path"`
}

// DownloadChunkPayload is one chunk of a streamed transfer. Data is base64,
// IsLast marks the final chunk, Error aborts the transfer.
type DownloadChunkPayload struct {
	Data   string `json:"data,omitempty"`
	IsLast bool   `json:"isLast"`
	Error  string `json:"error,omitempty"`
}

// SignalPayload carries a WebRTC negotiation message. Inbound it names the
// target; relayed outbound the hub rewrites it to name the sender.
type SignalPayload struct {
	TargetDeviceID string          `json:"targetDeviceId,omitempty"`
	FromDeviceID   string          `json:"fromDeviceId,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// ResourceDescriptor is an opaque monitored resource reported by a device.
type ResourceDescriptor struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ResourceReportPayload replaces a device's monitored resource snapshot.
type ResourceReportPayload struct {
	Resources []ResourceDescriptor `json:"resources"`
}

// DeviceSummary is the per-device slice of a registry snapshot broadcast.
type DeviceSummary struct {
	DeviceID    string `json:"deviceId"`
	DisplayName string `json:"displayName"`
	DeviceType  string `json:"deviceType"`
	Status      string `json:"status"`
}

// DevicesChangedPayload is pushed to every observer on registry mutations.
type DevicesChangedPayload struct {
	Devices []DeviceSummary `json:"devices"`
}
