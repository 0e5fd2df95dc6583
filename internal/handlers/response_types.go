package handlers

import (
	"time"

	"github.com/pylonhq/pylon/internal/domains/device"
	"github.com/pylonhq/pylon/pkg/wire"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"Something went wrong"`
	Details string `json:"details,omitempty" example:"Validation error details"`
}

// DeviceView is the HTTP projection of one registry record.
type DeviceView struct {
	DeviceID       string    `json:"deviceId"`
	DisplayName    string    `json:"displayName"`
	DeviceType     string    `json:"deviceType"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	Status         string    `json:"status"`
	Connected      bool      `json:"connected"`
	ConnectedAt    time.Time `json:"connectedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

func NewDeviceView(rec device.Record) DeviceView {
	return DeviceView{
		DeviceID:       rec.DeviceID,
		DisplayName:    rec.DisplayName,
		DeviceType:     rec.DeviceType,
		IPAddress:      rec.IPAddress,
		Status:         string(rec.Status),
		Connected:      rec.Handle != nil,
		ConnectedAt:    rec.ConnectedAt,
		LastActivityAt: rec.LastActivityAt,
	}
}

// ListDevicesResponse represents the response for listing devices
type ListDevicesResponse struct {
	Devices []DeviceView `json:"devices"`
}

// RegisterDeviceRequest is the side-channel registration body. Records
// created this way have no push handle and cannot serve browse/download.
type RegisterDeviceRequest struct {
	DeviceID    string `json:"deviceId" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
	DeviceType  string `json:"deviceType"`
	IPAddress   string `json:"ipAddress" binding:"required"`
}

// RegisterDeviceResponse carries the effective device id back.
type RegisterDeviceResponse struct {
	DeviceID string `json:"deviceId"`
}

// BrowseResponse represents a remote directory listing
type BrowseResponse struct {
	DeviceID string          `json:"deviceId"`
	Path     string          `json:"path"`
	Files    []wire.FileInfo `json:"files"`
}
