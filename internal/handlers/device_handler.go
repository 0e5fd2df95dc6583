package handlers

import (
	"errors"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/pylonhq/pylon/internal/domains/device"
	"github.com/pylonhq/pylon/internal/domains/relay"
	"github.com/pylonhq/pylon/internal/domains/resource"
	"github.com/pylonhq/pylon/pkg/Logger"
)

// DeviceHandler handles device-related HTTP requests
type DeviceHandler struct {
	registry     device.Registry
	relayService *relay.Service
	resources    resource.Store
	logger       *Logger.Logger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(registry device.Registry, relayService *relay.Service, resources resource.Store, logger *Logger.Logger) *DeviceHandler {
	return &DeviceHandler{
		registry:     registry,
		relayService: relayService,
		resources:    resources,
		logger:       logger,
	}
}

// ListDevices returns every registry record
// @Summary List registered devices
// @Tags Devices
// @Produce json
// @Success 200 {object} ListDevicesResponse
// @Router /api/v1/devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	records := h.registry.List()
	devices := make([]DeviceView, 0, len(records))
	for _, rec := range records {
		devices = append(devices, NewDeviceView(rec))
	}
	c.JSON(http.StatusOK, ListDevicesResponse{Devices: devices})
}

// RegisterDevice handles side-channel, handle-less registration
// @Summary Register a device without a push connection
// @Tags Devices
// @Accept json
// @Produce json
// @Param request body RegisterDeviceRequest true "Device registration data"
// @Success 201 {object} RegisterDeviceResponse
// @Failure 400 {object} ErrorResponse "Invalid request data"
// @Router /api/v1/devices/register [post]
func (h *DeviceHandler) RegisterDevice(c *gin.Context) {
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request data",
			Details: err.Error(),
		})
		return
	}

	deviceID, err := h.registry.Register(device.RegisterInput{
		DeviceID:    req.DeviceID,
		DisplayName: req.DisplayName,
		DeviceType:  req.DeviceType,
		IPAddress:   req.IPAddress,
	})
	if err != nil {
		if errors.Is(err, device.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid registration input"})
			return
		}
		h.logger.Errorf("side-channel registration error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, RegisterDeviceResponse{DeviceID: deviceID})
}

// BrowseFiles lists a directory on a connected device
// @Summary Browse a remote directory
// @Tags Files
// @Produce json
// @Param id path string true "Device id"
// @Param path query string false "Remote path" default(/)
// @Success 200 {object} BrowseResponse
// @Failure 404 {object} ErrorResponse "Unknown device"
// @Failure 409 {object} ErrorResponse "Device has no push connection"
// @Failure 502 {object} ErrorResponse "Device reported an error"
// @Failure 504 {object} ErrorResponse "Device did not answer in time"
// @Router /api/v1/devices/{id}/files [get]
func (h *DeviceHandler) BrowseFiles(c *gin.Context) {
	deviceID := c.Param("id")
	remotePath := c.DefaultQuery("path", "/")

	files, err := h.relayService.Browse(c.Request.Context(), deviceID, remotePath)
	if err != nil {
		h.writeRelayError(c, err)
		return
	}

	c.JSON(http.StatusOK, BrowseResponse{
		DeviceID: deviceID,
		Path:     remotePath,
		Files:    files,
	})
}

// DownloadFile streams a remote file through the hub
// @Summary Download a remote file
// @Tags Files
// @Produce octet-stream
// @Param id path string true "Device id"
// @Param path query string true "Remote file path"
// @Success 200 {file} binary
// @Failure 400 {object} ErrorResponse "Missing path"
// @Failure 404 {object} ErrorResponse "Unknown device"
// @Failure 409 {object} ErrorResponse "Device has no push connection"
// @Failure 502 {object} ErrorResponse "Device reported an error"
// @Failure 504 {object} ErrorResponse "Device did not answer in time"
// @Router /api/v1/devices/{id}/download [get]
func (h *DeviceHandler) DownloadFile(c *gin.Context) {
	deviceID := c.Param("id")
	remotePath := c.Query("path")
	if remotePath == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing path parameter"})
		return
	}

	sink := NewHTTPSink(c.Writer, path.Base(remotePath))
	if err := h.relayService.Download(c.Request.Context(), deviceID, remotePath, sink); err != nil {
		h.writeRelayError(c, err)
		return
	}

	result := <-sink.Done()
	if result.Err == nil {
		return
	}
	if result.Wrote {
		// bytes already went out; the stream is terminated by truncation
		// and the client detects the incomplete transfer
		h.logger.Warnf("download from %s truncated after partial delivery: %v", deviceID, result.Err)
		c.Abort()
		return
	}
	h.writeRelayError(c, result.Err)
}

// GetResources returns the monitored resource snapshot for a device
// @Summary Get a device's monitored resources
// @Tags Devices
// @Produce json
// @Param id path string true "Device id"
// @Success 200 {object} resource.Snapshot
// @Failure 404 {object} ErrorResponse "No snapshot for device"
// @Router /api/v1/devices/{id}/resources [get]
func (h *DeviceHandler) GetResources(c *gin.Context) {
	deviceID := c.Param("id")
	snap, err := h.resources.Get(deviceID)
	if err != nil {
		if errors.Is(err, resource.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "No resource snapshot for device"})
			return
		}
		h.logger.Errorf("resource snapshot lookup error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *DeviceHandler) writeRelayError(c *gin.Context, err error) {
	var remoteErr *relay.RemoteError
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown device"})
	case errors.Is(err, device.ErrNotConnected):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Device has no push connection"})
	case errors.Is(err, relay.ErrRequestTimeout):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "Device did not answer in time"})
	case errors.Is(err, relay.ErrTooManyPending):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "Too many requests in flight"})
	case errors.As(err, &remoteErr):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Device reported an error", Details: remoteErr.Reason})
	default:
		h.logger.Errorf("relay error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	}
}
