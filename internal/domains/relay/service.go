package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/pylonhq/pylon/internal/domains/device"
	"github.com/pylonhq/pylon/pkg/Logger"
	"github.com/pylonhq/pylon/pkg/wire"
)

// Config carries the per-kind request timeouts: short for metadata requests,
// long for transfers of large payloads.
type Config struct {
	RequestTimeout  time.Duration
	TransferTimeout time.Duration
}

// Service is the request/response relay over persistent device connections.
// It pairs the connection registry with the correlation table: an inbound
// API call looks up the target connection, allocates a correlation id, sends
// a tagged request, and the device's tagged response events find their way
// back through the correlator.
type Service struct {
	logger     *Logger.Logger
	cfg        Config
	registry   device.Registry
	correlator *Correlator
}

func NewService(logger *Logger.Logger, cfg Config, registry device.Registry, correlator *Correlator) *Service {
	return &Service{
		logger:     logger,
		cfg:        cfg,
		registry:   registry,
		correlator: correlator,
	}
}

// Browse requests a directory listing from the device and awaits the
// out-of-band list-response.
func (s *Service) Browse(ctx context.Context, deviceID, path string) ([]wire.FileInfo, error) {
	rec, err := s.registry.Lookup(deviceID)
	if err != nil {
		return nil, err
	}
	if rec.Handle == nil {
		return nil, device.ErrNotConnected
	}

	id, err := s.correlator.Allocate(KindSingle, s.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	env, err := wire.NewEnvelope(wire.TypeListRequest, id, wire.ListRequestPayload{Path: path})
	if err != nil {
		s.correlator.Discard(id)
		return nil, err
	}
	if err := rec.Handle.Send(env); err != nil {
		s.correlator.Discard(id)
		return nil, fmt.Errorf("failed to send list-request to device %s: %w", deviceID, err)
	}

	value, err := s.correlator.AwaitResolution(ctx, id)
	if err != nil {
		return nil, err
	}
	files, ok := value.([]wire.FileInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected list-response payload for device %s", deviceID)
	}
	return files, nil
}

// Download asks the device to stream the file at path into sink. Synchronous
// failures (unknown device, no push handle) return immediately; everything
// after dispatch arrives through the sink, which is terminated exactly once
// by the last chunk, a device error, or the transfer timeout.
func (s *Service) Download(ctx context.Context, deviceID, path string, sink ChunkSink) error {
	rec, err := s.registry.Lookup(deviceID)
	if err != nil {
		return err
	}
	if rec.Handle == nil {
		return device.ErrNotConnected
	}

	id, err := s.correlator.Allocate(KindStream, s.cfg.TransferTimeout)
	if err != nil {
		return err
	}
	if err := s.correlator.AttachSink(id, sink); err != nil {
		s.correlator.Discard(id)
		return err
	}

	env, err := wire.NewEnvelope(wire.TypeDownloadRequest, id, wire.DownloadRequestPayload{Path: path})
	if err != nil {
		s.correlator.Discard(id)
		return err
	}
	if err := rec.Handle.Send(env); err != nil {
		s.correlator.Discard(id)
		return fmt.Errorf("failed to send download-request to device %s: %w", deviceID, err)
	}

	s.logger.Infof("download of %s dispatched to device %s (correlation %s)", path, deviceID, id)
	return nil
}

// HandleListResponse routes a device's list-response event to its waiter.
func (s *Service) HandleListResponse(correlationID string, files []wire.FileInfo, remoteErr string) {
	if remoteErr != "" {
		s.correlator.Reject(correlationID, remoteErr)
		return
	}
	s.correlator.Resolve(correlationID, files)
}

// HandleDownloadChunk routes one download-chunk event into the streaming
// relay. chunk holds the decoded bytes; remoteErr aborts the transfer.
func (s *Service) HandleDownloadChunk(correlationID string, chunk []byte, isLast bool, remoteErr string) {
	if remoteErr != "" {
		s.correlator.Reject(correlationID, remoteErr)
		return
	}
	s.correlator.PushChunk(correlationID, chunk, isLast)
}

// SweepExpired exposes the correlator safety net for the shared sweeper.
func (s *Service) SweepExpired(maxAge time.Duration) int {
	return s.correlator.SweepExpired(maxAge)
}
