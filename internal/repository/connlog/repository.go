package connlog

import (
	"time"

	"github.com/pylonhq/pylon/pkg/Logger"
	"gorm.io/gorm"
)

// Repository records device session audit rows. Every method is best-effort:
// a database failure is logged and never propagates into the relay path. A
// nil *Repository is a valid no-op (hub running without MySQL).
type Repository struct {
	db     *gorm.DB
	logger *Logger.Logger
}

func NewRepository(db *gorm.DB, logger *Logger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// RecordConnect writes the session-open row when a device socket registers.
func (r *Repository) RecordConnect(deviceID, connectionID string) {
	if r == nil {
		return
	}
	entity := SessionLogEntity{
		DeviceID:     deviceID,
		ConnectionID: connectionID,
		ConnectedAt:  time.Now(),
	}
	if err := r.db.Create(&entity).Error; err != nil {
		r.logger.Warnf("connlog: failed to record connect for device %s: %v", deviceID, err)
	}
}

// RecordDisconnect completes the open row for this session with the
// disconnect time and online duration.
func (r *Repository) RecordDisconnect(deviceID, connectionID string) {
	if r == nil {
		return
	}
	var entity SessionLogEntity
	err := r.db.
		Where("device_id = ? AND connection_id = ? AND disconnected_at IS NULL", deviceID, connectionID).
		First(&entity).Error
	if err != nil {
		// already completed or never recorded
		return
	}

	now := time.Now()
	onlineSeconds := int64(now.Sub(entity.ConnectedAt).Seconds())
	if onlineSeconds < 0 {
		onlineSeconds = 0
	}
	if err := r.db.Model(&SessionLogEntity{}).
		Where("id = ? AND disconnected_at IS NULL", entity.ID).
		Updates(map[string]any{
			"disconnected_at": &now,
			"online_seconds":  &onlineSeconds,
		}).Error; err != nil {
		r.logger.Warnf("connlog: failed to record disconnect for device %s: %v", deviceID, err)
	}
}

// CloseAllOpenOnStartup completes rows left open by an unclean shutdown,
// taking the startup time as the disconnect time.
func (r *Repository) CloseAllOpenOnStartup(now time.Time) {
	if r == nil {
		return
	}
	var open []SessionLogEntity
	if err := r.db.Where("disconnected_at IS NULL").Find(&open).Error; err != nil {
		r.logger.Warnf("connlog: failed to query open sessions on startup: %v", err)
		return
	}
	for _, entity := range open {
		onlineSeconds := int64(now.Sub(entity.ConnectedAt).Seconds())
		if onlineSeconds < 0 {
			onlineSeconds = 0
		}
		dis := now
		if err := r.db.Model(&SessionLogEntity{}).
			Where("id = ? AND disconnected_at IS NULL", entity.ID).
			Updates(map[string]any{
				"disconnected_at": &dis,
				"online_seconds":  &onlineSeconds,
			}).Error; err != nil {
			r.logger.Warnf("connlog: failed to close stale session %d: %v", entity.ID, err)
		}
	}
	if len(open) > 0 {
		r.logger.Infof("connlog: closed %d session row(s) left open by previous run", len(open))
	}
}
