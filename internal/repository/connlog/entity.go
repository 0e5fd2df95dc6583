package connlog

import "time"

// SessionLogEntity is one device connection session: opened on ws connect,
// completed with the disconnect time and online duration.
type SessionLogEntity struct {
	ID             uint       `gorm:"primaryKey;autoIncrement"`
	DeviceID       string     `gorm:"size:64;index"`
	ConnectionID   string     `gorm:"size:64;index"`
	ConnectedAt    time.Time  `gorm:"not null"`
	DisconnectedAt *time.Time `gorm:"default:null"`
	OnlineSeconds  *int64     `gorm:"default:null"`
}

// TableName overrides the GORM default.
func (SessionLogEntity) TableName() string {
	return "device_session_logs"
}
