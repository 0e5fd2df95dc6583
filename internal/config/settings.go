package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DBConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.Username, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Pass    string `mapstructure:"pass"`
}

// HubConfig is the relay core's tuning surface: eviction TTLs, correlation
// timeouts and capacity limits.
type HubConfig struct {
	DeviceTTL       time.Duration `mapstructure:"device_ttl"`
	MaxDevices      int           `mapstructure:"max_devices"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	TransferTimeout time.Duration `mapstructure:"transfer_timeout"`
	PendingMaxAge   time.Duration `mapstructure:"pending_max_age"`
	MaxPending      int           `mapstructure:"max_pending"`
	ResourceTTL     time.Duration `mapstructure:"resource_ttl"`
	MaxResources    int           `mapstructure:"max_resources"`
}

type Settings struct {
	Server ServerConfig `mapstructure:"server"`
	Hub    HubConfig    `mapstructure:"hub"`
	DB     DBConfig     `mapstructure:"database"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Env    string       `mapstructure:"env"`
	Debug  bool         `mapstructure:"debug"`
}

func Load() (*Settings, error) {
	viper.SetConfigName("config_" + genEnv())
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &settings, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("hub.device_ttl", "5m")
	viper.SetDefault("hub.max_devices", 1024)
	viper.SetDefault("hub.sweep_interval", "30s")
	viper.SetDefault("hub.request_timeout", "30s")
	viper.SetDefault("hub.transfer_timeout", "10m")
	viper.SetDefault("hub.pending_max_age", "15m")
	viper.SetDefault("hub.max_pending", 4096)
	viper.SetDefault("hub.resource_ttl", "10m")
	viper.SetDefault("hub.max_resources", 2048)
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
