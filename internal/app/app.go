package app

import (
	"github.com/go-redis/redis"
	"github.com/pylonhq/pylon/internal/config"
	"github.com/pylonhq/pylon/internal/domains/device"
	"github.com/pylonhq/pylon/internal/domains/relay"
	"github.com/pylonhq/pylon/internal/domains/resource"
	"github.com/pylonhq/pylon/internal/domains/signal"
	"github.com/pylonhq/pylon/internal/repository/connlog"
	"github.com/pylonhq/pylon/internal/server"
	"github.com/pylonhq/pylon/pkg/Logger"
	"github.com/pylonhq/pylon/pkg/broadcast"
	"gorm.io/gorm"
)

// App represents the hub with all its dependencies
type App struct {
	Config *config.Settings
	Logger *Logger.Logger
	DB     *gorm.DB
	RC     *redis.Client

	Registry      device.Registry
	Correlator    *relay.Correlator
	RelayService  *relay.Service
	SignalService *signal.Service
	Resources     resource.Store
	Broadcaster   *broadcast.Broadcaster
	ConnLog       *connlog.Repository
	Sweeper       *device.Sweeper

	ServerDeps server.Dependencies
}

// NewApp creates the hub instance with all dependencies properly wired. db
// and rc are optional; without them the audit log is skipped and resource
// snapshots stay in memory.
func NewApp(cfg *config.Settings, logger *Logger.Logger, db *gorm.DB, rc *redis.Client) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		RC:     rc,
	}
	app.setupDependencies()
	return app, nil
}

func (a *App) setupDependencies() {
	hub := a.Config.Hub

	// fan-out first: the registry publishes into it
	a.Broadcaster = broadcast.New(a.Logger, broadcast.RingSizeFor(hub.MaxDevices))
	a.Registry = device.NewRegistry(a.Logger, a.Broadcaster)
	a.Correlator = relay.NewCorrelator(a.Logger, hub.MaxPending)

	a.RelayService = relay.NewService(a.Logger, relay.Config{
		RequestTimeout:  hub.RequestTimeout,
		TransferTimeout: hub.TransferTimeout,
	}, a.Registry, a.Correlator)
	a.SignalService = signal.NewService(a.Logger, a.Registry)

	if a.RC != nil {
		a.Resources = resource.NewRedisStore(a.RC, hub.ResourceTTL)
	} else {
		a.Resources = resource.NewMemoryStore()
	}

	if a.DB != nil {
		a.ConnLog = connlog.NewRepository(a.DB, a.Logger)
	}

	a.Sweeper = device.NewSweeper(a.Logger, device.SweeperConfig{
		Interval:      hub.SweepInterval,
		DeviceTTL:     hub.DeviceTTL,
		MaxDevices:    hub.MaxDevices,
		PendingMaxAge: hub.PendingMaxAge,
		ResourceTTL:   hub.ResourceTTL,
		MaxResources:  hub.MaxResources,
	}, a.Registry, a.Correlator, a.Resources)

	a.ServerDeps = server.NewServerDependencies(
		a.Registry,
		a.RelayService,
		a.SignalService,
		a.Resources,
		a.Broadcaster,
		a.ConnLog,
		a.Logger,
		a.Config,
	)
}

// GetServerDependencies returns the server dependencies
func (a *App) GetServerDependencies() server.Dependencies {
	return a.ServerDeps
}

// Start launches background work (the eviction sweeper).
func (a *App) Start() {
	a.Sweeper.Start()
}

// Close stops background work.
func (a *App) Close() {
	a.Sweeper.Close()
}
