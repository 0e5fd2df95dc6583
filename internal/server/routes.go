package server

import (
	"github.com/gin-gonic/gin"
	"github.com/pylonhq/pylon/internal/config"
	"github.com/pylonhq/pylon/internal/domains/device"
	"github.com/pylonhq/pylon/internal/domains/relay"
	"github.com/pylonhq/pylon/internal/domains/resource"
	"github.com/pylonhq/pylon/internal/domains/signal"
	"github.com/pylonhq/pylon/internal/handlers"
	wshandlers "github.com/pylonhq/pylon/internal/handlers/websocket"
	"github.com/pylonhq/pylon/internal/repository/connlog"
	"github.com/pylonhq/pylon/pkg/Logger"
	"github.com/pylonhq/pylon/pkg/broadcast"
)

type Dependencies struct {
	Registry      device.Registry
	RelayService  *relay.Service
	SignalService *signal.Service
	Resources     resource.Store
	Broadcaster   *broadcast.Broadcaster
	ConnLog       *connlog.Repository
	Logger        *Logger.Logger
	Configs       *config.Settings
}

func NewServerDependencies(
	registry device.Registry,
	relayService *relay.Service,
	signalService *signal.Service,
	resources resource.Store,
	broadcaster *broadcast.Broadcaster,
	connLog *connlog.Repository,
	logger *Logger.Logger,
	configs *config.Settings,
) Dependencies {
	return Dependencies{
		Registry:      registry,
		RelayService:  relayService,
		SignalService: signalService,
		Resources:     resources,
		Broadcaster:   broadcaster,
		ConnLog:       connLog,
		Logger:        logger,
		Configs:       configs,
	}
}

func InitializeRoutes(r *gin.Engine, dep Dependencies) {
	r.GET("/", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"message": "Hub healthy"}) })
	r.GET("/health", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"status": "ok"}) })

	deviceHandler := handlers.NewDeviceHandler(dep.Registry, dep.RelayService, dep.Resources, dep.Logger)
	wsHandler := wshandlers.NewWSHandler(
		dep.Logger,
		dep.Registry,
		dep.RelayService,
		dep.SignalService,
		dep.Resources,
		dep.Broadcaster,
		dep.ConnLog,
	)

	// persistent sockets
	r.GET("/ws/devices", wsHandler.DeviceSocket)
	r.GET("/ws/observers", wsHandler.ObserverSocket)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/devices", deviceHandler.ListDevices)
		v1.POST("/devices/register", deviceHandler.RegisterDevice)
		v1.GET("/devices/:id/files", deviceHandler.BrowseFiles)
		v1.GET("/devices/:id/download", deviceHandler.DownloadFile)
		v1.GET("/devices/:id/resources", deviceHandler.GetResources)
	}
}
