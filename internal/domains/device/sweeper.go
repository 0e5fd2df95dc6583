package device

import (
	"time"

	"github.com/pylonhq/pylon/pkg/Logger"
)

// correlationSweeper is the safety-net sweep of the correlation table.
type correlationSweeper interface {
	SweepExpired(maxAge time.Duration) int
}

// resourceSweeper evicts stale monitored resource snapshots.
type resourceSweeper interface {
	SweepExpired(ttl time.Duration, maxCount int) int
}

// SweeperConfig carries the eviction limits, loaded from settings.
type SweeperConfig struct {
	Interval      time.Duration
	DeviceTTL     time.Duration
	MaxDevices    int
	PendingMaxAge time.Duration
	ResourceTTL   time.Duration
	MaxResources  int
}

// Sweeper drives TTL and capacity eviction for the registry, the correlation
// table and the resource store on one fixed interval, independent of any
// individual request.
type Sweeper struct {
	logger    *Logger.Logger
	cfg       SweeperConfig
	registry  Registry
	pending   correlationSweeper
	resources resourceSweeper

	ticker *time.Ticker
	stop   chan struct{}
}

func NewSweeper(logger *Logger.Logger, cfg SweeperConfig, registry Registry, pending correlationSweeper, resources resourceSweeper) *Sweeper {
	return &Sweeper{
		logger:    logger,
		cfg:       cfg,
		registry:  registry,
		pending:   pending,
		resources: resources,
		stop:      make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.ticker = time.NewTicker(s.cfg.Interval)
	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.sweep()
			case <-s.stop:
				s.ticker.Stop()
				return
			}
		}
	}()
	s.logger.Infof("sweeper started (interval %s, device ttl %s)", s.cfg.Interval, s.cfg.DeviceTTL)
}

// Close stops the sweep loop.
func (s *Sweeper) Close() {
	close(s.stop)
}

func (s *Sweeper) sweep() {
	devices := s.registry.SweepExpired(s.cfg.DeviceTTL, s.cfg.MaxDevices)
	stuck := 0
	if s.pending != nil {
		stuck = s.pending.SweepExpired(s.cfg.PendingMaxAge)
	}
	snapshots := 0
	if s.resources != nil {
		snapshots = s.resources.SweepExpired(s.cfg.ResourceTTL, s.cfg.MaxResources)
	}
	if devices > 0 || stuck > 0 || snapshots > 0 {
		s.logger.Infof("sweep evicted %d device(s), %d stuck request(s), %d resource snapshot(s)",
			devices, stuck, snapshots)
	}
}
