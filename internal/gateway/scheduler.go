package gateway

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/edgelab/appaudit/internal/resultcache"
)

// Scheduler runs the periodic stale-cache sweep on a cron expression.
type Scheduler struct {
	cron     *cron.Cron
	cache    *resultcache.Cache
	schedule string
	maxAge   time.Duration
}

func newScheduler(cache *resultcache.Cache, schedule string, maxAge time.Duration) *Scheduler {
	if schedule == "" {
		schedule = "@hourly"
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Scheduler{
		cron:     cron.New(),
		cache:    cache,
		schedule: schedule,
		maxAge:   maxAge,
	}
}

// Start registers the sweep job and starts the cron runner.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.sweep)
	if err != nil {
		return fmt.Errorf("invalid cache sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	slog.Info("cache sweep scheduled", "schedule", s.schedule, "max_age", s.maxAge)
	return nil
}

// Stop halts the cron runner gracefully.
func (s *Scheduler) Stop() { s.cron.Stop() }

func (s *Scheduler) sweep() {
	removed := s.cache.Sweep(s.maxAge)
	if removed > 0 {
		slog.Info("swept stale cache entries", "removed", removed, "remaining", s.cache.Len())
	}
}
