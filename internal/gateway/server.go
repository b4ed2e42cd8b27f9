// Package gateway is the long-running control plane: a localhost JSON REST
// API over the result store and task repository, plus a cron scheduler that
// sweeps stale cache entries.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/edgelab/appaudit/internal/config"
	"github.com/edgelab/appaudit/internal/database"
	"github.com/edgelab/appaudit/internal/resultcache"
	"github.com/edgelab/appaudit/internal/resultstore"
	"github.com/edgelab/appaudit/internal/task"
)

// Gateway combines the shared cache, the result store, the task repository,
// and the sweep scheduler behind one HTTP server.
type Gateway struct {
	cfg       *config.Config
	db        database.DB
	cache     *resultcache.Cache
	store     *resultstore.Store
	tasks     *task.Store
	scheduler *Scheduler
	startedAt time.Time
}

// New creates a Gateway. Call Start() to begin serving.
func New(cfg *config.Config, db database.DB) *Gateway {
	cache := resultcache.New(time.Duration(cfg.Cache.TTLMinutes) * time.Minute)
	gw := &Gateway{
		cfg:       cfg,
		db:        db,
		cache:     cache,
		store:     resultstore.New(db, cache, cfg.Results.Dir),
		tasks:     task.NewStore(db),
		startedAt: time.Now(),
	}
	gw.scheduler = newScheduler(cache, cfg.Cache.SweepSchedule,
		time.Duration(cfg.Cache.SweepMaxAgeHours)*time.Hour)
	return gw
}

// Start runs the gateway until ctx is cancelled: the sweep scheduler first,
// then the HTTP server (blocks until shutdown).
func (gw *Gateway) Start(ctx context.Context) error {
	port := gw.cfg.Gateway.Port
	if port == 0 {
		port = 6090
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	if err := gw.scheduler.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: buildHandler(gw),
	}

	go func() {
		<-ctx.Done()
		gw.scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway: listening", "addr", "http://"+addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
