// Package janitor runs the retention sweeps for version and trash snapshots.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/open-mediary/mediary/internal/domain"
	"github.com/open-mediary/mediary/internal/metrics"
)

// Janitor periodically prunes aged snapshots from every registered store.
type Janitor struct {
	cfg      domain.JanitorConfig
	versions []domain.VersionStore
	trash    []domain.TrashStore
	logger   *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a janitor with the given retention settings.
func New(cfg domain.JanitorConfig, logger *slog.Logger) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.VersionRetention <= 0 {
		cfg.VersionRetention = 90 * 24 * time.Hour
	}
	if cfg.TrashRetention <= 0 {
		cfg.TrashRetention = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Janitor{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddVersionStore registers a version store for sweeping.
func (j *Janitor) AddVersionStore(vs domain.VersionStore) {
	j.versions = append(j.versions, vs)
}

// AddTrashStore registers a trash store for sweeping.
func (j *Janitor) AddTrashStore(ts domain.TrashStore) {
	j.trash = append(j.trash, ts)
}

// Start launches the sweep loop. Call Stop to shut it down.
func (j *Janitor) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-j.ctx.Done():
				return
			case <-ticker.C:
				j.Sweep(j.ctx)
			}
		}
	}()

	j.logger.Info("janitor started",
		"interval", j.cfg.Interval.String(),
		"version_retention", j.cfg.VersionRetention.String(),
		"trash_retention", j.cfg.TrashRetention.String(),
	)
}

// Sweep runs one retention pass over every registered store.
func (j *Janitor) Sweep(ctx context.Context) {
	versionCutoff := time.Now().Add(-j.cfg.VersionRetention)
	trashCutoff := time.Now().Add(-j.cfg.TrashRetention)

	for _, vs := range j.versions {
		n, err := vs.PruneVersions(ctx, versionCutoff)
		if err != nil {
			j.logger.Error("version prune failed", "error", err)
			continue
		}
		if n > 0 {
			metrics.JanitorPruned.WithLabelValues("version").Add(float64(n))
			j.logger.Info("versions pruned", "count", n)
		}
	}

	for _, ts := range j.trash {
		n, err := ts.PruneTrash(ctx, trashCutoff)
		if err != nil {
			j.logger.Error("trash prune failed", "error", err)
			continue
		}
		if n > 0 {
			metrics.JanitorPruned.WithLabelValues("trash").Add(float64(n))
			j.logger.Info("trash pruned", "count", n)
		}
	}
}

// Stop shuts the sweep loop down and waits for it to exit.
func (j *Janitor) Stop() {
	j.cancel()
	j.wg.Wait()
	j.logger.Info("janitor stopped")
}
