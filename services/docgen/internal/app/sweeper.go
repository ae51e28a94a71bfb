package app

import (
	"context"
	"log/slog"
	"time"

	"docgen/pkg/storage"
	"docgen/services/docgen/internal/jobstore"
)

// Sweeper evicts expired uploads and jobs and deletes their artifacts.
type Sweeper struct {
	store     *jobstore.Store
	artifacts storage.ArtifactStore
	interval  time.Duration
	logger    *slog.Logger
}

// Sweeper returns the retention task for this app. A non-positive interval
// means five minutes.
func (a *App) Sweeper(interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		store:     a.store,
		artifacts: a.artifacts,
		interval:  interval,
		logger:    a.logger.With("component", "sweeper"),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("retention sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.SweepNow(ctx)
		}
	}
}

// SweepNow performs one sweep synchronously.
func (s *Sweeper) SweepNow(ctx context.Context) jobstore.SweepResult {
	res := s.store.SweepExpired()
	for _, key := range res.ArtifactKeys {
		if err := s.artifacts.Delete(ctx, key); err != nil {
			s.logger.Warn("delete expired artifact failed", "key", key, "err", err)
		}
	}
	if res.Uploads > 0 || res.Jobs > 0 {
		s.logger.Info("retention sweep", "uploads", res.Uploads, "jobs", res.Jobs, "artifacts", len(res.ArtifactKeys))
	}
	return res
}
