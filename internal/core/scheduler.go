package core

// scheduler.go runs the upload sweeper, a periodic maintenance task that
// removes upload files nobody is going to read any more: files whose job
// row is gone or finished, left behind by a crash between a job reaching a
// terminal state and its file being removed.
//
// The sweeper is long-running and context-aware for graceful shutdown. It
// logs failures and carries on; a failed sweep never stops the process.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SweeperConfig holds configuration for the upload sweeper.
type SweeperConfig struct {
	Interval time.Duration // How often to run (default: 15m)
	MaxAge   time.Duration // Minimum file age before removal (default: 24h)
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	return c
}

// StartUploadSweeper sweeps immediately, then every Interval, until ctx is
// cancelled.
func (s *Service) StartUploadSweeper(ctx context.Context, cfg SweeperConfig) {
	cfg = cfg.withDefaults()
	slog.Info("upload sweeper started",
		"interval", cfg.Interval.String(),
		"max_age", cfg.MaxAge.String(),
		"dir", s.cfg.UploadDir,
	)

	s.runSweep(ctx, cfg.MaxAge)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("upload sweeper stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx, cfg.MaxAge)
		}
	}
}

func (s *Service) runSweep(ctx context.Context, maxAge time.Duration) {
	start := time.Now()
	removed, err := s.SweepUploads(ctx, maxAge)
	if err != nil {
		slog.Error("upload sweep failed", "error", err)
		return
	}
	slog.Info("upload sweep completed",
		"files_removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// SweepUploads removes upload files older than maxAge whose job is missing
// or terminal, and returns how many were removed. Files of pending or
// running jobs are kept whatever their age.
func (s *Service) SweepUploads(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.cfg.UploadDir)
	if err != nil {
		return 0, fmt.Errorf("read upload directory: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		jobID := strings.TrimSuffix(name, ".csv")
		job, err := s.store.GetJob(ctx, jobID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			slog.Warn("sweeper could not load job", "job_id", jobID, "error", err)
			continue
		case !job.Status.Terminal():
			continue
		}

		path := filepath.Join(s.cfg.UploadDir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("sweeper could not remove file", "file", path, "error", err)
			continue
		}
		slog.Debug("abandoned upload removed", "file", path, "job_id", jobID)
		removed++
	}
	return removed, nil
}
