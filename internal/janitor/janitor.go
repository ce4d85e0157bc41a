// Package janitor runs the periodic orphan-file sweep: stale generation job
// directories and stale spliced stream clips that were never cleaned up by
// their own scheduled cleanup timers (e.g. after a crash).
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/avatarstreamd/internal/startup"
)

// Config configures a Janitor.
type Config struct {
	JobsDir   string
	StreamDir string

	// CronSchedule is a 6-field (seconds-first) cron expression or an
	// @-descriptor such as "@every 5m". Defaults to DefaultSchedule when empty.
	CronSchedule string

	// JobMaxAge is how old an orphaned job directory must be before removal.
	// Defaults to startup.DefaultCleanupAge (one hour).
	JobMaxAge time.Duration

	// CleanupMarginMs is the Idle-Loop Controller's own per-clip cleanup
	// margin; the janitor only considers stream files older than 4x this,
	// so it never races ahead of the controller's own cleanup timers.
	// Defaults to DefaultCleanupMarginMs when zero.
	CleanupMarginMs int64

	Logger *slog.Logger
}

// DefaultSchedule runs the sweep every 5 minutes.
const DefaultSchedule = "0 */5 * * * *"

// DefaultCleanupMarginMs matches the Idle-Loop Controller's own default.
const DefaultCleanupMarginMs = 10000

// streamFileMaxAgeFactor is the multiplier applied to CleanupMarginMs to
// derive the stream-file retention window, per the janitor's role as a
// backstop that trails the controller's own per-clip cleanup timers.
const streamFileMaxAgeFactor = 4

// Janitor runs the periodic sweep on a cron schedule.
type Janitor struct {
	cfg    Config
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a Janitor, filling in defaults for any zero-valued Config
// fields.
func New(cfg Config) *Janitor {
	if cfg.CronSchedule == "" {
		cfg.CronSchedule = DefaultSchedule
	}
	if cfg.JobMaxAge <= 0 {
		cfg.JobMaxAge = startup.DefaultCleanupAge
	}
	if cfg.CleanupMarginMs <= 0 {
		cfg.CleanupMarginMs = DefaultCleanupMarginMs
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	return &Janitor{cfg: cfg, cron: c, logger: logger}
}

// Start registers the sweep job and starts the cron scheduler. It also runs
// one sweep immediately so a freshly restarted process doesn't wait a full
// interval before reclaiming space left behind by an unclean shutdown.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("janitor already running")
	}
	j.running = true
	j.mu.Unlock()

	if _, err := j.cron.AddFunc(j.cfg.CronSchedule, func() { j.sweep() }); err != nil {
		return fmt.Errorf("registering sweep schedule: %w", err)
	}
	j.cron.Start()
	go j.sweep()

	return nil
}

// Stop stops the cron scheduler and waits for any in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	j.mu.Unlock()

	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
}

func (j *Janitor) sweep() {
	if j.cfg.JobsDir != "" {
		if n, err := startup.CleanupOrphanedTempDirs(j.logger, j.cfg.JobsDir, j.cfg.JobMaxAge); err != nil {
			j.logger.Error("job directory sweep failed", "error", err)
		} else if n > 0 {
			j.logger.Info("swept orphaned job directories", "count", n)
		}
	}

	if j.cfg.StreamDir != "" {
		if n, err := j.sweepStreamFiles(); err != nil {
			j.logger.Error("stream file sweep failed", "error", err)
		} else if n > 0 {
			j.logger.Info("swept orphaned stream files", "count", n)
		}
	}
}

// sweepStreamFiles removes files under StreamDir older than StreamFileMaxAge.
// These are the spliced clip files the Idle-Loop Controller normally removes
// itself via its own cleanup timer; this sweep only catches the ones left
// behind by a crash mid-rotation.
func (j *Janitor) sweepStreamFiles() (int, error) {
	entries, err := os.ReadDir(j.cfg.StreamDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading stream directory: %w", err)
	}

	maxAge := time.Duration(j.cfg.CleanupMarginMs) * time.Millisecond * streamFileMaxAgeFactor
	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.cfg.StreamDir, entry.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Warn("failed to remove orphaned stream file", "path", path, "error", err)
			continue
		}
		removed++
	}

	return removed, nil
}
