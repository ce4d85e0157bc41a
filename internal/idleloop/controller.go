// Package idleloop is the Idle-Loop Controller: it owns the single
// long-lived ffmpeg subprocess that reads a self-referential ffconcat
// playlist and re-streams it to the RTMP ingest server, splicing task clips
// in by atomically rewriting the playlist file.
package idleloop

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/avatarstreamd/internal/domain"
	"github.com/jmylchreest/avatarstreamd/internal/ffmpeg"
)

const playlistFileName = "idle.txt"

// MinIdleMs is the shortest idle plan the controller will ever request,
// keeping rotations from firing too rapidly.
const MinIdleMs = 1200

// Planner is the subset of the Clip Planner the controller drives.
type Planner interface {
	BuildIdlePlan(ctx context.Context, durationMs int64, motionID, emotion string) (domain.ClipPlan, error)
}

// PlannerFactory builds a Planner scoped to one preset. The Clip Planner
// closes over one preset's indexed pools, so the controller resolves a
// fresh one each time Start targets a (possibly different) preset rather
// than holding a single instance for its whole lifetime.
type PlannerFactory func(preset *domain.Preset) Planner

// AudioEnsurer guarantees a clip has an audio track before it's spliced into
// the playlist, since the concat demuxer requires uniform streams.
type AudioEnsurer interface {
	EnsureAudioTrack(ctx context.Context, path string) (string, error)
}

// Config configures a Controller.
type Config struct {
	FFmpegPath      string
	WorkDir         string
	CleanupMarginMs int
	Debug           bool
	Logger          *slog.Logger
}

// Controller manages one preset's idle-loop subprocess and playlist.
type Controller struct {
	cfg      Config
	planners PlannerFactory
	audio    AudioEnsurer

	mu        sync.Mutex
	preset    *domain.Preset
	planner   Planner
	encoder   *ffmpeg.Command
	stopping  bool
	rotation  *time.Timer
	restore   *time.Timer
	cleanups  []*time.Timer
	logger    *slog.Logger
}

// New creates a Controller.
func New(cfg Config, planners PlannerFactory, audio AudioEnsurer) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CleanupMarginMs <= 0 {
		cfg.CleanupMarginMs = 10_000
	}
	return &Controller{cfg: cfg, planners: planners, audio: audio, logger: logger}
}

func (c *Controller) playlistPath() string {
	return filepath.Join(c.cfg.WorkDir, playlistFileName)
}

// Start prepares the working directory, selects the first idle clip, writes
// the initial self-referential playlist, and spawns the encoder subprocess.
func (c *Controller) Start(ctx context.Context, preset *domain.Preset, debug bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !debug {
		if err := cleanWorkDir(c.cfg.WorkDir); err != nil {
			return fmt.Errorf("cleaning idle-loop working dir: %w", err)
		}
	}
	if err := os.MkdirAll(c.cfg.WorkDir, 0755); err != nil {
		return fmt.Errorf("creating idle-loop working dir: %w", err)
	}

	c.preset = preset
	c.planner = c.planners(preset)
	c.stopping = false

	if err := c.rotate(ctx); err != nil {
		c.preset = nil
		return err
	}

	if err := c.spawnEncoder(ctx); err != nil {
		c.preset = nil
		return err
	}

	return nil
}

// rotate picks a new single idle clip, rewrites the playlist, and arms the
// next rotation timer. Must be called with c.mu held.
func (c *Controller) rotate(ctx context.Context) error {
	plan, err := c.planner.BuildIdlePlan(ctx, MinIdleMs, "", "")
	if err != nil {
		return fmt.Errorf("building idle plan: %w", err)
	}
	if len(plan.Clips) == 0 {
		return fmt.Errorf("idle plan produced no clips")
	}
	clip := plan.Clips[0]

	safePath, err := c.audio.EnsureAudioTrack(ctx, clip.SourcePath)
	if err != nil {
		return fmt.Errorf("ensuring audio track on idle clip: %w", err)
	}

	if err := writePlaylist(c.playlistPath(), []string{safePath}, true); err != nil {
		return err
	}

	if c.rotation != nil {
		c.rotation.Stop()
	}
	duration := time.Duration(plan.TotalDurationMs) * time.Millisecond
	c.rotation = time.AfterFunc(duration, func() { c.onRotationFire(safePath) })

	return nil
}

func (c *Controller) onRotationFire(previousClip string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopping || c.preset == nil {
		return
	}

	c.scheduleCleanup([]string{previousClip}, time.Duration(c.cfg.CleanupMarginMs)*time.Millisecond)

	if err := c.rotate(context.Background()); err != nil {
		c.logger.Error("idle-loop rotation failed", "error", err)
	}
}

// InsertTask splices task clip paths into the playlist ahead of the
// self-reference, padded by an idle clip between the currently playing idle
// segment and the task.
func (c *Controller) InsertTask(ctx context.Context, taskClips []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.preset == nil || c.encoder == nil || !c.encoder.IsRunning() {
		return fmt.Errorf("idle loop is not running")
	}

	padPlan, err := c.planner.BuildIdlePlan(ctx, MinIdleMs, "", "")
	if err != nil {
		return fmt.Errorf("building idle pad plan: %w", err)
	}
	padPaths := make([]string, 0, len(padPlan.Clips))
	var padTotalMs int64
	for _, entry := range padPlan.Clips {
		safe, err := c.audio.EnsureAudioTrack(ctx, entry.SourcePath)
		if err != nil {
			return fmt.Errorf("ensuring audio track on pad clip: %w", err)
		}
		padPaths = append(padPaths, safe)
		padTotalMs += entry.DurationMs
	}

	taskFileName := fmt.Sprintf("task-%s.txt", uuid.NewString())
	taskFilePath := filepath.Join(c.cfg.WorkDir, taskFileName)
	if err := writePlaylist(taskFilePath, taskClips, false); err != nil {
		return err
	}

	all := append(append([]string{}, padPaths...), taskFilePath)
	if err := writePlaylist(c.playlistPath(), all, true); err != nil {
		return err
	}

	if c.rotation != nil {
		c.rotation.Stop()
		c.rotation = nil
	}
	if c.restore != nil {
		c.restore.Stop()
	}

	// Task clip durations aren't known to the controller directly; the
	// generation service is the one source of truth for them. The restore
	// and cleanup timers below use the pad duration as a placeholder and
	// are re-armed precisely by RestoreAfter once the caller knows the
	// task's true total duration.
	totalMs := padTotalMs
	c.restore = time.AfterFunc(time.Duration(totalMs)*time.Millisecond, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stopping || c.preset == nil {
			return
		}
		if err := c.rotate(context.Background()); err != nil {
			c.logger.Error("idle-loop restore-rotation failed", "error", err)
		}
	})

	cleanupPaths := append(append([]string{}, padPaths...), taskClips...)
	cleanupPaths = append(cleanupPaths, taskFilePath)
	c.scheduleCleanup(cleanupPaths, time.Duration(totalMs+int64(c.cfg.CleanupMarginMs))*time.Millisecond)

	return nil
}

// RestoreAfter re-arms the restore timer once the generation service has
// reported the task's true total duration (pad + task clips), since the
// idle loop itself cannot probe task clip durations without the Encoder
// Facade.
func (c *Controller) RestoreAfter(totalMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restore != nil {
		c.restore.Stop()
	}
	c.restore = time.AfterFunc(time.Duration(totalMs)*time.Millisecond, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stopping || c.preset == nil {
			return
		}
		if err := c.rotate(context.Background()); err != nil {
			c.logger.Error("idle-loop restore-rotation failed", "error", err)
		}
	})
}

func (c *Controller) scheduleCleanup(paths []string, after time.Duration) {
	timer := time.AfterFunc(after, func() {
		for _, p := range paths {
			_ = os.Remove(p)
		}
	})
	c.cleanups = append(c.cleanups, timer)
}

// Stop tears down the encoder subprocess and schedules a delayed purge of
// the working directory.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	c.stopping = true
	if c.rotation != nil {
		c.rotation.Stop()
	}
	if c.restore != nil {
		c.restore.Stop()
	}
	for _, t := range c.cleanups {
		t.Stop()
	}
	c.cleanups = nil
	encoder := c.encoder
	workDir := c.cfg.WorkDir
	c.preset = nil
	c.mu.Unlock()

	if encoder == nil {
		return
	}

	_ = encoder.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_ = encoder.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = encoder.Kill()
	}

	time.AfterFunc(3*time.Second, func() {
		_ = os.RemoveAll(workDir)
	})
}

// spawnEncoder starts the ffmpeg subprocess reading the playlist and pushing
// to the preset's configured RTMP output. If a previous encoder is still
// alive it is killed first. Must be called with c.mu held.
func (c *Controller) spawnEncoder(ctx context.Context) error {
	if c.encoder != nil && c.encoder.IsRunning() {
		_ = c.encoder.Kill()
	}

	cmd := ffmpeg.NewCommandBuilder(c.cfg.FFmpegPath).
		HideBanner().
		Overwrite().
		ConcatDemuxer().
		Reconnect().
		Input(c.playlistPath()).
		VideoCodec("copy").
		AudioCodec("aac").
		AudioSampleRate(48000).
		AudioChannels(2).
		FlvArgs().
		Output(c.preset.RTMPOutputURL).
		Build()

	if err := cmd.Start(context.Background()); err != nil {
		return fmt.Errorf("starting idle-loop encoder: %w", err)
	}
	c.encoder = cmd

	go c.superviseEncoder(cmd)

	return nil
}

// superviseEncoder waits for the encoder to exit and, if it exited cleanly
// while the controller is not stopping, re-invokes Start once more after a
// short delay.
func (c *Controller) superviseEncoder(cmd *ffmpeg.Command) {
	err := cmd.Wait()

	c.mu.Lock()
	stopping := c.stopping
	preset := c.preset
	c.mu.Unlock()

	if stopping || preset == nil {
		return
	}

	if err != nil {
		c.logger.Error("idle-loop encoder exited with error", "error", err)
		return
	}

	c.logger.Info("idle-loop encoder exited cleanly, restarting")
	time.Sleep(1 * time.Second)

	c.mu.Lock()
	if c.stopping || c.preset == nil {
		c.mu.Unlock()
		return
	}
	preset = c.preset
	c.mu.Unlock()
	if err := c.Start(context.Background(), preset, c.cfg.Debug); err != nil {
		c.logger.Error("idle-loop encoder restart failed", "error", err)
	}
}

// writePlaylist renders an ffconcat playlist atomically via
// write-temp-then-rename, the sole synchronization primitive between the
// writer (this controller) and the reader (the running ffmpeg subprocess).
// selfReference appends a trailing "file 'idle.txt'" line so the live idle
// playlist loops back on itself once the reader reaches the end.
func writePlaylist(path string, entries []string, selfReference bool) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating playlist temp file: %w", err)
	}

	if _, err := tmp.WriteString("ffconcat version 1.0\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	for _, e := range entries {
		ref := e
		if filepath.Dir(e) == dir {
			ref = filepath.Base(e)
		}
		if _, err := fmt.Fprintf(tmp, "file '%s'\n", escapeQuote(ref)); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
	}
	if selfReference {
		if _, err := fmt.Fprintf(tmp, "file '%s'\n", playlistFileName); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming playlist into place: %w", err)
	}
	return nil
}

func escapeQuote(p string) string {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, p[i])
	}
	return string(out)
}

func cleanWorkDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
