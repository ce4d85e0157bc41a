// Package stream is the Stream Service: a singleton state machine exposing
// start/stop/enqueue/status over the Idle-Loop Controller and Generation
// Service, serializing all task work onto one FIFO queue.
package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jmylchreest/avatarstreamd/internal/apperr"
	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

// Controller is the subset of the Idle-Loop Controller the Stream Service
// drives directly.
type Controller interface {
	Start(ctx context.Context, preset *domain.Preset, debug bool) error
	Stop(ctx context.Context)
	InsertTask(ctx context.Context, clipPaths []string) error
}

// Generator produces a finished speech MP4 for one streamed batch request.
// It returns the ordered task clip paths to splice in; the idle padding is
// added by the Idle-Loop Controller.
type Generator interface {
	GenerateStreamClip(ctx context.Context, preset *domain.Preset, req domain.ActionRequest, defaults domain.BatchDefaults) ([]string, error)
}

// PresetLookup resolves a preset id to its loaded Preset.
type PresetLookup interface {
	Get(presetID string) (*domain.Preset, bool)
}

// Service is the Stream Service singleton.
type Service struct {
	controller Controller
	generator  Generator
	presets    PresetLookup

	mu    sync.Mutex
	state domain.StreamState

	tasks  chan func()
	cancel context.CancelFunc
}

// New creates a Service. Call Close when shutting down the process to stop
// the task-processing goroutine.
func New(controller Controller, generator Generator, presets PresetLookup) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		controller: controller,
		generator:  generator,
		presets:    presets,
		state:      domain.StreamState{Phase: domain.PhaseStopped},
		tasks:      make(chan func(), 256),
		cancel:     cancel,
	}
	go s.runTasks(ctx)
	return s
}

// Close stops the task-processing goroutine. Pending tasks are discarded.
func (s *Service) Close() {
	s.cancel()
}

func (s *Service) runTasks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.tasks:
			task()
		}
	}
}

// Status returns a snapshot of the current stream state.
func (s *Service) Status() domain.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins streaming with presetID, starting the Idle-Loop Controller.
// Idempotent if presetID already matches the running stream; conflicts if a
// different preset is already running.
func (s *Service) Start(ctx context.Context, presetID string, debug bool) (domain.StreamState, error) {
	preset, ok := s.presets.Get(presetID)
	if !ok {
		return domain.StreamState{}, apperr.ErrPresetNotFound
	}

	s.mu.Lock()
	if s.state.Phase != domain.PhaseStopped {
		if s.state.PresetID == presetID {
			snapshot := s.state
			s.mu.Unlock()
			return snapshot, nil
		}
		s.mu.Unlock()
		return domain.StreamState{}, apperr.ErrPresetMismatch
	}
	s.mu.Unlock()

	if err := s.controller.Start(ctx, preset, debug); err != nil {
		return domain.StreamState{}, fmt.Errorf("starting idle loop: %w", err)
	}

	s.mu.Lock()
	s.state = domain.StreamState{
		SessionID: uuid.NewString(),
		PresetID:  presetID,
		Phase:     domain.PhaseIdle,
	}
	snapshot := s.state
	s.mu.Unlock()

	return snapshot, nil
}

// Stop tears down the running stream. Fire-and-forget: it always succeeds
// from the caller's perspective, even if the underlying controller is
// already stopped.
func (s *Service) Stop(ctx context.Context) domain.StreamState {
	s.mu.Lock()
	wasRunning := s.state.Phase != domain.PhaseStopped
	s.state = domain.StreamState{Phase: domain.PhaseStopped}
	snapshot := s.state
	s.mu.Unlock()

	if wasRunning {
		s.controller.Stop(ctx)
	}
	return snapshot
}

// EnqueueText appends one streamed action to the FIFO queue. presetID must
// match the running stream's preset; a mismatch (including an unknown
// preset id) is rejected as a conflict rather than silently rendered
// against whatever preset happens to be running. The generated clip is
// spliced into the idle loop once rendering completes; errors are logged by
// the caller via the returned error channel semantics (the task itself
// reports failures through onError).
func (s *Service) EnqueueText(ctx context.Context, presetID string, req domain.ActionRequest, defaults domain.BatchDefaults, onError func(error)) error {
	s.mu.Lock()
	if s.state.Phase == domain.PhaseStopped {
		s.mu.Unlock()
		return apperr.ErrStreamNotRunning
	}
	if presetID != "" && presetID != s.state.PresetID {
		s.mu.Unlock()
		return apperr.ErrPresetMismatch
	}
	preset, _ := s.presets.Get(s.state.PresetID)
	s.state.QueueLength++
	s.state.Phase = domain.PhaseSpeak
	s.mu.Unlock()

	s.tasks <- func() {
		defer s.taskDone()

		clipPaths, err := s.generator.GenerateStreamClip(ctx, preset, req, defaults)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("generating streamed clip: %w", err))
			}
			return
		}
		if err := s.controller.InsertTask(ctx, clipPaths); err != nil {
			if onError != nil {
				onError(fmt.Errorf("inserting task into idle loop: %w", err))
			}
		}
	}

	return nil
}

func (s *Service) taskDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.QueueLength > 0 {
		s.state.QueueLength--
	}
	if s.state.QueueLength == 0 && s.state.Phase != domain.PhaseStopped {
		s.state.Phase = domain.PhaseIdle
	}
}
