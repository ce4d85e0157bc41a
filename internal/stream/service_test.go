package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/avatarstreamd/internal/apperr"
	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

type fakeController struct {
	mu         sync.Mutex
	startCalls int
	stopCalls  int
	inserted   [][]string
	startErr   error
}

func (f *fakeController) Start(ctx context.Context, preset *domain.Preset, debug bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.startErr
}

func (f *fakeController) Stop(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
}

func (f *fakeController) InsertTask(ctx context.Context, clipPaths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, clipPaths)
	return nil
}

type fakeGenerator struct {
	clipPaths []string
	err       error
}

func (f *fakeGenerator) GenerateStreamClip(ctx context.Context, preset *domain.Preset, req domain.ActionRequest, defaults domain.BatchDefaults) ([]string, error) {
	return f.clipPaths, f.err
}

type fakePresets struct {
	presets map[string]*domain.Preset
}

func (f *fakePresets) Get(id string) (*domain.Preset, bool) {
	p, ok := f.presets[id]
	return p, ok
}

func newTestService(ctl *fakeController, gen *fakeGenerator, presetID string) *Service {
	presets := &fakePresets{presets: map[string]*domain.Preset{presetID: {ID: presetID}}}
	return New(ctl, gen, presets)
}

func TestStart_UnknownPreset(t *testing.T) {
	svc := newTestService(&fakeController{}, &fakeGenerator{}, "p1")
	defer svc.Close()

	_, err := svc.Start(context.Background(), "does-not-exist", false)
	assert.ErrorIs(t, err, apperr.ErrPresetNotFound)
}

func TestStart_IdempotentForSamePreset(t *testing.T) {
	ctl := &fakeController{}
	svc := newTestService(ctl, &fakeGenerator{}, "p1")
	defer svc.Close()

	_, err := svc.Start(context.Background(), "p1", false)
	require.NoError(t, err)
	_, err = svc.Start(context.Background(), "p1", false)
	require.NoError(t, err)

	assert.Equal(t, 1, ctl.startCalls, "second Start with the same preset must not restart the controller")
}

func TestStart_MismatchWhileAnotherPresetRunning(t *testing.T) {
	presets := &fakePresets{presets: map[string]*domain.Preset{
		"p1": {ID: "p1"},
		"p2": {ID: "p2"},
	}}
	svc := New(&fakeController{}, &fakeGenerator{}, presets)
	defer svc.Close()

	_, err := svc.Start(context.Background(), "p1", false)
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), "p2", false)
	assert.ErrorIs(t, err, apperr.ErrPresetMismatch)
}

func TestStop_AlwaysSucceedsAndResetsState(t *testing.T) {
	ctl := &fakeController{}
	svc := newTestService(ctl, &fakeGenerator{}, "p1")
	defer svc.Close()

	state := svc.Stop(context.Background())
	assert.Equal(t, domain.PhaseStopped, state.Phase)
	assert.Equal(t, 0, ctl.stopCalls, "stop on an already-stopped stream must not call the controller")

	_, err := svc.Start(context.Background(), "p1", false)
	require.NoError(t, err)
	state = svc.Stop(context.Background())
	assert.Equal(t, domain.PhaseStopped, state.Phase)
	assert.Equal(t, 1, ctl.stopCalls)
}

func TestEnqueueText_RequiresRunningStream(t *testing.T) {
	svc := newTestService(&fakeController{}, &fakeGenerator{}, "p1")
	defer svc.Close()

	err := svc.EnqueueText(context.Background(), "", domain.ActionRequest{}, domain.BatchDefaults{}, nil)
	assert.ErrorIs(t, err, apperr.ErrStreamNotRunning)
}

func TestEnqueueText_RejectsMismatchedPreset(t *testing.T) {
	presets := &fakePresets{presets: map[string]*domain.Preset{
		"p1": {ID: "p1"},
		"p2": {ID: "p2"},
	}}
	svc := New(&fakeController{}, &fakeGenerator{}, presets)
	defer svc.Close()

	_, err := svc.Start(context.Background(), "p1", false)
	require.NoError(t, err)

	err = svc.EnqueueText(context.Background(), "p2", domain.ActionRequest{}, domain.BatchDefaults{}, nil)
	assert.ErrorIs(t, err, apperr.ErrPresetMismatch)
}

func TestEnqueueText_QueueLengthAndPhaseInvariants(t *testing.T) {
	ctl := &fakeController{}
	gen := &fakeGenerator{clipPaths: []string{"/tmp/a.mp4"}}
	svc := newTestService(ctl, gen, "p1")
	defer svc.Close()

	_, err := svc.Start(context.Background(), "p1", false)
	require.NoError(t, err)

	err = svc.EnqueueText(context.Background(), "p1", domain.ActionRequest{}, domain.BatchDefaults{}, nil)
	require.NoError(t, err)

	state := svc.Status()
	assert.Equal(t, domain.PhaseSpeak, state.Phase, "enqueue must synchronously flip to speak")
	assert.Equal(t, 1, state.QueueLength)

	require.Eventually(t, func() bool {
		s := svc.Status()
		return s.QueueLength == 0 && s.Phase == domain.PhaseIdle
	}, time.Second, 5*time.Millisecond, "queue_length=0 must imply phase idle once the task drains")

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	assert.Len(t, ctl.inserted, 1)
}
