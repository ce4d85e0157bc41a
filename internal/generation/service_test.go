package generation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/avatarstreamd/internal/apperr"
	"github.com/jmylchreest/avatarstreamd/internal/cache"
	"github.com/jmylchreest/avatarstreamd/internal/domain"
	"github.com/jmylchreest/avatarstreamd/internal/encoder"
)

// fakeEncoder stands in for the Encoder Facade. Every method that returns a
// path actually writes a placeholder file there, since the generation
// service's finalize step moves/renames real files on disk.
type fakeEncoder struct {
	scratchDir   string
	composeCalls int
	seq          int
}

func (f *fakeEncoder) nextPath(suffix string) string {
	f.seq++
	return filepath.Join(f.scratchDir, fmt.Sprintf("%d%s", f.seq, suffix))
}

func (f *fakeEncoder) write(path string) string {
	_ = os.WriteFile(path, []byte("x"), 0644)
	return path
}

func (f *fakeEncoder) ProbeAudioDuration(ctx context.Context, path string) (int64, error) {
	return 1000, nil
}
func (f *fakeEncoder) HasAudioStream(ctx context.Context, path string) (bool, error) {
	return false, nil
}
func (f *fakeEncoder) CreateSilentAudio(ctx context.Context, durationMs int64) (string, error) {
	return f.write(f.nextPath("-silence.wav")), nil
}
func (f *fakeEncoder) NormalizeAudio(ctx context.Context, path string) (string, error) {
	return f.write(f.nextPath("-norm.wav")), nil
}
func (f *fakeEncoder) TrimAudioSilence(ctx context.Context, path string, thresholdDB int) (string, error) {
	return f.write(f.nextPath("-trim.wav")), nil
}
func (f *fakeEncoder) FitAudioDuration(ctx context.Context, path string, durationMs int64) (string, error) {
	return f.write(f.nextPath("-fit.wav")), nil
}
func (f *fakeEncoder) ConcatAudio(ctx context.Context, paths []string) (encoder.ConcatAudioResult, error) {
	return encoder.ConcatAudioResult{Path: f.write(f.nextPath("-concat.wav"))}, nil
}
func (f *fakeEncoder) ExtractAudioTrack(ctx context.Context, path string) (string, error) {
	return f.write(f.nextPath("-audio.wav")), nil
}
func (f *fakeEncoder) EnsureAudioTrack(ctx context.Context, path string) (string, error) {
	return path, nil
}
func (f *fakeEncoder) Compose(ctx context.Context, clipPaths []string, audioPath string, durationMs int64) (encoder.ComposeResult, error) {
	f.composeCalls++
	return encoder.ComposeResult{Path: f.write(f.nextPath("-composed.mp4"))}, nil
}

type fakePlanner struct{}

func (fakePlanner) BuildSpeechPlan(ctx context.Context, emotion string, requiredMs int64) (domain.ClipPlan, error) {
	return domain.ClipPlan{
		TalkDurationMs: requiredMs, TotalDurationMs: requiredMs,
		Clips: []domain.ClipPlanEntry{{ClipID: "speech:0", SourcePath: "/motions/speech0.mp4", DurationMs: requiredMs}},
	}, nil
}

func (fakePlanner) BuildIdlePlan(ctx context.Context, durationMs int64, motionID, emotion string) (domain.ClipPlan, error) {
	return domain.ClipPlan{
		TotalDurationMs: durationMs,
		Clips:           []domain.ClipPlanEntry{{ClipID: "idle:0", SourcePath: "/motions/idle0.mp4", DurationMs: durationMs}},
	}, nil
}

func (fakePlanner) BuildActionClip(ctx context.Context, actionID string) (domain.ClipPlan, error) {
	if actionID != "wave" {
		return domain.ClipPlan{}, apperr.ErrUnknownAction
	}
	return domain.ClipPlan{
		TotalDurationMs: 1200,
		Clips:           []domain.ClipPlanEntry{{ClipID: "action:wave", SourcePath: "/motions/wave.mp4", DurationMs: 1200}},
	}, nil
}

type fakeTTS struct{}

func (fakeTTS) Synthesize(ctx context.Context, text, voice, outPath string) error {
	return os.WriteFile(outPath, []byte("wav"), 0644)
}

type fakeSTT struct{}

func (fakeSTT) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return "hello", nil
}

func newTestService(t *testing.T) (*Service, *fakeEncoder) {
	t.Helper()
	jobsDir := t.TempDir()
	outDir := t.TempDir()
	streamDir := t.TempDir()

	enc := &fakeEncoder{scratchDir: t.TempDir()}
	cacheSvc := cache.New(outDir)

	planners := PlannerFactory(func(preset *domain.Preset) Planner { return fakePlanner{} })

	svc := New(Config{JobsDir: jobsDir, OutputDir: outDir, StreamDir: streamDir}, enc, planners, fakeTTS{}, fakeSTT{}, cacheSvc)
	return svc, enc
}

func testPreset() *domain.Preset {
	return &domain.Preset{
		ID: "avatar-1",
		AudioProfile: domain.AudioProfile{Engine: "test-tts", DefaultVoice: "default"},
		ActionsByID: map[string]domain.MotionClip{
			"wave": {ID: "action:wave", AbsolutePath: "/motions/wave.mp4"},
		},
	}
}

func TestProcessBatch_SingleSpeakAction(t *testing.T) {
	svc, enc := newTestService(t)
	preset := testPreset()

	payload := domain.BatchPayload{
		PresetID: preset.ID,
		Requests: []domain.ActionRequest{
			{Action: domain.ActionSpeak, Params: domain.ActionParams{Text: "hello there"}},
		},
	}

	path, err := svc.ProcessBatch(context.Background(), preset, payload, ProcessBatchOptions{Cache: true})
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Equal(t, 1, enc.composeCalls)

	_, err = os.Stat(path)
	assert.NoError(t, err, "cached render must be moved into the output directory")
}

func TestProcessBatch_SpeakCacheHitSkipsRecompose(t *testing.T) {
	svc, enc := newTestService(t)
	preset := testPreset()

	payload := domain.BatchPayload{
		PresetID: preset.ID,
		Requests: []domain.ActionRequest{
			{Action: domain.ActionSpeak, Params: domain.ActionParams{Text: "hello there"}},
		},
	}

	_, err := svc.ProcessBatch(context.Background(), preset, payload, ProcessBatchOptions{Cache: true})
	require.NoError(t, err)
	firstComposeCalls := enc.composeCalls

	_, err = svc.ProcessBatch(context.Background(), preset, payload, ProcessBatchOptions{Cache: true})
	require.NoError(t, err)
	assert.Equal(t, firstComposeCalls, enc.composeCalls, "identical request must hit the cache, not recompose")
}

func TestProcessBatch_IdleAction(t *testing.T) {
	svc, _ := newTestService(t)
	preset := testPreset()

	payload := domain.BatchPayload{
		PresetID: preset.ID,
		Requests: []domain.ActionRequest{
			{Action: domain.ActionIdle, Params: domain.ActionParams{DurationMs: 3000}},
		},
	}

	path, err := svc.ProcessBatch(context.Background(), preset, payload, ProcessBatchOptions{Cache: false})
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestProcessBatch_IdleRequiresPositiveDuration(t *testing.T) {
	svc, _ := newTestService(t)
	preset := testPreset()

	payload := domain.BatchPayload{
		PresetID: preset.ID,
		Requests: []domain.ActionRequest{
			{Action: domain.ActionIdle, Params: domain.ActionParams{DurationMs: 0}},
		},
	}

	_, err := svc.ProcessBatch(context.Background(), preset, payload, ProcessBatchOptions{})
	require.Error(t, err)

	var actionErr *apperr.ActionProcessingError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, 1, actionErr.RequestID)
}

func TestProcessBatch_CustomAction(t *testing.T) {
	svc, _ := newTestService(t)
	preset := testPreset()

	payload := domain.BatchPayload{
		PresetID: preset.ID,
		Requests: []domain.ActionRequest{{Action: "wave"}},
	}

	path, err := svc.ProcessBatch(context.Background(), preset, payload, ProcessBatchOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestProcessCustomAction_RejectsReservedName(t *testing.T) {
	svc, _ := newTestService(t)
	preset := testPreset()

	_, _, err := svc.processCustomAction(context.Background(), preset, fakePlanner{}, t.TempDir(),
		domain.ActionRequest{Action: domain.ActionSpeak}, false)
	assert.ErrorIs(t, err, apperr.ErrReservedActionName)
}

func TestProcessBatch_CombinesMultipleRequests(t *testing.T) {
	svc, enc := newTestService(t)
	preset := testPreset()

	payload := domain.BatchPayload{
		PresetID: preset.ID,
		Requests: []domain.ActionRequest{
			{Action: domain.ActionIdle, Params: domain.ActionParams{DurationMs: 1000}},
			{Action: "wave"},
		},
	}

	path, err := svc.ProcessBatch(context.Background(), preset, payload, ProcessBatchOptions{Cache: true})
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.GreaterOrEqual(t, enc.composeCalls, 3, "two per-action composes plus one combined compose")
}

func TestGenerateStreamClip_WritesIntoStreamDir(t *testing.T) {
	svc, _ := newTestService(t)
	preset := testPreset()

	paths, err := svc.GenerateStreamClip(context.Background(), preset, domain.ActionRequest{Action: "wave"}, domain.BatchDefaults{})
	require.NoError(t, err)
	require.Len(t, paths, 1)

	dir := filepath.Dir(paths[0])
	assert.Equal(t, svc.streamDir, dir)
}

func TestEntryTypeFor(t *testing.T) {
	assert.Equal(t, domain.CacheTypeIdle, entryTypeFor(domain.ActionIdle))
	assert.Equal(t, domain.CacheTypeSpeak, entryTypeFor(domain.ActionSpeak))
	assert.Equal(t, domain.CacheTypeSpeak, entryTypeFor("wave"))
}
