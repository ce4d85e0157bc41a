// Package generation is the Generation Service: it turns one action request
// (or a batch of them) into a rendered MP4, coordinating the TTS/STT
// adapters, Clip Planner, Cache Service, and Encoder Facade.
package generation

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/avatarstreamd/internal/apperr"
	"github.com/jmylchreest/avatarstreamd/internal/cache"
	"github.com/jmylchreest/avatarstreamd/internal/domain"
	"github.com/jmylchreest/avatarstreamd/internal/encoder"
	"github.com/jmylchreest/avatarstreamd/internal/startup"
)

const silenceThresholdDB = -70

// Encoder is the subset of the Encoder Facade the generation service needs.
type Encoder interface {
	ProbeAudioDuration(ctx context.Context, path string) (int64, error)
	HasAudioStream(ctx context.Context, path string) (bool, error)
	CreateSilentAudio(ctx context.Context, durationMs int64) (string, error)
	NormalizeAudio(ctx context.Context, path string) (string, error)
	TrimAudioSilence(ctx context.Context, path string, thresholdDB int) (string, error)
	FitAudioDuration(ctx context.Context, path string, durationMs int64) (string, error)
	ConcatAudio(ctx context.Context, paths []string) (encoder.ConcatAudioResult, error)
	ExtractAudioTrack(ctx context.Context, path string) (string, error)
	EnsureAudioTrack(ctx context.Context, path string) (string, error)
	Compose(ctx context.Context, clipPaths []string, audioPath string, durationMs int64) (encoder.ComposeResult, error)
}

// Planner is the subset of the Clip Planner the generation service needs.
type Planner interface {
	BuildSpeechPlan(ctx context.Context, emotion string, requiredMs int64) (domain.ClipPlan, error)
	BuildIdlePlan(ctx context.Context, durationMs int64, motionID, emotion string) (domain.ClipPlan, error)
	BuildActionClip(ctx context.Context, actionID string) (domain.ClipPlan, error)
}

// TTSEngine synthesizes text to a WAV file.
type TTSEngine interface {
	Synthesize(ctx context.Context, text, voice, outPath string) error
}

// STTEngine transcribes an audio file to text.
type STTEngine interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// PlannerFactory builds a Planner scoped to one preset; the Clip Planner is
// preset-specific (it closes over one preset's indexed pools), so the
// generation service asks for one per request instead of holding a single
// shared instance.
type PlannerFactory func(preset *domain.Preset) Planner

// Service renders actions into MP4 clips.
type Service struct {
	encoder  Encoder
	planners PlannerFactory
	tts      TTSEngine
	stt      STTEngine
	cache    *cache.Service
	jobsDir  string
	outDir   string
	streamDir string
}

// Config configures a Service.
type Config struct {
	JobsDir   string
	OutputDir string
	StreamDir string
}

// New creates a Service.
func New(cfg Config, encoder Encoder, planners PlannerFactory, tts TTSEngine, stt STTEngine, cacheSvc *cache.Service) *Service {
	return &Service{
		encoder:   encoder,
		planners:  planners,
		tts:       tts,
		stt:       stt,
		cache:     cacheSvc,
		jobsDir:   cfg.JobsDir,
		outDir:    cfg.OutputDir,
		streamDir: cfg.StreamDir,
	}
}

// jobDir acquires a fresh scratch directory and returns a release function
// that unconditionally removes it.
func (s *Service) jobDir() (string, func(), error) {
	id := ulid.Make().String()
	dir := filepath.Join(s.jobsDir, startup.JobDirPrefix+id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("creating job directory: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// ProcessBatchOptions controls one ProcessBatch invocation.
type ProcessBatchOptions struct {
	Stream             bool // disables caching; results stay where the encoder wrote them (GenerateStreamClip moves clips into the stream subdirectory)
	ForStreamPipeline  bool
	Cache              bool
	OnResult           func(requestID int, outputPath string)
}

// ProcessBatch renders payload.Requests in order, aborting on the first
// failure. In non-stream mode with more than one request it composes a
// single combined timeline; in stream mode each request is rendered and
// reported independently via OnResult.
func (s *Service) ProcessBatch(ctx context.Context, preset *domain.Preset, payload domain.BatchPayload, opts ProcessBatchOptions) (string, error) {
	planner := s.planners(preset)

	dir, release, err := s.jobDir()
	if err != nil {
		return "", err
	}
	defer release()

	var actionHashes []string
	var renderedPaths []string

	for i, req := range payload.Requests {
		requestID := i + 1

		outPath, hash, err := s.processOne(ctx, preset, planner, dir, req, payload.Defaults, opts.Cache && !opts.Stream)
		if err != nil {
			return "", apperr.Validation(requestID, err)
		}
		actionHashes = append(actionHashes, hash)
		renderedPaths = append(renderedPaths, outPath)

		if opts.Stream && opts.OnResult != nil {
			opts.OnResult(requestID, outPath)
		}
	}

	if opts.Stream {
		if len(renderedPaths) == 0 {
			return "", fmt.Errorf("empty batch")
		}
		return renderedPaths[len(renderedPaths)-1], nil
	}

	if len(renderedPaths) == 1 {
		return s.finalize(renderedPaths[0], actionHashes[0], entryTypeFor(payload.Requests[0].Action), preset.ID, opts.Cache)
	}

	combinedHash, err := cache.HashCombined(cache.CombinedDescriptor{PresetID: preset.ID, ActionHashes: actionHashes})
	if err != nil {
		return "", fmt.Errorf("hashing combined batch: %w", err)
	}
	if opts.Cache {
		if hit, ok := s.cache.Lookup(combinedHash); ok {
			return hit, nil
		}
	}

	// The combined timeline is the straight concatenation of each action's
	// already-rendered clip; no further audio branching is needed since each
	// clip already carries its own finished audio track.
	composed, err := s.encoder.Compose(ctx, renderedPaths, "", 0)
	if err != nil {
		return "", fmt.Errorf("composing combined batch: %w", err)
	}

	return s.finalizeCombined(composed.Path, combinedHash, preset.ID, actionHashes, opts.Cache)
}

func entryTypeFor(action domain.ActionKind) domain.CacheEntryType {
	switch action {
	case domain.ActionIdle:
		return domain.CacheTypeIdle
	default:
		return domain.CacheTypeSpeak
	}
}

// processOne renders a single action request into a finished clip (not yet
// moved to its final cache/output location) and returns its path plus the
// cache descriptor hash it corresponds to.
func (s *Service) processOne(ctx context.Context, preset *domain.Preset, planner Planner, jobDir string, req domain.ActionRequest, defaults domain.BatchDefaults, useCache bool) (string, string, error) {
	switch req.Action {
	case domain.ActionSpeak:
		return s.processSpeak(ctx, preset, planner, jobDir, req, defaults, useCache)
	case domain.ActionIdle:
		return s.processIdle(ctx, planner, jobDir, req, defaults, useCache)
	default:
		return s.processCustomAction(ctx, preset, planner, jobDir, req, useCache)
	}
}

func (s *Service) processSpeak(ctx context.Context, preset *domain.Preset, planner Planner, jobDir string, req domain.ActionRequest, defaults domain.BatchDefaults, useCache bool) (string, string, error) {
	emotion := req.Params.Emotion
	if emotion == "" {
		emotion = defaults.Emotion
	}
	if emotion == "" {
		emotion = domain.NeutralEmotion
	}

	descriptor := cache.SpeakDescriptor{PresetID: preset.ID, Emotion: emotion}
	if req.Params.Text != "" {
		descriptor.InputType = "text"
		descriptor.Text = req.Params.Text
		descriptor.TTSEngine = preset.AudioProfile.Engine
	} else if req.Params.Audio != nil {
		if req.Params.Audio.Transcribe {
			descriptor.InputType = "audio_transcribe"
		} else {
			descriptor.InputType = "audio"
		}
	} else {
		return "", "", fmt.Errorf("speak action requires text or audio")
	}

	rawAudio, err := s.resolveSpeakAudio(ctx, preset, jobDir, req, emotion)
	if err != nil {
		return "", "", err
	}
	if descriptor.InputType != "text" {
		data, err := os.ReadFile(rawAudio)
		if err != nil {
			return "", "", fmt.Errorf("reading raw audio for hashing: %w", err)
		}
		descriptor.AudioHash = cache.AudioHash(data)
	}

	hash, err := cache.HashSpeak(descriptor)
	if err != nil {
		return "", "", err
	}
	if useCache {
		if hit, ok := s.cache.Lookup(hash); ok {
			return hit, hash, nil
		}
	}

	normalized, err := s.encoder.NormalizeAudio(ctx, rawAudio)
	if err != nil {
		return "", "", fmt.Errorf("normalizing speech audio: %w", err)
	}
	trimmed, err := s.encoder.TrimAudioSilence(ctx, normalized, silenceThresholdDB)
	if err != nil {
		return "", "", fmt.Errorf("trimming speech audio: %w", err)
	}

	effectiveAudio := trimmed
	effectiveMs, err := s.encoder.ProbeAudioDuration(ctx, trimmed)
	if err != nil {
		return "", "", err
	}
	if effectiveMs == 0 {
		effectiveAudio = normalized
		effectiveMs, err = s.encoder.ProbeAudioDuration(ctx, normalized)
		if err != nil {
			return "", "", err
		}
	}

	plan, err := planner.BuildSpeechPlan(ctx, emotion, effectiveMs)
	if err != nil {
		return "", "", fmt.Errorf("building speech plan: %w", err)
	}

	talkAudio, err := s.encoder.FitAudioDuration(ctx, effectiveAudio, plan.TalkDurationMs)
	if err != nil {
		return "", "", err
	}
	enterSilence, err := s.encoder.CreateSilentAudio(ctx, plan.EnterDurationMs)
	if err != nil {
		return "", "", err
	}
	exitSilence, err := s.encoder.CreateSilentAudio(ctx, plan.ExitDurationMs)
	if err != nil {
		return "", "", err
	}

	fullAudio, err := s.encoder.ConcatAudio(ctx, []string{enterSilence, talkAudio, exitSilence})
	if err != nil {
		return "", "", fmt.Errorf("concatenating speech audio segments: %w", err)
	}

	clipPaths := make([]string, len(plan.Clips))
	for i, entry := range plan.Clips {
		clipPaths[i] = entry.SourcePath
	}

	composed, err := s.encoder.Compose(ctx, clipPaths, fullAudio.Path, plan.TotalDurationMs)
	if err != nil {
		return "", "", fmt.Errorf("composing speech clip: %w", err)
	}

	return composed.Path, hash, nil
}

// resolveSpeakAudio obtains the raw, un-normalized speech WAV for req,
// either by synthesizing it, decoding inline base64 audio, copying an
// external file, or running STT followed by TTS when transcribe=true.
func (s *Service) resolveSpeakAudio(ctx context.Context, preset *domain.Preset, jobDir string, req domain.ActionRequest, emotion string) (string, error) {
	if req.Params.Text != "" {
		out := filepath.Join(jobDir, "speak.wav")
		voice := preset.AudioProfile.VoiceFor(emotion)
		if err := s.tts.Synthesize(ctx, req.Params.Text, voice, out); err != nil {
			return "", fmt.Errorf("synthesizing speech: %w", err)
		}
		return out, nil
	}

	audio := req.Params.Audio
	var rawPath string
	switch {
	case audio.Path != "":
		out := filepath.Join(jobDir, "input"+filepath.Ext(audio.Path))
		if err := copyFile(audio.Path, out); err != nil {
			return "", fmt.Errorf("copying input audio: %w", err)
		}
		rawPath = out
	case audio.Base64 != "":
		data, err := base64.StdEncoding.DecodeString(audio.Base64)
		if err != nil {
			return "", fmt.Errorf("decoding base64 audio: %w", err)
		}
		out := filepath.Join(jobDir, "input.wav")
		if err := os.WriteFile(out, data, 0644); err != nil {
			return "", fmt.Errorf("writing decoded audio: %w", err)
		}
		rawPath = out
	default:
		return "", fmt.Errorf("audio action requires a path or base64 payload")
	}

	if !audio.Transcribe {
		return rawPath, nil
	}

	text, err := s.stt.Transcribe(ctx, rawPath)
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}
	out := filepath.Join(jobDir, "resynthesized.wav")
	voice := preset.AudioProfile.VoiceFor(emotion)
	if err := s.tts.Synthesize(ctx, text, voice, out); err != nil {
		return "", fmt.Errorf("re-synthesizing transcribed speech: %w", err)
	}
	return out, nil
}

func (s *Service) processIdle(ctx context.Context, planner Planner, jobDir string, req domain.ActionRequest, defaults domain.BatchDefaults, useCache bool) (string, string, error) {
	if req.Params.DurationMs <= 0 {
		return "", "", fmt.Errorf("idle action requires a positive durationMs")
	}

	motionID := req.Params.MotionID
	if motionID == "" {
		motionID = defaults.IdleMotionID
	}
	emotion := req.Params.Emotion
	if emotion == "" {
		emotion = defaults.Emotion
	}

	descriptor := cache.IdleDescriptor{DurationMs: req.Params.DurationMs, MotionID: motionID, Emotion: emotion}
	hash, err := cache.HashIdle(descriptor)
	if err != nil {
		return "", "", err
	}
	if useCache {
		if hit, ok := s.cache.Lookup(hash); ok {
			return hit, hash, nil
		}
	}

	plan, err := planner.BuildIdlePlan(ctx, req.Params.DurationMs, motionID, emotion)
	if err != nil {
		return "", "", fmt.Errorf("building idle plan: %w", err)
	}

	silence, err := s.encoder.CreateSilentAudio(ctx, req.Params.DurationMs)
	if err != nil {
		return "", "", err
	}

	clipPaths := make([]string, len(plan.Clips))
	for i, entry := range plan.Clips {
		clipPaths[i] = entry.SourcePath
	}

	composed, err := s.encoder.Compose(ctx, clipPaths, silence, req.Params.DurationMs)
	if err != nil {
		return "", "", fmt.Errorf("composing idle clip: %w", err)
	}

	return composed.Path, hash, nil
}

func (s *Service) processCustomAction(ctx context.Context, preset *domain.Preset, planner Planner, jobDir string, req domain.ActionRequest, useCache bool) (string, string, error) {
	actionID := string(req.Action)
	if actionID == string(domain.ActionSpeak) || actionID == string(domain.ActionIdle) {
		return "", "", apperr.ErrReservedActionName
	}

	plan, err := planner.BuildActionClip(ctx, actionID)
	if err != nil {
		return "", "", fmt.Errorf("building action clip: %w", err)
	}
	clipPath := plan.Clips[0].SourcePath
	durationMs := plan.TotalDurationMs

	has, err := s.encoder.HasAudioStream(ctx, clipPath)
	if err != nil {
		return "", "", err
	}

	// If the clip already carries its own audio, Compose's central
	// composition rule keeps it as-is (motion-only branch, forcing
	// durationMs) — passing an empty audioPath avoids mixing the clip's
	// track against a duplicate of itself. Only synthesize silence when the
	// clip truly has none.
	var audioPath string
	if !has {
		silence, err := s.encoder.CreateSilentAudio(ctx, durationMs)
		if err != nil {
			return "", "", err
		}
		audioPath, err = s.encoder.FitAudioDuration(ctx, silence, durationMs)
		if err != nil {
			return "", "", err
		}
	}

	composed, err := s.encoder.Compose(ctx, []string{clipPath}, audioPath, durationMs)
	if err != nil {
		return "", "", fmt.Errorf("composing custom action clip: %w", err)
	}

	return composed.Path, actionID, nil
}

// finalize moves a single-action render into its final cache location and
// records the log entry; if useCache is false it still returns the scratch
// render path as-is (stream mode never reaches this method).
func (s *Service) finalize(renderedPath, hash string, entryType domain.CacheEntryType, presetID string, useCache bool) (string, error) {
	if !useCache {
		return renderedPath, nil
	}
	dest := s.cache.OutputPath(hash)
	if err := moveFile(renderedPath, dest); err != nil {
		return "", err
	}
	if err := s.cache.Append(domain.CacheLogEntry{
		File:   filepath.Base(dest),
		Type:   entryType,
		Preset: presetID,
	}); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *Service) finalizeCombined(renderedPath, hash, presetID string, actionHashes []string, useCache bool) (string, error) {
	if !useCache {
		return renderedPath, nil
	}
	dest := s.cache.OutputPath(hash)
	if err := moveFile(renderedPath, dest); err != nil {
		return "", err
	}
	if err := s.cache.Append(domain.CacheLogEntry{
		File:   filepath.Base(dest),
		Type:   domain.CacheTypeCombined,
		Preset: presetID,
		Fields: map[string]any{"actionHashes": actionHashes},
	}); err != nil {
		return "", err
	}
	return dest, nil
}

// GenerateStreamClip renders one streamed action request for the Stream
// Service, bypassing the cache entirely and writing into the stream
// subdirectory, returning the ordered clip paths to splice into the idle
// loop (a single finished MP4 in the current implementation).
func (s *Service) GenerateStreamClip(ctx context.Context, preset *domain.Preset, req domain.ActionRequest, defaults domain.BatchDefaults) ([]string, error) {
	planner := s.planners(preset)
	dir, release, err := s.jobDir()
	if err != nil {
		return nil, err
	}
	defer release()

	outPath, _, err := s.processOne(ctx, preset, planner, dir, req, defaults, false)
	if err != nil {
		return nil, err
	}

	dest := filepath.Join(s.streamDir, filepath.Base(outPath))
	if err := moveFile(outPath, dest); err != nil {
		return nil, err
	}
	return []string{dest}, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// moveFile renames src to dst, falling back to copy-then-unlink when they
// live on different filesystems (os.Rename returns a cross-device error).
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("copying %s to %s after cross-device rename failed: %w", src, dst, err)
	}
	return os.Remove(src)
}
