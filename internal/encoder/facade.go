// Package encoder is the Encoder Facade: the sole boundary between the
// planner/generation/idleloop components and the ffmpeg/ffprobe binaries.
// It owns the duration cache and exposes every media operation the rest of
// the system needs as a single verb, never a raw ffmpeg argument list.
package encoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/avatarstreamd/internal/apperr"
	"github.com/jmylchreest/avatarstreamd/internal/domain"
	"github.com/jmylchreest/avatarstreamd/internal/ffmpeg"
)

// Facade wraps an ffmpeg binary pair and a shared duration cache.
type Facade struct {
	ffmpegPath string
	prober     *ffmpeg.Prober
	cache      *ffmpeg.DurationCache
	workDir    string
}

// New creates a Facade. workDir is used for scratch output files (silent
// audio, normalized/trimmed/fitted intermediates); callers are responsible
// for cleaning up returned paths once no longer needed.
func New(ffmpegPath, ffprobePath string, probeTimeout time.Duration, workDir string) *Facade {
	prober := ffmpeg.NewProber(ffprobePath).WithTimeout(probeTimeout)
	return &Facade{
		ffmpegPath: ffmpegPath,
		prober:     prober,
		cache:      ffmpeg.NewDurationCache(prober),
		workDir:    workDir,
	}
}

func (f *Facade) scratchPath(ext string) string {
	return filepath.Join(f.workDir, uuid.NewString()+ext)
}

func (f *Facade) builder() *ffmpeg.CommandBuilder {
	return ffmpeg.NewCommandBuilder(f.ffmpegPath).HideBanner().Overwrite()
}

func msToSeconds(ms int64) float64 {
	return float64(ms) / 1000.0
}

// ProbeVideoDuration returns a clip's video duration in milliseconds.
func (f *Facade) ProbeVideoDuration(ctx context.Context, path string) (int64, error) {
	info, err := f.cache.Get(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("probing video duration for %s: %w", path, err)
	}
	return info.Duration, nil
}

// ProbeAudioDuration returns a clip's audio duration in milliseconds. For
// single-stream container files this is the same as the container duration.
func (f *Facade) ProbeAudioDuration(ctx context.Context, path string) (int64, error) {
	info, err := f.cache.Get(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("probing audio duration for %s: %w", path, err)
	}
	return info.Duration, nil
}

// HasAudioStream reports whether path contains an audio stream.
func (f *Facade) HasAudioStream(ctx context.Context, path string) (bool, error) {
	info, err := f.cache.Get(ctx, path)
	if err != nil {
		return false, fmt.Errorf("probing audio presence for %s: %w", path, err)
	}
	return info.HasAudio, nil
}

// GetVideoSpec returns a clip's video stream characteristics.
func (f *Facade) GetVideoSpec(ctx context.Context, path string) (domain.VideoSpec, error) {
	info, err := f.cache.Get(ctx, path)
	if err != nil {
		return domain.VideoSpec{}, fmt.Errorf("probing video spec for %s: %w", path, err)
	}
	return domain.VideoSpec{
		Width:  info.VideoWidth,
		Height: info.VideoHeight,
		FPS:    info.VideoFramerate,
		Codec:  info.VideoCodec,
		PixFmt: info.VideoPixFmt,
	}, nil
}

// CreateSilentAudio renders a silent 48kHz stereo WAV of the given duration.
func (f *Facade) CreateSilentAudio(ctx context.Context, durationMs int64) (string, error) {
	out := f.scratchPath(".wav")
	cmd := f.builder().
		InputArgs("-f", "lavfi").
		Input("anullsrc=channel_layout=stereo:sample_rate=48000").
		Duration(msToSeconds(durationMs)).
		AudioCodec("pcm_s16le").
		Output(out).
		Build()
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("creating %dms silent audio: %w", durationMs, err)
	}
	return out, nil
}

// NormalizeAudio re-encodes path to 48kHz stereo pcm_s16le.
func (f *Facade) NormalizeAudio(ctx context.Context, path string) (string, error) {
	out := f.scratchPath(".wav")
	cmd := f.builder().
		Input(path).
		AudioSampleRate(48000).
		AudioChannels(2).
		AudioCodec("pcm_s16le").
		Output(out).
		Build()
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("normalizing audio %s: %w", path, err)
	}
	return out, nil
}

// TrimAudioSilence strips leading/trailing silence below thresholdDB.
func (f *Facade) TrimAudioSilence(ctx context.Context, path string, thresholdDB int) (string, error) {
	out := f.scratchPath(".wav")
	filter := fmt.Sprintf(
		"silenceremove=start_periods=1:start_threshold=%ddB:start_silence=0.05,"+
			"areverse,silenceremove=start_periods=1:start_threshold=%ddB:start_silence=0.05,areverse",
		thresholdDB, thresholdDB)
	cmd := f.builder().
		Input(path).
		AudioFilter(filter).
		Output(out).
		Build()
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("trimming silence from %s: %w", path, err)
	}
	return out, nil
}

// FitAudioDuration pads with silence or trims path to exactly durationMs.
func (f *Facade) FitAudioDuration(ctx context.Context, path string, durationMs int64) (string, error) {
	out := f.scratchPath(".wav")
	seconds := msToSeconds(durationMs)
	filter := fmt.Sprintf("apad,atrim=0:%.3f", seconds)
	cmd := f.builder().
		Input(path).
		AudioFilter(filter).
		Output(out).
		Build()
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("fitting audio %s to %dms: %w", path, durationMs, err)
	}
	return out, nil
}

// ConcatAudioResult is the output of ConcatAudio.
type ConcatAudioResult struct {
	Path       string
	DurationMs int64
}

// ConcatAudio joins audio files in order via the concat demuxer.
func (f *Facade) ConcatAudio(ctx context.Context, paths []string) (ConcatAudioResult, error) {
	if len(paths) == 0 {
		return ConcatAudioResult{}, fmt.Errorf("concat_audio: no input paths")
	}
	listPath, err := writeConcatList(f.workDir, paths)
	if err != nil {
		return ConcatAudioResult{}, err
	}
	defer os.Remove(listPath)

	out := f.scratchPath(".wav")
	cmd := f.builder().
		ConcatDemuxer().
		Input(listPath).
		AudioCodec("pcm_s16le").
		Output(out).
		Build()
	if err := cmd.Run(ctx); err != nil {
		return ConcatAudioResult{}, fmt.Errorf("concatenating audio: %w", err)
	}

	dur, err := f.ProbeAudioDuration(ctx, out)
	if err != nil {
		return ConcatAudioResult{}, err
	}
	return ConcatAudioResult{Path: out, DurationMs: dur}, nil
}

// ExtractAudioTrack pulls the audio stream out of path. Returns
// apperr.ErrNoAudioTrack if path has no audio stream.
func (f *Facade) ExtractAudioTrack(ctx context.Context, path string) (string, error) {
	has, err := f.HasAudioStream(ctx, path)
	if err != nil {
		return "", err
	}
	if !has {
		return "", apperr.ErrNoAudioTrack
	}
	out := f.scratchPath(".wav")
	cmd := f.builder().
		Input(path).
		OutputArgs("-vn").
		AudioCodec("pcm_s16le").
		Output(out).
		Build()
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("extracting audio track from %s: %w", path, err)
	}
	return out, nil
}

// EnsureAudioTrack returns path unchanged if it already has audio, otherwise
// muxes in a silent track matching the clip's own duration.
func (f *Facade) EnsureAudioTrack(ctx context.Context, path string) (string, error) {
	has, err := f.HasAudioStream(ctx, path)
	if err != nil {
		return "", err
	}
	if has {
		return path, nil
	}
	durationMs, err := f.ProbeVideoDuration(ctx, path)
	if err != nil {
		return "", err
	}
	silence, err := f.CreateSilentAudio(ctx, durationMs)
	if err != nil {
		return "", err
	}
	defer os.Remove(silence)

	out := f.scratchPath(".mp4")
	cmd := f.builder().
		Input(path).
		ExtraInput(silence).
		VideoCodec("copy").
		AudioCodec("aac").
		OutputArgs("-shortest").
		Output(out).
		Build()
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("muxing silent audio into %s: %w", path, err)
	}
	return out, nil
}

// ConcatVideo joins video files via the concat demuxer with stream copy.
func (f *Facade) ConcatVideo(ctx context.Context, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("concat_video: no input paths")
	}
	listPath, err := writeConcatList(f.workDir, paths)
	if err != nil {
		return "", err
	}
	defer os.Remove(listPath)

	out := f.scratchPath(".mp4")
	cmd := f.builder().
		ConcatDemuxer().
		Input(listPath).
		VideoCodec("copy").
		AudioCodec("copy").
		Output(out).
		Build()
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("concatenating video: %w", err)
	}
	return out, nil
}

// MixAudio mixes multiple audio inputs down to durationMs without loudness
// normalization (amix normalize=0), matching the "both motion and external
// audio present" compose branch.
func (f *Facade) MixAudio(ctx context.Context, paths []string, durationMs int64) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("mix_audio: no input paths")
	}
	b := f.builder().Input(paths[0])
	for _, p := range paths[1:] {
		b = b.ExtraInput(p)
	}
	filter := fmt.Sprintf("amix=inputs=%d:duration=longest:normalize=0", len(paths))
	out := f.scratchPath(".wav")
	cmd := b.
		OutputArgs("-filter_complex", filter).
		Duration(msToSeconds(durationMs)).
		Output(out).
		Build()
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("mixing audio: %w", err)
	}
	return out, nil
}

// ExtractSegment cuts [startMs, startMs+durationMs) out of path.
func (f *Facade) ExtractSegment(ctx context.Context, path string, startMs, durationMs int64) (string, error) {
	out := f.scratchPath(filepath.Ext(path))
	cmd := f.builder().
		Seek(msToSeconds(startMs)).
		Input(path).
		Duration(msToSeconds(durationMs)).
		OutputArgs("-c", "copy").
		Output(out).
		Build()
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("extracting segment from %s: %w", path, err)
	}
	return out, nil
}

// ComposeResult is the output of Compose.
type ComposeResult struct {
	Path       string
	DurationMs int64
}

// Compose renders the final timeline: video always concats via stream copy.
// Audio follows the central composition rule, decided by two booleans —
// has_motion_audio (any source clip carries its own audio track) and
// has_external_audio (audioPath is non-empty):
//   - both       -> amix the extracted motion audio with the external track
//     (normalize=0, preserves levels), shortest-end cutoff.
//   - external only -> mux the external track in, shortest-end cutoff.
//   - motion only   -> keep the clips' own audio, forcing duration_ms.
//   - neither       -> generate silence of duration_ms and mux it in.
//
// When only some source clips carry audio, the silent ones are first
// upgraded via EnsureAudioTrack so the concat demuxer sees audio uniformly.
func (f *Facade) Compose(ctx context.Context, clipPaths []string, audioPath string, durationMs int64) (ComposeResult, error) {
	preparedClips, hasMotionAudio, cleanup, err := f.prepareClipsForConcat(ctx, clipPaths)
	if err != nil {
		return ComposeResult{}, err
	}
	defer cleanup()

	video, err := f.ConcatVideo(ctx, preparedClips)
	if err != nil {
		return ComposeResult{}, err
	}
	defer os.Remove(video)

	hasExternalAudio := audioPath != ""

	var out string
	switch {
	case hasMotionAudio && hasExternalAudio:
		motionAudio, err := f.ExtractAudioTrack(ctx, video)
		if err != nil {
			return ComposeResult{}, err
		}
		defer os.Remove(motionAudio)
		mixed, err := f.MixAudio(ctx, []string{motionAudio, audioPath}, durationMs)
		if err != nil {
			return ComposeResult{}, err
		}
		defer os.Remove(mixed)
		out, err = f.muxVideoWithAudio(ctx, video, mixed)
		if err != nil {
			return ComposeResult{}, err
		}
	case hasExternalAudio:
		out, err = f.muxVideoWithAudio(ctx, video, audioPath)
		if err != nil {
			return ComposeResult{}, err
		}
	case hasMotionAudio:
		out, err = f.remuxWithMotionAudio(ctx, video, durationMs)
		if err != nil {
			return ComposeResult{}, err
		}
	default:
		silence, err := f.CreateSilentAudio(ctx, durationMs)
		if err != nil {
			return ComposeResult{}, err
		}
		defer os.Remove(silence)
		out, err = f.muxVideoWithAudio(ctx, video, silence)
		if err != nil {
			return ComposeResult{}, err
		}
	}

	actual, err := f.ProbeVideoDuration(ctx, out)
	if err != nil {
		return ComposeResult{}, err
	}
	if durationMs > 0 {
		actual = durationMs
	}
	return ComposeResult{Path: out, DurationMs: actual}, nil
}

// prepareClipsForConcat checks which clips already carry audio and, when the
// set is mixed, upgrades the silent ones via EnsureAudioTrack so the concat
// demuxer sees audio uniformly across every input (it requires either all or
// none). Returns the (possibly substituted) clip list, whether any clip
// carries real motion audio, and a cleanup func for any scratch files it
// created along the way.
func (f *Facade) prepareClipsForConcat(ctx context.Context, clipPaths []string) ([]string, bool, func(), error) {
	noop := func() {}

	hasAudio := make([]bool, len(clipPaths))
	anyAudio, allAudio := false, true
	for i, p := range clipPaths {
		has, err := f.HasAudioStream(ctx, p)
		if err != nil {
			return nil, false, noop, err
		}
		hasAudio[i] = has
		anyAudio = anyAudio || has
		allAudio = allAudio && has
	}

	if !anyAudio || allAudio {
		return clipPaths, anyAudio, noop, nil
	}

	var created []string
	prepared := make([]string, len(clipPaths))
	for i, p := range clipPaths {
		if hasAudio[i] {
			prepared[i] = p
			continue
		}
		withAudio, err := f.EnsureAudioTrack(ctx, p)
		if err != nil {
			for _, c := range created {
				os.Remove(c)
			}
			return nil, false, noop, err
		}
		created = append(created, withAudio)
		prepared[i] = withAudio
	}

	return prepared, true, func() {
		for _, c := range created {
			os.Remove(c)
		}
	}, nil
}

// muxVideoWithAudio muxes video's picture with audio's track, shortest-end
// cutoff (used whenever an external or mixed audio track dictates length).
func (f *Facade) muxVideoWithAudio(ctx context.Context, video, audio string) (string, error) {
	out := f.scratchPath(".mp4")
	cmd := f.builder().
		Input(video).
		ExtraInput(audio).
		OutputArgs("-map", "1:v:0", "-map", "0:a:0").
		VideoCodec("copy").
		AudioCodec("aac").AudioSampleRate(48000).AudioChannels(2).
		OutputArgs("-shortest").
		Output(out).
		Build()
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("muxing composed audio: %w", err)
	}
	return out, nil
}

// remuxWithMotionAudio re-encodes video's own audio to the standard output
// format, forcing durationMs when positive (the motion-only compose
// branch).
func (f *Facade) remuxWithMotionAudio(ctx context.Context, video string, durationMs int64) (string, error) {
	out := f.scratchPath(".mp4")
	b := f.builder().
		Input(video).
		VideoCodec("copy").
		AudioCodec("aac").AudioSampleRate(48000).AudioChannels(2)
	if durationMs > 0 {
		b = b.Duration(msToSeconds(durationMs))
	}
	cmd := b.Output(out).Build()
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("composing timeline (motion audio only): %w", err)
	}
	return out, nil
}

func writeConcatList(workDir string, paths []string) (string, error) {
	f, err := os.CreateTemp(workDir, "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating concat list: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("ffconcat version 1.0\n"); err != nil {
		return "", err
	}
	for _, p := range paths {
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapeConcatPath(p)); err != nil {
			return "", err
		}
	}
	return f.Name(), nil
}

// escapeConcatPath escapes single quotes per the ffconcat demuxer's quoting
// rule: a literal quote is written as '\''.
func escapeConcatPath(p string) string {
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
