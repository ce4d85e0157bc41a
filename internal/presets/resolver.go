// Package presets loads preset bundle files from disk and normalizes them
// into the immutable, in-memory domain.Preset pools the rest of the system
// depends on.
package presets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

// Registry is a read-only, thread-safe-by-construction lookup over the
// presets loaded at startup; it never changes for the lifetime of the
// process, so it needs no locking.
type Registry struct {
	presets map[string]*domain.Preset
}

// NewRegistry wraps a loaded preset map for lookup by the stream and
// generation services.
func NewRegistry(presets map[string]*domain.Preset) *Registry {
	return &Registry{presets: presets}
}

// Get resolves a preset id, reporting whether it was found.
func (r *Registry) Get(presetID string) (*domain.Preset, bool) {
	p, ok := r.presets[presetID]
	return p, ok
}

// PresetFile is the on-disk YAML shape of a preset bundle, one file per
// preset at <presets_dir>/<preset_id>.yaml.
type PresetFile struct {
	ID      string                       `yaml:"id"`
	Actions map[string]string            `yaml:"actions"` // action-id -> relative motion path
	Idle     []MotionFileRef             `yaml:"idle"`
	Speech   map[string]SpeechPoolFile   `yaml:"speech"`   // emotion -> pool
	EnterTransitions map[string][]string `yaml:"enter_transitions"` // emotion -> relative paths
	ExitTransitions  map[string][]string `yaml:"exit_transitions"`
	AudioProfile     AudioProfileFile    `yaml:"audio_profile"`
	RTMPOutputURL    string              `yaml:"rtmp_output_url"`
}

// MotionFileRef is a single motion asset reference with its size class.
type MotionFileRef struct {
	Path      string `yaml:"path"`
	SizeClass string `yaml:"size_class"`
}

// SpeechPoolFile groups speech clip refs by size class for one emotion.
type SpeechPoolFile struct {
	Large []string `yaml:"large"`
	Small []string `yaml:"small"`
}

// AudioProfileFile is the on-disk TTS engine configuration for a preset.
type AudioProfileFile struct {
	Engine          string            `yaml:"engine"`
	DefaultVoice    string            `yaml:"default_voice"`
	VoicesByEmotion map[string]string `yaml:"voices"`
}

// LoadAll reads every <preset_id>.yaml file under presetsDir and normalizes
// it into a domain.Preset, keyed by preset id. Motion paths are resolved
// relative to motionsDir; a path that escapes motionsDir via ".." is
// rejected.
func LoadAll(presetsDir, motionsDir string) (map[string]*domain.Preset, error) {
	entries, err := os.ReadDir(presetsDir)
	if err != nil {
		return nil, fmt.Errorf("reading presets dir: %w", err)
	}

	out := make(map[string]*domain.Preset)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		path := filepath.Join(presetsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading preset file %s: %w", path, err)
		}

		var pf PresetFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return nil, fmt.Errorf("parsing preset file %s: %w", path, err)
		}

		preset, err := normalize(pf, motionsDir)
		if err != nil {
			return nil, fmt.Errorf("normalizing preset %s: %w", path, err)
		}

		out[preset.ID] = preset
	}

	return out, nil
}

// resolveMotionPath joins a relative path under motionsDir and rejects any
// path that escapes it.
func resolveMotionPath(motionsDir, rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("motion path %q escapes motions directory", rel)
	}
	abs := filepath.Join(motionsDir, cleaned)
	if !strings.HasPrefix(abs, filepath.Clean(motionsDir)+string(filepath.Separator)) {
		return "", fmt.Errorf("motion path %q escapes motions directory", rel)
	}
	return abs, nil
}

func normalize(pf PresetFile, motionsDir string) (*domain.Preset, error) {
	if pf.ID == "" {
		return nil, fmt.Errorf("preset id is required")
	}

	preset := &domain.Preset{
		ID:               pf.ID,
		ActionsByID:      make(map[string]domain.MotionClip),
		IdlePool:         make(map[domain.SizeClass][]domain.MotionClip),
		SpeechPool:       make(map[string]map[domain.SizeClass][]domain.MotionClip),
		EnterTransitions: make(map[string][]domain.MotionClip),
		ExitTransitions:  make(map[string][]domain.MotionClip),
		RTMPOutputURL:    pf.RTMPOutputURL,
		AudioProfile: domain.AudioProfile{
			Engine:          pf.AudioProfile.Engine,
			DefaultVoice:    pf.AudioProfile.DefaultVoice,
			VoicesByEmotion: normalizeKeys(pf.AudioProfile.VoicesByEmotion),
		},
	}

	for actionID, rel := range pf.Actions {
		lowered := strings.ToLower(strings.TrimSpace(actionID))
		if lowered == string(domain.ActionSpeak) || lowered == string(domain.ActionIdle) {
			return nil, fmt.Errorf("custom action %q reuses a reserved name", lowered)
		}
		abs, err := resolveMotionPath(motionsDir, rel)
		if err != nil {
			return nil, err
		}
		preset.ActionsByID[lowered] = domain.MotionClip{
			ID:           fmt.Sprintf("action:%s", lowered),
			AbsolutePath: abs,
			Kind:         domain.MotionKindCustomAction,
			Emotion:      domain.NeutralEmotion,
		}
	}

	for i, ref := range pf.Idle {
		abs, err := resolveMotionPath(motionsDir, ref.Path)
		if err != nil {
			return nil, err
		}
		sc := normalizeSizeClass(ref.SizeClass)
		clip := domain.MotionClip{
			ID:           fmt.Sprintf("idle:%d", i),
			AbsolutePath: abs,
			Kind:         domain.MotionKindIdle,
			SizeClass:    sc,
			Emotion:      domain.NeutralEmotion,
		}
		preset.IdlePool[sc] = append(preset.IdlePool[sc], clip)
	}

	for emotion, pool := range pf.Speech {
		norm := normalizeEmotion(emotion)
		sized := preset.SpeechPool[norm]
		if sized == nil {
			sized = make(map[domain.SizeClass][]domain.MotionClip)
			preset.SpeechPool[norm] = sized
		}
		for i, rel := range pool.Large {
			abs, err := resolveMotionPath(motionsDir, rel)
			if err != nil {
				return nil, err
			}
			sized[domain.SizeClassLarge] = append(sized[domain.SizeClassLarge], domain.MotionClip{
				ID:           fmt.Sprintf("speech:%s:large:%d", norm, i),
				AbsolutePath: abs,
				Kind:         domain.MotionKindSpeech,
				SizeClass:    domain.SizeClassLarge,
				Emotion:      norm,
			})
		}
		for i, rel := range pool.Small {
			abs, err := resolveMotionPath(motionsDir, rel)
			if err != nil {
				return nil, err
			}
			sized[domain.SizeClassSmall] = append(sized[domain.SizeClassSmall], domain.MotionClip{
				ID:           fmt.Sprintf("speech:%s:small:%d", norm, i),
				AbsolutePath: abs,
				Kind:         domain.MotionKindSpeech,
				SizeClass:    domain.SizeClassSmall,
				Emotion:      norm,
			})
		}
	}

	if err := loadTransitionSet(pf.EnterTransitions, motionsDir, domain.MotionKindTransitionEnter, preset.EnterTransitions); err != nil {
		return nil, err
	}
	if err := loadTransitionSet(pf.ExitTransitions, motionsDir, domain.MotionKindTransitionExit, preset.ExitTransitions); err != nil {
		return nil, err
	}

	return preset, nil
}

func loadTransitionSet(src map[string][]string, motionsDir string, kind domain.MotionKind, dst map[string][]domain.MotionClip) error {
	for emotion, paths := range src {
		norm := normalizeEmotion(emotion)
		for i, rel := range paths {
			abs, err := resolveMotionPath(motionsDir, rel)
			if err != nil {
				return err
			}
			dst[norm] = append(dst[norm], domain.MotionClip{
				ID:           fmt.Sprintf("%s:%s:%d", kind, norm, i),
				AbsolutePath: abs,
				Kind:         kind,
				Emotion:      norm,
			})
		}
	}
	return nil
}

func normalizeEmotion(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return domain.NeutralEmotion
	}
	return s
}

func normalizeSizeClass(s string) domain.SizeClass {
	if strings.EqualFold(s, string(domain.SizeClassSmall)) {
		return domain.SizeClassSmall
	}
	return domain.SizeClassLarge
}

func normalizeKeys(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[normalizeEmotion(k)] = v
	}
	return out
}
