// Package domain holds the shared data model: motion clips, presets, clip
// plans, action requests, and stream state. Types here are plain data;
// behavior lives in the owning component packages (planner, generation,
// stream, idleloop).
package domain

// MotionKind identifies the role a motion clip plays in a preset.
type MotionKind string

const (
	MotionKindIdle             MotionKind = "idle"
	MotionKindSpeech           MotionKind = "speech"
	MotionKindTransitionEnter  MotionKind = "transition-enter"
	MotionKindTransitionExit   MotionKind = "transition-exit"
	MotionKindCustomAction     MotionKind = "custom-action"
)

// SizeClass bins idle/speech clips for the planner's fill loop.
type SizeClass string

const (
	SizeClassLarge SizeClass = "large"
	SizeClassSmall SizeClass = "small"
)

// NeutralEmotion is the universal fallback pool key.
const NeutralEmotion = "neutral"

// MotionClip is a static asset descriptor, immutable after preset load.
type MotionClip struct {
	ID            string
	AbsolutePath  string
	Kind          MotionKind
	SizeClass     SizeClass // only meaningful for idle/speech
	Emotion       string    // lowercase, defaults to "neutral"
	DurationMs    int64     // populated by validate_motion_specs / lazy probing
}

// VideoSpec describes a clip's video stream characteristics, used to detect
// preset-wide inconsistencies.
type VideoSpec struct {
	Width  int
	Height int
	FPS    float64
	Codec  string
	PixFmt string
}

// AudioProfile describes a preset's TTS voice selection. Engine names the
// engine variant; DefaultVoice and VoicesByEmotion pick the voice passed to
// it (see VoiceFor).
type AudioProfile struct {
	Engine        string
	DefaultVoice  string
	VoicesByEmotion map[string]string
}

// VoiceFor resolves the voice to use for emotion, falling back to the
// preset's default voice.
func (p AudioProfile) VoiceFor(emotion string) string {
	if v, ok := p.VoicesByEmotion[emotion]; ok && v != "" {
		return v
	}
	return p.DefaultVoice
}

// Preset is a named, immutable bundle identifying one avatar persona.
type Preset struct {
	ID              string
	ActionsByID     map[string]MotionClip // lowercased action-id -> custom-action clip
	IdlePool        map[SizeClass][]MotionClip
	SpeechPool      map[string]map[SizeClass][]MotionClip // emotion -> size -> clips
	EnterTransitions map[string][]MotionClip              // emotion -> clips
	ExitTransitions  map[string][]MotionClip
	AudioProfile    AudioProfile
	RTMPOutputURL   string
}

// ClipPlanEntry is one ordered element of a ClipPlan.
type ClipPlanEntry struct {
	ClipID     string
	SourcePath string
	DurationMs int64
}

// ClipPlan is the ephemeral output of the Clip Planner.
type ClipPlan struct {
	Clips           []ClipPlanEntry
	TotalDurationMs int64
	TalkDurationMs  int64
	EnterDurationMs int64
	ExitDurationMs  int64
	MotionIDs       []string
}

// ActionKind identifies the kind of a requested action.
type ActionKind string

const (
	ActionSpeak  ActionKind = "speak"
	ActionIdle   ActionKind = "idle"
	// any other value is a custom action id looked up in Preset.ActionsByID.
)

// AudioInput describes how raw audio was supplied for a speak action.
type AudioInput struct {
	Path       string // external file path, copied into the job directory
	Base64     string // inline-encoded audio bytes
	Transcribe bool   // run STT then re-synthesize from the transcription
}

// ActionParams carries the per-action request fields; not every field is
// meaningful for every ActionKind.
type ActionParams struct {
	Text       string
	Audio      *AudioInput
	Emotion    string
	DurationMs int64
	MotionID   string
}

// ActionRequest is one entry of a batch payload.
type ActionRequest struct {
	Action ActionKind
	Params ActionParams
}

// BatchDefaults carries payload-level fallbacks applied to each action.
type BatchDefaults struct {
	Emotion      string
	IdleMotionID string
}

// BatchPayload is the full request body accepted by /api/generate and
// /api/stream/text.
type BatchPayload struct {
	PresetID string
	Stream   bool
	Cache    bool
	Debug    bool
	Defaults BatchDefaults
	Requests []ActionRequest
}

// StreamPhase is the Stream Service's state machine phase.
type StreamPhase string

const (
	PhaseStopped StreamPhase = "STOPPED"
	PhaseIdle    StreamPhase = "IDLE"
	PhaseSpeak   StreamPhase = "SPEAK"
)

// StreamState is the Stream Service singleton snapshot.
type StreamState struct {
	SessionID       string
	PresetID        string
	Phase           StreamPhase
	QueueLength     int
	ActiveMotionID  string
}

// CacheEntryType distinguishes descriptor shapes for the content hash.
type CacheEntryType string

const (
	CacheTypeSpeak    CacheEntryType = "speak"
	CacheTypeIdle     CacheEntryType = "idle"
	CacheTypeCombined CacheEntryType = "combined"
)

// CacheLogEntry is one append-only record in output.jsonl.
type CacheLogEntry struct {
	File      string         `json:"file"`
	Type      CacheEntryType `json:"type"`
	Preset    string         `json:"preset"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt string         `json:"createdAt"`
}
