package handlers

import (
	"fmt"

	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

// audioInputWire is the wire shape of a speak action's raw audio input.
type audioInputWire struct {
	Path       string `json:"path,omitempty"`
	Base64     string `json:"base64,omitempty"`
	Transcribe bool   `json:"transcribe,omitempty"`
}

// actionParamsWire is the wire shape of one action's parameters; not every
// field applies to every action kind.
type actionParamsWire struct {
	Text       string          `json:"text,omitempty"`
	Audio      *audioInputWire `json:"audio,omitempty"`
	Emotion    string          `json:"emotion,omitempty"`
	DurationMs int64           `json:"durationMs,omitempty"`
	MotionID   string          `json:"motionId,omitempty"`
}

// actionRequestWire is one entry of a batch payload's requests array.
type actionRequestWire struct {
	Action string           `json:"action" required:"true"`
	Params actionParamsWire `json:"params,omitempty"`
}

// batchDefaultsWire carries payload-level fallbacks applied to each request.
type batchDefaultsWire struct {
	Emotion      string `json:"emotion,omitempty"`
	IdleMotionID string `json:"idleMotionId,omitempty"`
}

// batchPayloadWire is the JSON body accepted by /api/generate and
// /api/stream/text.
type batchPayloadWire struct {
	PresetID string              `json:"presetId" required:"true"`
	Stream   bool                `json:"stream,omitempty"`
	Cache    bool                `json:"cache,omitempty"`
	Debug    bool                `json:"debug,omitempty"`
	Defaults batchDefaultsWire   `json:"defaults,omitempty"`
	Requests []actionRequestWire `json:"requests" required:"true"`
}

// toDomain validates and converts the wire payload into its domain form.
func (w batchPayloadWire) toDomain() (domain.BatchPayload, error) {
	if w.PresetID == "" {
		return domain.BatchPayload{}, fmt.Errorf("presetId is required")
	}
	if len(w.Requests) == 0 {
		return domain.BatchPayload{}, fmt.Errorf("requests must contain at least one entry")
	}

	out := domain.BatchPayload{
		PresetID: w.PresetID,
		Stream:   w.Stream,
		Cache:    w.Cache,
		Debug:    w.Debug,
		Defaults: domain.BatchDefaults{
			Emotion:      w.Defaults.Emotion,
			IdleMotionID: w.Defaults.IdleMotionID,
		},
		Requests: make([]domain.ActionRequest, len(w.Requests)),
	}

	for i, r := range w.Requests {
		if r.Action == "" {
			return domain.BatchPayload{}, fmt.Errorf("request %d: action is required", i+1)
		}
		req := domain.ActionRequest{
			Action: domain.ActionKind(r.Action),
			Params: domain.ActionParams{
				Text:       r.Params.Text,
				Emotion:    r.Params.Emotion,
				DurationMs: r.Params.DurationMs,
				MotionID:   r.Params.MotionID,
			},
		}
		if r.Params.Audio != nil {
			req.Params.Audio = &domain.AudioInput{
				Path:       r.Params.Audio.Path,
				Base64:     r.Params.Audio.Base64,
				Transcribe: r.Params.Audio.Transcribe,
			}
		}
		out.Requests[i] = req
	}

	return out, nil
}
