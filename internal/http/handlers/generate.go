package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/avatarstreamd/internal/apperr"
	"github.com/jmylchreest/avatarstreamd/internal/generation"
	"github.com/jmylchreest/avatarstreamd/internal/presets"
)

// GenerateHandler exposes the Generation Service's one-shot batch render
// endpoint.
type GenerateHandler struct {
	generator *generation.Service
	presets   *presets.Registry
}

// NewGenerateHandler creates a GenerateHandler.
func NewGenerateHandler(generator *generation.Service, presetRegistry *presets.Registry) *GenerateHandler {
	return &GenerateHandler{generator: generator, presets: presetRegistry}
}

// Register registers the generate route with the API.
func (h *GenerateHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "generate",
		Method:      "POST",
		Path:        "/api/generate",
		Summary:     "Render a batch of actions",
		Description: "Renders one or more actions to a finished MP4, composing them into a single combined timeline when more than one request is given. With stream=true caching is off, each request is rendered on its own, and the path of the last render is returned; the stream's running state is not checked.",
		Tags:        []string{"Generate"},
	}, h.Generate)
}

// GenerateInput is the batch render request.
type GenerateInput struct {
	Body batchPayloadWire
}

// GenerateOutput carries the path of the rendered clip.
type GenerateOutput struct {
	Body struct {
		Path string `json:"path"`
	}
}

// Generate renders payload.Requests and returns the resulting clip path.
func (h *GenerateHandler) Generate(ctx context.Context, input *GenerateInput) (*GenerateOutput, error) {
	payload, err := input.Body.toDomain()
	if err != nil {
		return nil, huma.Error400BadRequest("invalid batch payload", err)
	}

	preset, ok := h.presets.Get(payload.PresetID)
	if !ok {
		return nil, huma.Error400BadRequest("unknown preset")
	}

	opts := generation.ProcessBatchOptions{
		Stream: payload.Stream,
		Cache:  payload.Cache,
	}

	path, err := h.generator.ProcessBatch(ctx, preset, payload, opts)
	if err != nil {
		var actionErr *apperr.ActionProcessingError
		if errors.As(err, &actionErr) {
			return nil, huma.NewError(actionErr.StatusCode, actionErr.Error(), err)
		}
		return nil, huma.Error500InternalServerError("failed to render batch", err)
	}

	out := &GenerateOutput{}
	out.Body.Path = path
	return out, nil
}
