package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/avatarstreamd/internal/apperr"
	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

// StreamController is the subset of the Stream Service the HTTP layer needs.
type StreamController interface {
	Start(ctx context.Context, presetID string, debug bool) (domain.StreamState, error)
	Stop(ctx context.Context) domain.StreamState
	Status() domain.StreamState
	EnqueueText(ctx context.Context, presetID string, req domain.ActionRequest, defaults domain.BatchDefaults, onError func(error)) error
}

// StreamHandler exposes the Stream Service's singleton start/stop/status and
// batch text endpoints.
type StreamHandler struct {
	stream StreamController
	logger *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(stream StreamController, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{stream: stream, logger: logger}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startStream",
		Method:      "POST",
		Path:        "/api/stream/start",
		Summary:     "Start the stream",
		Description: "Starts the idle loop and RTMP push for the given preset. Idempotent if the same preset is already running.",
		Tags:        []string{"Stream"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "stopStream",
		Method:      "POST",
		Path:        "/api/stream/stop",
		Summary:     "Stop the stream",
		Description: "Stops the idle loop and RTMP push. Always succeeds.",
		Tags:        []string{"Stream"},
	}, h.Stop)

	statusOp := huma.Operation{
		OperationID: "streamStatus",
		Method:      "GET",
		Path:        "/api/stream/status",
		Summary:     "Get stream status",
		Tags:        []string{"Stream"},
	}
	huma.Register(api, statusOp, h.Status)

	aliasOp := statusOp
	aliasOp.OperationID = "streamStatusAlias"
	aliasOp.Path = "/api/status"
	aliasOp.Hidden = true
	huma.Register(api, aliasOp, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "streamText",
		Method:      "POST",
		Path:        "/api/stream/text",
		Summary:     "Enqueue a streamed batch",
		Description: "Enqueues one or more actions onto the running stream's FIFO queue. Returns as soon as the batch is accepted; rendering and splicing happen asynchronously.",
		Tags:        []string{"Stream"},
	}, h.Text)
}

// StartInput is the request for starting the stream.
type StartInput struct {
	Body struct {
		PresetID string `json:"presetId" required:"true"`
		Debug    bool   `json:"debug,omitempty"`
	}
}

// StreamStateBody is the wire shape of a stream state snapshot.
type StreamStateBody struct {
	Status          string `json:"status"`
	SessionID       string `json:"sessionId,omitempty"`
	CurrentMotionID string `json:"currentMotionId,omitempty"`
	QueueLength     int    `json:"queueLength"`
	PresetID        string `json:"presetId,omitempty"`
}

// StartOutput is the response for starting the stream.
type StartOutput struct {
	Body StreamStateBody
}

func stateBody(s domain.StreamState) StreamStateBody {
	return StreamStateBody{
		Status:          string(s.Phase),
		SessionID:       s.SessionID,
		CurrentMotionID: s.ActiveMotionID,
		QueueLength:     s.QueueLength,
		PresetID:        s.PresetID,
	}
}

// Start starts the stream.
func (h *StreamHandler) Start(ctx context.Context, input *StartInput) (*StartOutput, error) {
	if input.Body.PresetID == "" {
		return nil, huma.Error400BadRequest("presetId is required")
	}

	state, err := h.stream.Start(ctx, input.Body.PresetID, input.Body.Debug)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrPresetNotFound):
			return nil, huma.Error400BadRequest("unknown preset", err)
		case errors.Is(err, apperr.ErrPresetMismatch):
			return nil, huma.Error409Conflict("a different preset is already streaming", err)
		default:
			return nil, huma.Error500InternalServerError("failed to start stream", err)
		}
	}

	return &StartOutput{Body: stateBody(state)}, nil
}

// StopInput is the (empty) request for stopping the stream.
type StopInput struct{}

// StopOutput is the response for stopping the stream.
type StopOutput struct {
	Body StreamStateBody
}

// Stop stops the stream.
func (h *StreamHandler) Stop(ctx context.Context, input *StopInput) (*StopOutput, error) {
	state := h.stream.Stop(ctx)
	return &StopOutput{Body: stateBody(state)}, nil
}

// StatusInput is the (empty) request for stream status.
type StatusInput struct{}

// StatusOutput is the response for stream status.
type StatusOutput struct {
	Body StreamStateBody
}

// Status returns the current stream state.
func (h *StreamHandler) Status(ctx context.Context, input *StatusInput) (*StatusOutput, error) {
	return &StatusOutput{Body: stateBody(h.stream.Status())}, nil
}

// TextInput is the streamed batch request.
type TextInput struct {
	Body batchPayloadWire
}

// TextOutput acknowledges a streamed batch was accepted.
type TextOutput struct {
	Body struct {
		OK bool `json:"ok"`
	}
}

// Text enqueues every request in the batch onto the stream's FIFO queue,
// failing fast on the first request that can't even be validated.
func (h *StreamHandler) Text(ctx context.Context, input *TextInput) (*TextOutput, error) {
	payload, err := input.Body.toDomain()
	if err != nil {
		return nil, huma.Error400BadRequest("invalid batch payload", err)
	}

	for i, req := range payload.Requests {
		requestID := i + 1
		err := h.stream.EnqueueText(ctx, payload.PresetID, req, payload.Defaults, func(taskErr error) {
			h.logger.Error("streamed task failed", "requestId", requestID, "error", taskErr)
		})
		if err != nil {
			switch {
			case errors.Is(err, apperr.ErrStreamNotRunning):
				return nil, huma.Error409Conflict("stream is not running", err)
			case errors.Is(err, apperr.ErrPresetMismatch):
				return nil, huma.Error409Conflict("a different preset is already streaming", err)
			default:
				return nil, huma.Error500InternalServerError("failed to enqueue streamed action", err)
			}
		}
	}

	out := &TextOutput{}
	out.Body.OK = true
	return out, nil
}
