package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/avatarstreamd/internal/apperr"
	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	return statusErr.GetStatus()
}

type fakeStreamController struct {
	mu       sync.Mutex
	state    domain.StreamState
	startErr error
	enqErr   error
}

func (f *fakeStreamController) Start(ctx context.Context, presetID string, debug bool) (domain.StreamState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return domain.StreamState{}, f.startErr
	}
	f.state.Phase = domain.PhaseSpeak
	f.state.PresetID = presetID
	return f.state, nil
}

func (f *fakeStreamController) Stop(ctx context.Context) domain.StreamState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = domain.StreamState{Phase: domain.PhaseStopped}
	return f.state
}

func (f *fakeStreamController) Status() domain.StreamState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeStreamController) EnqueueText(ctx context.Context, presetID string, req domain.ActionRequest, defaults domain.BatchDefaults, onError func(error)) error {
	return f.enqErr
}

func TestStreamHandler_Start_RequiresPresetID(t *testing.T) {
	h := NewStreamHandler(&fakeStreamController{}, nil)

	_, err := h.Start(context.Background(), &StartInput{})
	require.Error(t, err)
}

func TestStreamHandler_Start_MapsKnownErrorsToStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"unknown preset", apperr.ErrPresetNotFound, 400},
		{"mismatch", apperr.ErrPresetMismatch, 409},
		{"other", errors.New("boom"), 500},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctl := &fakeStreamController{startErr: tc.err}
			h := NewStreamHandler(ctl, nil)

			_, err := h.Start(context.Background(), &StartInput{Body: struct {
				PresetID string `json:"presetId" required:"true"`
				Debug    bool   `json:"debug,omitempty"`
			}{PresetID: "avatar-1"}})
			require.Error(t, err)
			assert.Equal(t, tc.wantStatus, statusOf(t, err))
		})
	}
}

func TestStreamHandler_Start_Success(t *testing.T) {
	ctl := &fakeStreamController{}
	h := NewStreamHandler(ctl, nil)

	out, err := h.Start(context.Background(), &StartInput{Body: struct {
		PresetID string `json:"presetId" required:"true"`
		Debug    bool   `json:"debug,omitempty"`
	}{PresetID: "avatar-1"}})
	require.NoError(t, err)
	assert.Equal(t, "avatar-1", out.Body.PresetID)
	assert.Equal(t, string(domain.PhaseSpeak), out.Body.Status)
}

func TestStreamHandler_Stop_AlwaysSucceeds(t *testing.T) {
	ctl := &fakeStreamController{state: domain.StreamState{Phase: domain.PhaseSpeak}}
	h := NewStreamHandler(ctl, nil)

	out, err := h.Stop(context.Background(), &StopInput{})
	require.NoError(t, err)
	assert.Equal(t, string(domain.PhaseStopped), out.Body.Status)
}

func TestStreamHandler_Status_ReflectsControllerState(t *testing.T) {
	ctl := &fakeStreamController{state: domain.StreamState{Phase: domain.PhaseIdle, QueueLength: 2}}
	h := NewStreamHandler(ctl, nil)

	out, err := h.Status(context.Background(), &StatusInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Body.QueueLength)
}

func TestStreamHandler_Text_RejectsInvalidPayload(t *testing.T) {
	h := NewStreamHandler(&fakeStreamController{}, nil)

	_, err := h.Text(context.Background(), &TextInput{Body: batchPayloadWire{}})
	require.Error(t, err)
}

func TestStreamHandler_Text_MapsStreamNotRunningToConflict(t *testing.T) {
	ctl := &fakeStreamController{enqErr: apperr.ErrStreamNotRunning}
	h := NewStreamHandler(ctl, nil)

	_, err := h.Text(context.Background(), &TextInput{Body: batchPayloadWire{
		PresetID: "avatar-1",
		Requests: []actionRequestWire{{Action: "idle", Params: actionParamsWire{DurationMs: 1000}}},
	}})
	require.Error(t, err)
	assert.Equal(t, 409, statusOf(t, err))
}

func TestStreamHandler_Text_MapsPresetMismatchToConflict(t *testing.T) {
	ctl := &fakeStreamController{enqErr: apperr.ErrPresetMismatch}
	h := NewStreamHandler(ctl, nil)

	_, err := h.Text(context.Background(), &TextInput{Body: batchPayloadWire{
		PresetID: "other-preset",
		Requests: []actionRequestWire{{Action: "idle", Params: actionParamsWire{DurationMs: 1000}}},
	}})
	require.Error(t, err)
	assert.Equal(t, 409, statusOf(t, err))
}

func TestStreamHandler_Text_Success(t *testing.T) {
	ctl := &fakeStreamController{}
	h := NewStreamHandler(ctl, nil)

	out, err := h.Text(context.Background(), &TextInput{Body: batchPayloadWire{
		PresetID: "avatar-1",
		Requests: []actionRequestWire{{Action: "idle", Params: actionParamsWire{DurationMs: 1000}}},
	}})
	require.NoError(t, err)
	assert.True(t, out.Body.OK)
}
