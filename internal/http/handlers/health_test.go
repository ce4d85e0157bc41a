package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

type fakeStatusProvider struct {
	state domain.StreamState
}

func (f fakeStatusProvider) Status() domain.StreamState {
	return f.state
}

func TestGetHealth_ReportsVersionAndUptime(t *testing.T) {
	h := NewHealthHandler("1.2.3", nil)

	out, err := h.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", out.Body.Status)
	assert.Equal(t, "1.2.3", out.Body.Version)
	assert.GreaterOrEqual(t, out.Body.UptimeSeconds, 0.0)
	assert.Empty(t, out.Body.StreamStatus, "no stream provider was wired")
}

func TestGetHealth_IncludesStreamStatusWhenProvided(t *testing.T) {
	h := NewHealthHandler("1.2.3", fakeStatusProvider{state: domain.StreamState{Phase: domain.PhaseSpeak, QueueLength: 4}})

	out, err := h.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, string(domain.PhaseSpeak), out.Body.StreamStatus)
	assert.Equal(t, 4, out.Body.StreamQueueLen)
}
