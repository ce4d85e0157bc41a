package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/avatarstreamd/internal/domain"
	"github.com/jmylchreest/avatarstreamd/pkg/httpclient"
)

// StreamStatusProvider is the subset of the Stream Service health needs.
type StreamStatusProvider interface {
	Status() domain.StreamState
}

// CircuitBreakerStatus is the wire shape of one tracked breaker.
type CircuitBreakerStatus struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	cbManager *httpclient.CircuitBreakerManager
	stream    StreamStatusProvider
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, stream StreamStatusProvider) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		cbManager: httpclient.DefaultManager,
		stream:    stream,
	}
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns process uptime, stream status, and outbound circuit breaker state.",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// HealthInput is the (empty) request for the health check.
type HealthInput struct{}

// HealthOutput is the response body for the health check.
type HealthOutput struct {
	Body struct {
		Status          string                 `json:"status"`
		Version         string                 `json:"version"`
		UptimeSeconds   float64                `json:"uptimeSeconds"`
		StreamStatus    string                 `json:"streamStatus,omitempty"`
		StreamQueueLen  int                    `json:"streamQueueLength,omitempty"`
		CircuitBreakers []CircuitBreakerStatus `json:"circuitBreakers,omitempty"`
	}
}

// GetHealth returns the health status of the process.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	out := &HealthOutput{}
	out.Body.Status = "healthy"
	out.Body.Version = h.version
	out.Body.UptimeSeconds = time.Since(h.startTime).Seconds()

	if h.stream != nil {
		state := h.stream.Status()
		out.Body.StreamStatus = string(state.Phase)
		out.Body.StreamQueueLen = state.QueueLength
	}

	if h.cbManager != nil {
		stats := h.cbManager.GetAllStats()
		breakers := make([]CircuitBreakerStatus, 0, len(stats))
		for name, s := range stats {
			breakers = append(breakers, CircuitBreakerStatus{
				Name:     name,
				State:    s.State.String(),
				Failures: s.Failures,
			})
		}
		out.Body.CircuitBreakers = breakers
	}

	return out, nil
}
