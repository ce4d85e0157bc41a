// Package httpengine implements the TTS engine adapter over an HTTP text
// synthesis endpoint, using the project's resilient HTTP client (retry +
// circuit breaker) for the network calls.
package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/jmylchreest/avatarstreamd/pkg/httpclient"
)

// Config configures an Engine.
type Config struct {
	BaseURL string
	APIKey  string
}

// Engine synthesizes text to a WAV file via an HTTP TTS service. It reduces
// to the same text+voice -> WAV contract regardless of which concrete
// provider BaseURL points at.
type Engine struct {
	cfg    Config
	client *httpclient.Client
}

// New creates an Engine backed by client.
func New(cfg Config, client *httpclient.Client) *Engine {
	return &Engine{cfg: cfg, client: client}
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize renders text in voice and writes the resulting audio to
// outPath.
func (e *Engine) Synthesize(ctx context.Context, text, voice, outPath string) error {
	body, err := json.Marshal(synthesizeRequest{Text: text, Voice: voice})
	if err != nil {
		return fmt.Errorf("marshaling tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.DoWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("calling tts engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tts engine returned status %d", resp.StatusCode)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating tts output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing tts output: %w", err)
	}
	return nil
}
