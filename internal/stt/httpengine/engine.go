// Package httpengine implements the STT engine adapter over an HTTP
// transcription endpoint, using the project's resilient HTTP client.
package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jmylchreest/avatarstreamd/pkg/httpclient"
)

// Config configures an Engine.
type Config struct {
	BaseURL string
	APIKey  string
}

// Engine transcribes an audio file to text via an HTTP STT service.
type Engine struct {
	cfg    Config
	client *httpclient.Client
}

// New creates an Engine backed by client.
func New(cfg Config, client *httpclient.Client) *Engine {
	return &Engine{cfg: cfg, client: client}
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads audioPath and returns the recognized text.
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("opening audio file for transcription: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("building transcription request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("reading audio file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/v1/transcribe", &body)
	if err != nil {
		return "", fmt.Errorf("building stt request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.DoWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("calling stt engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt engine returned status %d", resp.StatusCode)
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding stt response: %w", err)
	}
	return out.Text, nil
}
