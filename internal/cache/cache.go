// Package cache is the Cache Service: it hashes action descriptors into a
// content-addressed key, checks whether a rendered clip already exists for
// that key, and maintains the append-only log used for startup
// reconciliation.
package cache

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

const logFileName = "output.jsonl"

// Service owns the content-addressed cache directory.
type Service struct {
	outputDir string

	mu sync.Mutex
}

// New creates a Service rooted at outputDir. The directory must already
// exist.
func New(outputDir string) *Service {
	return &Service{outputDir: outputDir}
}

// SpeakDescriptor is the canonical hash input for a speak action.
type SpeakDescriptor struct {
	PresetID    string         `json:"presetId"`
	InputType   string         `json:"inputType"` // text | audio | audio_transcribe
	Text        string         `json:"text,omitempty"`
	AudioHash   string         `json:"audioHash,omitempty"`
	TTSEngine   string         `json:"ttsEngine,omitempty"`
	TTSSettings map[string]any `json:"ttsSettings,omitempty"` // must not include "emotion"
	Emotion     string         `json:"emotion"`
}

// IdleDescriptor is the canonical hash input for an idle action.
type IdleDescriptor struct {
	PresetID   string `json:"presetId"`
	DurationMs int64  `json:"durationMs"`
	MotionID   string `json:"motionId,omitempty"`
	Emotion    string `json:"emotion,omitempty"`
}

// CombinedDescriptor is the canonical hash input for a combined batch; the
// order of ActionHashes is significant.
type CombinedDescriptor struct {
	PresetID     string   `json:"presetId"`
	ActionHashes []string `json:"actionHashes"`
}

// HashSpeak computes the cache key for a speak descriptor.
func HashSpeak(d SpeakDescriptor) (string, error) {
	return canonicalHash(map[string]any{
		"type":        string(domain.CacheTypeSpeak),
		"presetId":    d.PresetID,
		"inputType":   d.InputType,
		"text":        d.Text,
		"audioHash":   d.AudioHash,
		"ttsEngine":   d.TTSEngine,
		"ttsSettings": d.TTSSettings,
		"emotion":     d.Emotion,
	})
}

// HashIdle computes the cache key for an idle descriptor.
func HashIdle(d IdleDescriptor) (string, error) {
	return canonicalHash(map[string]any{
		"type":       string(domain.CacheTypeIdle),
		"presetId":   d.PresetID,
		"durationMs": d.DurationMs,
		"motionId":   d.MotionID,
		"emotion":    d.Emotion,
	})
}

// HashCombined computes the cache key for a combined batch descriptor.
func HashCombined(d CombinedDescriptor) (string, error) {
	return canonicalHash(map[string]any{
		"type":         string(domain.CacheTypeCombined),
		"presetId":     d.PresetID,
		"actionHashes": d.ActionHashes,
	})
}

// AudioHash hashes raw audio bytes for use as a SpeakDescriptor.AudioHash.
func AudioHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalHash renders v as JSON with all map keys sorted recursively, then
// hashes the result. encoding/json already sorts map[string]any keys, so the
// only extra normalization needed is omitting nil/empty fields, which
// dropEmpty does before marshalling.
func canonicalHash(v map[string]any) (string, error) {
	cleaned := dropEmpty(v)
	data, err := json.Marshal(cleaned)
	if err != nil {
		return "", fmt.Errorf("marshaling cache descriptor: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func dropEmpty(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		switch t := val.(type) {
		case string:
			if t == "" {
				continue
			}
		case nil:
			continue
		case []string:
			if len(t) == 0 {
				continue
			}
		case map[string]any:
			if len(t) == 0 {
				continue
			}
			out[k] = dropEmpty(t)
			continue
		}
		out[k] = val
	}
	return out
}

// OutputPath returns the path a cache entry for hash would live at.
func (s *Service) OutputPath(hash string) string {
	return filepath.Join(s.outputDir, hash+".mp4")
}

// Lookup reports whether a rendered clip already exists for hash.
func (s *Service) Lookup(hash string) (string, bool) {
	path := s.OutputPath(hash)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Append records a new cache entry in the append-only log.
func (s *Service) Append(entry domain.CacheLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.outputDir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening cache log: %w", err)
	}
	defer f.Close()

	entry.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling cache log entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing cache log entry: %w", err)
	}
	return nil
}

// Reconcile reads the log, drops entries whose backing file no longer
// exists or whose line is malformed JSON, and atomically rewrites the log
// with only the surviving entries. Returns the number of entries dropped.
func (s *Service) Reconcile() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logPath := filepath.Join(s.outputDir, logFileName)
	f, err := os.Open(logPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("opening cache log: %w", err)
	}

	var kept []domain.CacheLogEntry
	dropped := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry domain.CacheLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			dropped++
			continue
		}
		if _, err := os.Stat(filepath.Join(s.outputDir, entry.File)); err != nil {
			dropped++
			continue
		}
		kept = append(kept, entry)
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scanning cache log: %w", err)
	}

	if dropped == 0 {
		return 0, nil
	}

	tmp, err := os.CreateTemp(s.outputDir, logFileName+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating reconciled cache log: %w", err)
	}
	for _, entry := range kept {
		data, err := json.Marshal(entry)
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return 0, fmt.Errorf("marshaling reconciled entry: %w", err)
		}
		if _, err := tmp.Write(append(data, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return 0, fmt.Errorf("writing reconciled cache log: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("closing reconciled cache log: %w", err)
	}
	if err := os.Rename(tmp.Name(), logPath); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("renaming reconciled cache log: %w", err)
	}

	return dropped, nil
}
