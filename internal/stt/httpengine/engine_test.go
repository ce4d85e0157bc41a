package httpengine

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/avatarstreamd/pkg/httpclient"
)

func TestTranscribe_UploadsAudioAndReturnsText(t *testing.T) {
	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transcribe", r.URL.Path)
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		require.Equal(t, "multipart/form-data", mediaType)

		mr := multipart.NewReader(r.Body, params["boundary"])
		part, err := mr.NextPart()
		require.NoError(t, err)
		gotFilename = part.FileName()
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		assert.Equal(t, "raw-audio-bytes", string(data))

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(transcribeResponse{Text: "hello there"})
	}))
	defer srv.Close()

	audioPath := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("raw-audio-bytes"), 0644))

	e := New(Config{BaseURL: srv.URL}, httpclient.NewWithDefaults())
	text, err := e.Transcribe(t.Context(), audioPath)
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, "clip.wav", gotFilename)
}

func TestTranscribe_NonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	audioPath := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("x"), 0644))

	e := New(Config{BaseURL: srv.URL}, httpclient.NewWithDefaults())
	_, err := e.Transcribe(t.Context(), audioPath)
	assert.Error(t, err)
}

func TestTranscribe_MissingFileIsAnError(t *testing.T) {
	e := New(Config{BaseURL: "http://unused"}, httpclient.NewWithDefaults())
	_, err := e.Transcribe(t.Context(), filepath.Join(t.TempDir(), "nope.wav"))
	assert.Error(t, err)
}
