package cache

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

func TestHashSpeak_CanonicalAndRoundTrips(t *testing.T) {
	d := SpeakDescriptor{PresetID: "p1", InputType: "text", Text: "hello", Emotion: "happy"}

	h1, err := HashSpeak(d)
	require.NoError(t, err)
	h2, err := HashSpeak(d)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "identical descriptors must hash identically")

	other := d
	other.Text = "goodbye"
	h3, err := HashSpeak(other)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3, "different text must hash differently")
}

func TestHashSpeak_EmptyFieldsOmitted(t *testing.T) {
	withEmpty := SpeakDescriptor{PresetID: "p1", InputType: "text", Text: "hi", Emotion: "neutral", AudioHash: ""}
	withoutField := SpeakDescriptor{PresetID: "p1", InputType: "text", Text: "hi", Emotion: "neutral"}

	h1, err := HashSpeak(withEmpty)
	require.NoError(t, err)
	h2, err := HashSpeak(withoutField)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "an explicit empty field must hash the same as an absent one")
}

func TestHashCombined_OrderSensitive(t *testing.T) {
	a, err := HashCombined(CombinedDescriptor{PresetID: "p1", ActionHashes: []string{"x", "y"}})
	require.NoError(t, err)
	b, err := HashCombined(CombinedDescriptor{PresetID: "p1", ActionHashes: []string{"y", "x"}})
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "combined hash must be sensitive to action order")
}

func TestServiceLookupAndAppend(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)

	hash := "deadbeef"
	_, ok := svc.Lookup(hash)
	assert.False(t, ok, "lookup must miss before the file exists")

	require.NoError(t, os.WriteFile(svc.OutputPath(hash), []byte("fake mp4"), 0644))

	path, ok := svc.Lookup(hash)
	require.True(t, ok)
	assert.Equal(t, svc.OutputPath(hash), path)

	require.NoError(t, svc.Append(domain.CacheLogEntry{File: hash + ".mp4", Type: domain.CacheTypeSpeak, Preset: "p1"}))

	data, err := os.ReadFile(dir + "/" + logFileName)
	require.NoError(t, err)
	assert.Contains(t, string(data), hash+".mp4")
}

func TestReconcile_DropsMissingAndMalformedEntries(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)

	require.NoError(t, os.WriteFile(svc.OutputPath("present"), []byte("mp4"), 0644))
	require.NoError(t, svc.Append(domain.CacheLogEntry{File: "present.mp4", Type: domain.CacheTypeIdle, Preset: "p1"}))
	require.NoError(t, svc.Append(domain.CacheLogEntry{File: "missing.mp4", Type: domain.CacheTypeIdle, Preset: "p1"}))

	f, err := os.OpenFile(dir+"/"+logFileName, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	dropped, err := svc.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, 2, dropped, "one missing backing file plus one malformed line")

	data, err := os.ReadFile(dir + "/" + logFileName)
	require.NoError(t, err)
	assert.Contains(t, string(data), "present.mp4")
	assert.NotContains(t, string(data), "missing.mp4")
}

func TestReconcile_NoLogFileIsNotAnError(t *testing.T) {
	svc := New(t.TempDir())
	dropped, err := svc.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, 0, dropped)
}
