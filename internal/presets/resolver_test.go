package presets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

func writePreset(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadAll_NormalizesPoolsAndKeys(t *testing.T) {
	presetsDir := t.TempDir()
	motionsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(motionsDir, "idle"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(motionsDir, "idle", "a.mp4"), []byte("x"), 0644))

	writePreset(t, presetsDir, "avatar-1.yaml", `
id: avatar-1
actions:
  WAVE: idle/a.mp4
idle:
  - path: idle/a.mp4
    size_class: Large
speech:
  Happy:
    large:
      - idle/a.mp4
enter_transitions:
  Happy:
    - idle/a.mp4
exit_transitions:
  Happy:
    - idle/a.mp4
`)

	all, err := LoadAll(presetsDir, motionsDir)
	require.NoError(t, err)
	require.Contains(t, all, "avatar-1")

	p := all["avatar-1"]
	assert.Contains(t, p.ActionsByID, "wave", "action ids are lowercased")
	assert.Contains(t, p.SpeechPool, "happy", "emotion keys are lowercased")
	assert.Len(t, p.IdlePool[domain.SizeClassLarge], 1)
	assert.Contains(t, p.EnterTransitions, "happy")
	assert.Contains(t, p.ExitTransitions, "happy")
}

func TestLoadAll_RejectsReservedActionName(t *testing.T) {
	presetsDir := t.TempDir()
	motionsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(motionsDir, "a.mp4"), []byte("x"), 0644))

	writePreset(t, presetsDir, "avatar-1.yaml", `
id: avatar-1
actions:
  speak: a.mp4
`)

	_, err := LoadAll(presetsDir, motionsDir)
	assert.Error(t, err)
}

func TestLoadAll_RejectsMotionPathEscape(t *testing.T) {
	presetsDir := t.TempDir()
	motionsDir := t.TempDir()

	writePreset(t, presetsDir, "avatar-1.yaml", `
id: avatar-1
actions:
  wave: ../../etc/passwd
`)

	_, err := LoadAll(presetsDir, motionsDir)
	assert.Error(t, err)
}

func TestLoadAll_RequiresPresetID(t *testing.T) {
	presetsDir := t.TempDir()
	motionsDir := t.TempDir()

	writePreset(t, presetsDir, "avatar-1.yaml", `
actions:
  wave: a.mp4
`)

	_, err := LoadAll(presetsDir, motionsDir)
	assert.Error(t, err)
}

func TestRegistry_Get(t *testing.T) {
	p := &domain.Preset{ID: "avatar-1"}
	r := NewRegistry(map[string]*domain.Preset{"avatar-1": p})

	got, ok := r.Get("avatar-1")
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}
