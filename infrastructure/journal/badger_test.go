package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/speech-enhance/domain/ports"
)

func TestPutGet(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	defer j.Close()

	got, err := j.Get("a/b.wav")
	require.NoError(t, err)
	assert.Nil(t, got)

	entry := ports.JournalEntry{
		RelPath:     "a/b.wav",
		Fingerprint: 42,
		OutputSize:  1044,
		State:       "written",
		UpdatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, j.Put(entry))

	got, err = j.Get("a/b.wav")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, entry.UpdatedAt.Equal(got.UpdatedAt))
	got.UpdatedAt = entry.UpdatedAt
	assert.Equal(t, entry, *got)

	entry.State = "failed"
	entry.Reason = "boom"
	require.NoError(t, j.Put(entry))
	got, err = j.Get("a/b.wav")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.State)
	assert.Equal(t, "boom", got.Reason)
}

func TestPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Put(ports.JournalEntry{RelPath: "x.wav", State: "written", OutputSize: 10}))
	require.NoError(t, j.Close())

	j, err = Open(dir)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Get("x.wav")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(10), got.OutputSize)
}

func TestFingerprint(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	defer j.Close()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	require.NoError(t, os.WriteFile(a, []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("same"), 0o644))

	fa, err := j.Fingerprint(a)
	require.NoError(t, err)
	fb, err := j.Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	require.NoError(t, os.WriteFile(b, []byte("different"), 0o644))
	fb, err = j.Fingerprint(b)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)

	_, err = j.Fingerprint(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
