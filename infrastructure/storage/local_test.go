package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage()
	dest := filepath.Join(t.TempDir(), "nested", "dir", "out.wav")

	err := s.WriteAtomic(ctx, dest, func(tmp string) error {
		assert.Equal(t, filepath.Dir(dest), filepath.Dir(tmp))
		return os.WriteFile(tmp, []byte("data"), 0o644)
	})
	require.NoError(t, err)

	ok, err := s.Exists(ctx, dest)
	require.NoError(t, err)
	assert.True(t, ok)

	size, err := s.Size(ctx, dest)
	require.NoError(t, err)
	assert.EqualValues(t, 4, size)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestWriteAtomicOutputIsWorldReadable(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage()
	dest := filepath.Join(t.TempDir(), "empty.wav")

	// os.Create on an existing file keeps its mode, as WAV encoders do
	err := s.WriteAtomic(ctx, dest, func(tmp string) error {
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		return f.Close()
	})
	require.NoError(t, err)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestWriteAtomicLeavesNothingOnFailure(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage()
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.wav")

	boom := errors.New("encode failed")
	err := s.WriteAtomic(ctx, dest, func(tmp string) error {
		require.NoError(t, os.WriteFile(tmp, []byte("half"), 0o644))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTempDirAndRemoveAll(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage()

	dir, err := s.TempDir(ctx, t.TempDir(), "chunk-*")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), nil, 0o644))

	require.NoError(t, s.RemoveAll(ctx, dir))
	ok, err := s.Exists(ctx, dir)
	require.NoError(t, err)
	assert.False(t, ok)
}
