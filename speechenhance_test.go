package speechenhance

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/infrastructure/wavio"
	"github.com/Skryldev/speech-enhance/internal/mocks"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
)

func writeInput(t *testing.T, path string, n int) {
	t.Helper()
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16((i % 200) - 100)
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, wavio.NewStore().WriteWAV(path, model.SampleRate, samples))
}

func testConfig(t *testing.T) *Config {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.WavDir = filepath.Join(dir, "in")
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.JournalDir = filepath.Join(dir, "journal")
	cfg.MetricsFile = filepath.Join(dir, "se.prom")
	cfg.Runner.ScratchDir = filepath.Join(dir, "scratch")
	cfg.TruncateMinutes = 0.01
	return cfg
}

func TestEnhancerRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, filepath.Join(cfg.WavDir, "a.wav"), 20000)
	writeInput(t, filepath.Join(cfg.WavDir, "spk1", "b.wav"), 3000)

	enhancer := &mocks.MockEnhancer{}
	progressCh := make(chan ProgressUpdate, 256)
	var mu sync.Mutex
	failed := 0
	e, err := New(cfg,
		WithLogger(zap.NewNop()),
		WithEnhancer(enhancer),
		WithDeviceProber(&mocks.MockDeviceProber{GPUs: []model.GPUInfo{{Index: 0}}}),
		WithProgress(progressCh),
		WithProgressFunc(func(u ProgressUpdate) {
			if u.Stage == StageFailed {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}),
	)
	require.NoError(t, err)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Written())
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "a.wav"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "spk1", "b.wav"))

	info, err := os.Stat(filepath.Join(cfg.OutputDir, "a.wav"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	metrics, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `se_files_total{status="written"} 2`)

	families, err := e.Gatherer().Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "se_files_total")
	assert.Contains(t, names, "se_chunk_inferences_total")

	written := 0
	for len(progressCh) > 0 {
		if u := <-progressCh; u.Stage == StageWritten {
			written++
		}
	}
	assert.Equal(t, 2, written)
	assert.Zero(t, failed)

	// second run finds both outputs up to date in the journal
	calls := enhancer.CallCount()
	summary, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped())
	assert.Equal(t, calls, enhancer.CallCount())
	require.NoError(t, e.Close())
}

func TestEnhancerRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = 7

	e, err := New(cfg, WithLogger(zap.NewNop()), WithEnhancer(&mocks.MockEnhancer{}))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Run(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidConfig)
}

func TestEnhancerRunVAD(t *testing.T) {
	cfg := DefaultConfig()
	exec := &mocks.MockCommandExecutor{}

	e, err := New(cfg, WithLogger(zap.NewNop()), WithCommandExecutor(exec))
	require.NoError(t, err)
	defer e.Close()

	err = e.RunVAD(context.Background(), VADOptions{WavDir: "/se", OutputDir: "/vad", Mode: 3, HopLength: 30, Jobs: 2})
	require.NoError(t, err)
	require.Len(t, exec.Calls, 1)
	assert.Equal(t, cfg.VAD.Command, exec.Calls[0].Name)
}
