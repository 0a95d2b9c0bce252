package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
)

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "se.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("mode: 1\nmodel_select: 400h\ntruncate_minutes: 5\n"), 0o644))
	envPath := filepath.Join(dir, "se.env")
	require.NoError(t, os.WriteFile(envPath, []byte("SE_TRUNCATE_MINUTES=7\nSE_N_JOBS=3\n"), 0o644))

	cmd := newEnhanceCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", cfgPath,
		"--env_file", envPath,
		"--wav_dir", "/in",
		"--n_jobs", "8",
	}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Mode, "from file")
	assert.Equal(t, "400h", cfg.ModelSelect)
	assert.Equal(t, 7.0, cfg.TruncateMinutes, "env overrides file")
	assert.Equal(t, 8, cfg.Workers.Jobs, "flag overrides env")
	assert.Equal(t, "/in", cfg.WavDir)
	assert.True(t, cfg.UseGPU, "default kept")
}

func TestLoadConfigMissingFile(t *testing.T) {
	cmd := newEnhanceCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}))
	_, err := loadConfig(cmd)
	assert.Error(t, err)
}

func TestVADCommandRegistered(t *testing.T) {
	root := newEnhanceCmd()
	root.AddCommand(newVADCmd())
	sub, _, err := root.Find([]string{"vad"})
	require.NoError(t, err)
	assert.Equal(t, "vad", sub.Name())
	assert.NotNil(t, sub.Flags().Lookup("hoplength"))
}

func TestEnhanceCommandRejectsBothSources(t *testing.T) {
	cmd := newEnhanceCmd()
	cmd.SetArgs([]string{"--wav_dir", t.TempDir(), "-S", filepath.Join(t.TempDir(), "list.scp"), "--use_gpu", "false"})
	err := cmd.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidConfig)
}
