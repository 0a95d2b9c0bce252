package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"invalid format", NewInvalidFormatError("a.wav", "sample rate 8000"), ErrInvalidFormat},
		{"not found", NewNotFoundError("/in", "missing", nil), ErrNotFound},
		{"invalid config", NewInvalidConfigError("truncate_minutes", 0, "must be positive"), ErrInvalidConfig},
		{"device", NewDeviceError("gpu 3 missing", nil), ErrDevice},
		{"model load", NewModelLoadError("400h", 2, "no such stage"), ErrModelLoad},
		{"inference", NewInferenceError("NaN in output", nil), ErrInference},
		{"partial", NewPartialResultError("a.wav", []int{1}, nil), ErrPartialResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("file a.wav: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.target)
			assert.NotErrorIs(t, wrapped, ErrIO)
		})
	}
}

func TestCauseChain(t *testing.T) {
	root := errors.New("exit status 1")
	exec := NewExecError("model runner failed", []string{"--mode", "3"}, 1, "CUDA out of memory", root)
	err := NewInferenceError("chunk 2", exec)

	assert.ErrorIs(t, err, ErrInference)
	assert.ErrorIs(t, err, root)

	got, ok := As[*ExecError](err)
	require.True(t, ok)
	assert.Equal(t, 1, got.ExitCode)
	assert.Equal(t, ErrCodeInference, CodeOf(err))
	assert.Equal(t, ErrCodeExec, CodeOf(exec))
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestWithDoesNotMutate(t *testing.T) {
	base := NewDeviceError("no gpu", nil)
	withField := base.With("gpu_id", 3)

	assert.NotContains(t, base.Fields, "gpu_id")
	assert.Equal(t, 3, withField.Fields["gpu_id"])
}

func TestExecErrorTruncatesStderr(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := NewExecError("failed", nil, 2, string(long), errors.New("boom"))
	assert.Less(t, len(err.Error()), 300)
}
