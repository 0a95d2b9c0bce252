package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/domain/ports"
	"github.com/Skryldev/speech-enhance/infrastructure/wavio"
	"github.com/Skryldev/speech-enhance/internal/mocks"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
)

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--"+flag {
			return args[i+1], true
		}
	}
	return "", false
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == "--"+flag {
			return true
		}
	}
	return false
}

// halving runner: reads --input, writes --output at half amplitude
func halvingRunner(t *testing.T, store *wavio.Store) func(context.Context, string, []string, map[string]string) ([]byte, error) {
	return func(_ context.Context, _ string, args []string, _ map[string]string) ([]byte, error) {
		in, _ := argValue(args, "input")
		out, _ := argValue(args, "output")
		samples, err := store.ReadSamples(in)
		require.NoError(t, err)
		for i := range samples {
			samples[i] /= 2
		}
		return nil, store.WriteWAV(out, model.SampleRate, wavio.FloatToInt16(samples))
	}
}

func TestModelRunnerGPU(t *testing.T) {
	store := wavio.NewStore()
	exec := &mocks.MockCommandExecutor{}
	exec.ExecuteFunc = halvingRunner(t, store)

	r, err := NewModelRunner(ModelRunnerConfig{
		Command: "python",
		Args:    []string{"decode_model.py"},
		Models:  model.DefaultModels(),
	}, exec, store)
	require.NoError(t, err)

	res, err := r.Enhance(context.Background(), ports.EnhanceRequest{
		Chunk:      model.Chunk{FilePath: "a.wav", Index: 2, Start: 0, End: 4, Samples: []float32{0.5, -0.5, 0.25, 0}},
		Options:    model.InferenceOptions{Mode: model.ModeFusion, Model: "1000h", Stage: 3, UseGPU: true, GPUID: 1},
		Device:     model.GPU(1),
		ScratchDir: t.TempDir(),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.ChunkIndex)
	assert.Equal(t, model.ModeFusion, res.Mode)
	assert.Equal(t, model.GPU(1), res.Device)
	assert.Equal(t, []float32{0.25, -0.25, 0.125, 0}, res.Samples)

	require.Len(t, exec.Calls, 1)
	call := exec.Calls[0]
	assert.Equal(t, "python", call.Name)
	assert.Equal(t, "decode_model.py", call.Args[0])
	for flag, want := range map[string]string{
		"mode": "3", "model_select": "1000h", "stage_select": "3", "use_gpu": "true", "gpu_id": "1",
	} {
		got, ok := argValue(call.Args, flag)
		assert.True(t, ok, flag)
		assert.Equal(t, want, got, flag)
	}
	assert.False(t, hasArg(call.Args, "normalize_features"))
	assert.Nil(t, call.Env)
}

func TestModelRunnerCPUHidesGPUs(t *testing.T) {
	store := wavio.NewStore()
	exec := &mocks.MockCommandExecutor{}
	exec.ExecuteFunc = halvingRunner(t, store)

	r, err := NewModelRunner(ModelRunnerConfig{Command: "python", Models: model.DefaultModels()}, exec, store)
	require.NoError(t, err)

	_, err = r.Enhance(context.Background(), ports.EnhanceRequest{
		Chunk:      model.Chunk{Samples: []float32{0.1, 0.2}},
		Options:    model.InferenceOptions{Mode: model.ModeIRM, Model: "400h"},
		Device:     model.CPU,
		ScratchDir: t.TempDir(),
	})
	require.NoError(t, err)

	call := exec.Calls[0]
	assert.Equal(t, map[string]string{"CUDA_VISIBLE_DEVICES": ""}, call.Env)
	got, _ := argValue(call.Args, "use_gpu")
	assert.Equal(t, "false", got)
	assert.False(t, hasArg(call.Args, "gpu_id"))
	assert.True(t, hasArg(call.Args, "normalize_features"))

	_, err = r.Enhance(context.Background(), ports.EnhanceRequest{
		Chunk:      model.Chunk{Samples: []float32{0.1, 0.2}},
		Options:    model.InferenceOptions{Mode: model.ModeIRM, Model: "400H"},
		Device:     model.CPU,
		ScratchDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.True(t, hasArg(exec.Calls[1].Args, "normalize_features"))
}

func TestModelRunnerFailureIsInferenceError(t *testing.T) {
	exec := &mocks.MockCommandExecutor{
		ExecuteFunc: func(context.Context, string, []string, map[string]string) ([]byte, error) {
			return nil, pkgerrors.NewExecError("python execution failed", nil, 1, "CUDA error: out of memory", errors.New("exit status 1"))
		},
	}
	r, err := NewModelRunner(ModelRunnerConfig{Command: "python"}, exec, wavio.NewStore())
	require.NoError(t, err)

	_, err = r.Enhance(context.Background(), ports.EnhanceRequest{
		Chunk:      model.Chunk{Samples: []float32{0.1}},
		Options:    model.InferenceOptions{Mode: model.ModeLPS, Model: "400h"},
		Device:     model.GPU(0),
		ScratchDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, pkgerrors.ErrInference)
	xe, ok := pkgerrors.As[*pkgerrors.ExecError](err)
	require.True(t, ok)
	assert.Contains(t, xe.Stderr, "out of memory")
}

func TestModelRunnerMissingOutput(t *testing.T) {
	exec := &mocks.MockCommandExecutor{}
	r, err := NewModelRunner(ModelRunnerConfig{Command: "python"}, exec, wavio.NewStore())
	require.NoError(t, err)

	_, err = r.Enhance(context.Background(), ports.EnhanceRequest{
		Chunk:      model.Chunk{Samples: []float32{0.1}},
		Device:     model.CPU,
		ScratchDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, pkgerrors.ErrInference)
}

// formatRunner writes n mono samples at the given rate and bit depth to --output
func formatRunner(t *testing.T, sampleRate, bitDepth, n int) func(context.Context, string, []string, map[string]string) ([]byte, error) {
	return func(_ context.Context, _ string, args []string, _ map[string]string) ([]byte, error) {
		out, _ := argValue(args, "output")
		f, err := os.Create(out)
		require.NoError(t, err)
		defer f.Close()

		data := make([]int, n)
		for i := range data {
			data[i] = 1 << (bitDepth - 2)
		}
		enc := wav.NewEncoder(f, sampleRate, bitDepth, 1, 1)
		require.NoError(t, enc.Write(&audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
			Data:           data,
			SourceBitDepth: bitDepth,
		}))
		return nil, enc.Close()
	}
}

func TestModelRunnerRejectsUnexpectedOutputFormat(t *testing.T) {
	for name, tc := range map[string]struct{ rate, depth int }{
		"8 kHz":  {8000, 16},
		"24-bit": {model.SampleRate, 24},
	} {
		t.Run(name, func(t *testing.T) {
			exec := &mocks.MockCommandExecutor{ExecuteFunc: formatRunner(t, tc.rate, tc.depth, 1000)}
			r, err := NewModelRunner(ModelRunnerConfig{Command: "python"}, exec, wavio.NewStore())
			require.NoError(t, err)

			res, err := r.Enhance(context.Background(), ports.EnhanceRequest{
				Chunk:      model.Chunk{Samples: make([]float32, 1000)},
				Options:    model.InferenceOptions{Mode: model.ModeFusion, Model: "1000h", Stage: 3},
				Device:     model.GPU(0),
				ScratchDir: t.TempDir(),
			})
			assert.Nil(t, res)
			assert.ErrorIs(t, err, pkgerrors.ErrInference)
			assert.ErrorIs(t, err, pkgerrors.ErrInvalidFormat)
		})
	}
}

func TestModelRunnerAcceptsExpectedOutputFormat(t *testing.T) {
	exec := &mocks.MockCommandExecutor{ExecuteFunc: formatRunner(t, model.SampleRate, 16, 10)}
	r, err := NewModelRunner(ModelRunnerConfig{Command: "python"}, exec, wavio.NewStore())
	require.NoError(t, err)

	res, err := r.Enhance(context.Background(), ports.EnhanceRequest{
		Chunk:      model.Chunk{Samples: make([]float32, 10)},
		Device:     model.CPU,
		ScratchDir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Len(t, res.Samples, 10)
	assert.Equal(t, float32(0.5), res.Samples[0])
}

func TestModelRunnerCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &mocks.MockCommandExecutor{
		ExecuteFunc: func(context.Context, string, []string, map[string]string) ([]byte, error) {
			cancel()
			return nil, errors.New("signal: killed")
		},
	}
	r, err := NewModelRunner(ModelRunnerConfig{Command: "python", Timeout: time.Minute}, exec, wavio.NewStore())
	require.NoError(t, err)

	_, err = r.Enhance(ctx, ports.EnhanceRequest{
		Chunk:      model.Chunk{Samples: []float32{0.1}},
		Device:     model.CPU,
		ScratchDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, pkgerrors.ErrInference)
}

func TestNewModelRunnerRequiresCommand(t *testing.T) {
	_, err := NewModelRunner(ModelRunnerConfig{}, &mocks.MockCommandExecutor{}, wavio.NewStore())
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidConfig)
}

func TestParseGPUList(t *testing.T) {
	out := []byte("1, 16280, 12000\n0, 16280, 15000\n\n")
	gpus, err := ParseGPUList(out)
	require.NoError(t, err)
	assert.Equal(t, []model.GPUInfo{
		{Index: 0, MemoryTotalMB: 16280, MemoryFreeMB: 15000},
		{Index: 1, MemoryTotalMB: 16280, MemoryFreeMB: 12000},
	}, gpus)

	best, ok := MostFree(gpus)
	require.True(t, ok)
	assert.Equal(t, 0, best.Index)

	_, err = ParseGPUList([]byte("0, 100\n"))
	assert.Error(t, err)
	_, ok = MostFree(nil)
	assert.False(t, ok)
}

func TestGPUProberWrapsFailures(t *testing.T) {
	exec := &mocks.MockCommandExecutor{
		ExecuteFunc: func(context.Context, string, []string, map[string]string) ([]byte, error) {
			return nil, pkgerrors.NewExecError("nvidia-smi not found in PATH", nil, -1, "", errors.New("not found"))
		},
	}
	_, err := NewGPUProber("", exec).ListGPUs(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrDevice)
	assert.Equal(t, DefaultProbeCommand, exec.Calls[0].Name)
}

func TestVADRunnerForwardsFlags(t *testing.T) {
	exec := &mocks.MockCommandExecutor{}
	r := NewVADRunner("python", []string{"main_get_vad.py"}, exec, nil)

	err := r.Run(context.Background(), VADOptions{
		WavDir: "/se", OutputDir: "/vad", Mode: 3, HopLength: 30, Jobs: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"main_get_vad.py",
		"--wav_dir", "/se",
		"--output_dir", "/vad",
		"--mode", "3",
		"--hoplength", "30",
		"--n_jobs", "4",
	}, exec.Calls[0].Args)
}

func TestVADOptionsValidate(t *testing.T) {
	base := VADOptions{WavDir: "/se", OutputDir: "/vad", Mode: 1, HopLength: 30, Jobs: 1}
	require.NoError(t, base.Validate())

	bad := base
	bad.Mode = 4
	assert.ErrorIs(t, bad.Validate(), pkgerrors.ErrInvalidConfig)

	bad = base
	bad.OutputDir = ""
	assert.ErrorIs(t, bad.Validate(), pkgerrors.ErrInvalidConfig)
}

func TestExecutorRunsRealProcess(t *testing.T) {
	e := NewExecutor(nil)

	out, err := e.Execute(context.Background(), "sh", []string{"-c", "printf %s \"$SE_TEST\""}, map[string]string{"SE_TEST": "ok"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))

	_, err = e.Execute(context.Background(), "sh", []string{"-c", "echo bad >&2; exit 3"}, nil)
	xe, ok := pkgerrors.As[*pkgerrors.ExecError](err)
	require.True(t, ok)
	assert.Equal(t, 3, xe.ExitCode)
	assert.Contains(t, xe.Stderr, "bad")

	_, err = e.Execute(context.Background(), filepath.Join(t.TempDir(), "nope"), nil, nil)
	assert.Error(t, err)
}
