package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/domain/ports"
	"github.com/Skryldev/speech-enhance/infrastructure/wavio"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
)

// ModelRunnerConfig describes how to launch the external decoding program
type ModelRunnerConfig struct {
	// Command is the program, e.g. "python"
	Command string
	// Args precede the per-chunk flags, e.g. ["decode_model.py"]
	Args []string
	// Timeout bounds one chunk; zero means no limit beyond the caller's context
	Timeout time.Duration
	// Models is consulted for per-model runner flags
	Models []model.ModelSpec
}

// ModelRunner implements ports.Enhancer by shelling out once per chunk. The chunk
// is written as WAV into the request's scratch directory and the enhanced WAV is
// read back from it.
type ModelRunner struct {
	cfg   ModelRunnerConfig
	exec  ports.CommandExecutor
	audio ports.AudioStore
}

var _ ports.Enhancer = (*ModelRunner)(nil)

// NewModelRunner creates the process-backed enhancer
func NewModelRunner(cfg ModelRunnerConfig, exec ports.CommandExecutor, audio ports.AudioStore) (*ModelRunner, error) {
	if cfg.Command == "" {
		return nil, pkgerrors.NewInvalidConfigError("model.command", "", "model runner command must not be empty")
	}
	return &ModelRunner{cfg: cfg, exec: exec, audio: audio}, nil
}

// Enhance runs the model on one chunk.
func (r *ModelRunner) Enhance(ctx context.Context, req ports.EnhanceRequest) (*model.EnhancementResult, error) {
	if req.ScratchDir == "" {
		return nil, pkgerrors.NewInferenceError("no scratch directory for chunk", nil)
	}
	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	in := filepath.Join(req.ScratchDir, "noisy.wav")
	out := filepath.Join(req.ScratchDir, "enhanced.wav")

	if err := r.audio.WriteWAV(in, model.SampleRate, wavio.FloatToInt16(req.Chunk.Samples)); err != nil {
		return nil, pkgerrors.NewInferenceError("failed to stage chunk input", err)
	}

	args := r.buildArgs(req, in, out)
	var env map[string]string
	if req.Device.Kind == model.DeviceCPU {
		// hide every GPU from the degraded path
		env = map[string]string{"CUDA_VISIBLE_DEVICES": ""}
	}

	start := time.Now()
	if _, err := r.exec.Execute(runCtx, r.cfg.Command, args, env); err != nil {
		// caller cancellation is not a model failure; a chunk timeout is
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pkgerrors.NewInferenceError(fmt.Sprintf("model runner failed on %s", req.Device), err)
	}

	af, err := r.audio.ReadHeader(out)
	if err != nil {
		return nil, pkgerrors.NewInferenceError("model runner produced no readable output", err)
	}
	if err := wavio.ValidateFormat(af); err != nil {
		return nil, pkgerrors.NewInferenceError("model runner produced unexpected format", err)
	}

	samples, err := r.audio.ReadSamples(out)
	if err != nil {
		return nil, pkgerrors.NewInferenceError("model runner produced no readable output", err)
	}

	return &model.EnhancementResult{
		ChunkIndex: req.Chunk.Index,
		Mode:       req.Options.Mode,
		Device:     req.Device,
		Samples:    samples,
		Elapsed:    time.Since(start),
	}, nil
}

func (r *ModelRunner) buildArgs(req ports.EnhanceRequest, in, out string) []string {
	opts := req.Options
	b := NewFlagBuilder(r.cfg.Args...).
		String("input", in).
		String("output", out).
		Int("mode", int(opts.Mode)).
		String("model_select", opts.Model).
		Int("stage_select", opts.Stage).
		Bool("use_gpu", req.Device.Kind == model.DeviceGPU)

	if req.Device.Kind == model.DeviceGPU {
		b.Int("gpu_id", req.Device.ID)
	}
	for _, m := range r.cfg.Models {
		if strings.EqualFold(m.Name, opts.Model) {
			b.Switch("normalize_features", m.NormalizeFeatures)
		}
	}
	return b.Build()
}
