package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/domain/ports"
	"github.com/Skryldev/speech-enhance/infrastructure/metrics"
	"github.com/Skryldev/speech-enhance/infrastructure/runner"
	"github.com/Skryldev/speech-enhance/infrastructure/wavio"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
	"github.com/Skryldev/speech-enhance/pkg/logger"
	"github.com/Skryldev/speech-enhance/pkg/retry"
)

// Chunk outcome labels reported to metrics
const (
	StatusSuccess     = "success"
	StatusFailed      = "failed"
	StatusPassthrough = "passthrough"
)

// InvokerConfig tunes the inference invoker
type InvokerConfig struct {
	Models []model.ModelSpec
	// CPUWorkers bounds concurrent CPU inferences, fallbacks included.
	CPUWorkers int
	// ScratchDir is where per-chunk scratch directories are created; empty means os.TempDir.
	ScratchDir string
}

// Invoker runs model inference on chunks. Each GPU is an exclusive lock; the CPU
// has its own bounded pool. A failed first attempt is retried once on CPU.
type Invoker struct {
	enhancer ports.Enhancer
	prober   ports.DeviceProber
	storage  ports.StorageProvider
	metrics  ports.Metrics
	log      *logger.Logger

	models     map[string]model.ModelSpec
	scratchDir string
	cpu        *semaphore.Weighted

	mu   sync.Mutex
	gpus map[int]*semaphore.Weighted
}

// NewInvoker creates an invoker
func NewInvoker(cfg InvokerConfig, enhancer ports.Enhancer, prober ports.DeviceProber, storage ports.StorageProvider, sink ports.Metrics, log *logger.Logger) *Invoker {
	if cfg.CPUWorkers <= 0 {
		cfg.CPUWorkers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	models := make(map[string]model.ModelSpec, len(cfg.Models))
	for _, m := range cfg.Models {
		models[strings.ToLower(m.Name)] = m
	}
	return &Invoker{
		enhancer:   enhancer,
		prober:     prober,
		storage:    storage,
		metrics:    sink,
		log:        log,
		models:     models,
		scratchDir: cfg.ScratchDir,
		cpu:        semaphore.NewWeighted(int64(cfg.CPUWorkers)),
		gpus:       make(map[int]*semaphore.Weighted),
	}
}

// Validate checks mode and model selection without touching any device.
func (v *Invoker) Validate(opts model.InferenceOptions) error {
	if !opts.Mode.Valid() {
		return pkgerrors.NewInvalidConfigError("mode", int(opts.Mode), "mode must be 1 (IRM), 2 (LPS) or 3 (fusion)")
	}
	spec, ok := v.models[strings.ToLower(opts.Model)]
	if !ok {
		return pkgerrors.NewModelLoadError(opts.Model, opts.Stage, "unknown model")
	}
	if !spec.HasStage(opts.Stage) {
		return pkgerrors.NewModelLoadError(opts.Model, opts.Stage, fmt.Sprintf("model has stages %v", spec.Stages))
	}
	return nil
}

// Prepare validates opts and resolves the GPU. It must succeed before any chunk is
// invoked. A GPU id of -1 picks the device with the most free memory.
func (v *Invoker) Prepare(ctx context.Context, opts model.InferenceOptions) (model.InferenceOptions, error) {
	if err := v.Validate(opts); err != nil {
		return opts, err
	}
	// model names match case-insensitively; the runner gets the registered spelling
	opts.Model = v.models[strings.ToLower(opts.Model)].Name
	if !opts.UseGPU {
		return opts, nil
	}
	if v.prober == nil {
		return opts, pkgerrors.NewDeviceError("no device prober configured", nil)
	}

	gpus, err := v.prober.ListGPUs(ctx)
	if err != nil {
		return opts, err
	}
	if opts.GPUID < 0 {
		best, ok := runner.MostFree(gpus)
		if !ok {
			return opts, pkgerrors.NewDeviceError("use_gpu is set but no GPU is visible", nil)
		}
		opts.GPUID = best.Index
		v.log.Info("selected GPU with most free memory",
			zap.Int("gpu_id", best.Index),
			zap.Int("free_mb", best.MemoryFreeMB),
		)
		return opts, nil
	}
	for _, g := range gpus {
		if g.Index == opts.GPUID {
			return opts, nil
		}
	}
	return opts, pkgerrors.NewDeviceError(fmt.Sprintf("gpu_id %d not present (%d visible)", opts.GPUID, len(gpus)), nil)
}

// Invoke enhances one chunk. fellBack reports whether the CPU retry was used.
func (v *Invoker) Invoke(ctx context.Context, chunk model.Chunk, opts model.InferenceOptions) (res *model.EnhancementResult, fellBack bool, err error) {
	if err := v.Validate(opts); err != nil {
		return nil, false, err
	}

	if chunk.Len() < model.MinEnhanceLength {
		v.metrics.ChunkInferred(model.CPU, StatusPassthrough, 0)
		return &model.EnhancementResult{
			ChunkIndex: chunk.Index,
			Mode:       model.ModePassthrough,
			Device:     model.CPU,
			Samples:    append([]float32(nil), chunk.Samples...),
		}, false, nil
	}

	primary := model.CPU
	if opts.UseGPU {
		primary = model.GPU(opts.GPUID)
	}
	log := v.log.With(zap.String("file", chunk.FilePath), zap.Int("chunk", chunk.Index))

	cfg := retry.Config{
		MaxAttempts: 2,
		Retryable: func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			code := pkgerrors.CodeOf(err)
			return code != pkgerrors.ErrCodeModelLoad && code != pkgerrors.ErrCodeInvalidConfig
		},
	}
	err = retry.DoAttempt(ctx, cfg, func(attempt int) error {
		device := primary
		if attempt > 0 {
			device = model.CPU
			fellBack = true
			v.metrics.Fallback()
			log.Warn("retrying chunk on CPU", zap.Error(err))
		}
		var runErr error
		res, runErr = v.runOn(ctx, device, chunk, opts)
		err = runErr
		return runErr
	})
	if err != nil {
		return nil, fellBack, err
	}
	return res, fellBack, nil
}

func (v *Invoker) runOn(ctx context.Context, device model.Device, chunk model.Chunk, opts model.InferenceOptions) (*model.EnhancementResult, error) {
	lock := v.lockFor(device)
	if err := lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer lock.Release(1)

	scratch, err := v.storage.TempDir(ctx, v.scratchDir, "se-chunk-*")
	if err != nil {
		return nil, pkgerrors.NewIOError(v.scratchDir, "failed to create scratch directory", err)
	}
	defer v.storage.RemoveAll(context.WithoutCancel(ctx), scratch)

	start := time.Now()
	res, err := v.enhancer.Enhance(ctx, ports.EnhanceRequest{
		Chunk:      chunk,
		Options:    opts,
		Device:     device,
		ScratchDir: scratch,
	})
	if err == nil {
		err = checkOutput(chunk, res)
	}
	elapsed := time.Since(start)
	if err != nil {
		v.metrics.ChunkInferred(device, StatusFailed, elapsed)
		return nil, err
	}
	v.metrics.ChunkInferred(device, StatusSuccess, elapsed)
	v.log.Debug("chunk enhanced",
		zap.String("file", chunk.FilePath),
		zap.Int("chunk", chunk.Index),
		zap.Stringer("device", device),
		zap.Duration("audio", chunk.Duration(model.SampleRate)),
		zap.Duration("elapsed", elapsed),
	)
	return res, nil
}

func checkOutput(chunk model.Chunk, res *model.EnhancementResult) error {
	if res == nil || (len(res.Samples) == 0 && chunk.Len() > 0) {
		return pkgerrors.NewInferenceError(fmt.Sprintf("empty output for %s", chunk), nil)
	}
	if i := wavio.CheckFinite(res.Samples); i >= 0 {
		return pkgerrors.NewInferenceError(fmt.Sprintf("non-finite sample %d in output for %s", i, chunk), nil)
	}
	return nil
}

func (v *Invoker) lockFor(device model.Device) *semaphore.Weighted {
	if device.Kind != model.DeviceGPU {
		return v.cpu
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.gpus[device.ID]
	if !ok {
		s = semaphore.NewWeighted(1)
		v.gpus[device.ID] = s
	}
	return s
}
