package usecase

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Skryldev/speech-enhance/application/pipeline"
	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/domain/ports"
	"github.com/Skryldev/speech-enhance/infrastructure/runner"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
	"github.com/Skryldev/speech-enhance/pkg/logger"
	"github.com/Skryldev/speech-enhance/pkg/progress"
)

// EnhanceService is the batch enhancement driver
type EnhanceService struct {
	enumerator *pipeline.Enumerator
	invoker    *pipeline.Invoker
	deps       pipeline.Deps
	vad        *runner.VADRunner
	reporter   progress.Reporter
	log        *logger.Logger
	workers    int
	chunks     int
}

// Config holds EnhanceService dependencies
type Config struct {
	Enhancer ports.Enhancer
	Prober   ports.DeviceProber
	Audio    ports.AudioStore
	Storage  ports.StorageProvider
	// Journal enables skipping unchanged inputs; optional
	Journal  ports.Journal
	Metrics  ports.Metrics
	Reporter progress.Reporter
	Logger   *logger.Logger
	// VAD forwards the vad subcommand; optional
	VAD *runner.VADRunner

	Models       []model.ModelSpec
	Workers      int
	ChunkWorkers int
	CPUWorkers   int
	ScratchDir   string
}

// RunRequest selects the inputs and outputs of one batch
type RunRequest struct {
	WavDir          string
	ScriptFile      string
	OutputDir       string
	TruncateMinutes float64
	PeakNormalize   bool
}

// NewEnhanceService creates a new EnhanceService
func NewEnhanceService(cfg Config) (*EnhanceService, error) {
	if cfg.Enhancer == nil {
		return nil, fmt.Errorf("Enhancer is required")
	}
	if cfg.Audio == nil {
		return nil, fmt.Errorf("AudioStore is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("StorageProvider is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = progress.NoopReporter{}
	}
	models := cfg.Models
	if len(models) == 0 {
		models = model.DefaultModels()
	}

	inv := pipeline.NewInvoker(pipeline.InvokerConfig{
		Models:     models,
		CPUWorkers: cfg.CPUWorkers,
		ScratchDir: cfg.ScratchDir,
	}, cfg.Enhancer, cfg.Prober, cfg.Storage, cfg.Metrics, log)

	return &EnhanceService{
		enumerator: pipeline.NewEnumerator(cfg.Audio, log),
		invoker:    inv,
		deps: pipeline.Deps{
			Audio:       cfg.Audio,
			Storage:     cfg.Storage,
			Invoker:     inv,
			Reassembler: pipeline.NewReassembler(cfg.Audio, cfg.Storage),
			Journal:     cfg.Journal,
			Metrics:     cfg.Metrics,
			Log:         log,
		},
		vad:      cfg.VAD,
		reporter: reporter,
		log:      log,
		workers:  max(cfg.Workers, 1),
		chunks:   max(cfg.ChunkWorkers, 1),
	}, nil
}

// Run enhances every input of req. Model, stage and device are validated before
// any inference. The summary is returned even when files failed; the error then
// combines every file failure.
func (s *EnhanceService) Run(ctx context.Context, req RunRequest, opts ...ports.Option) (*model.BatchSummary, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := s.log.With(zap.String("run_id", runID))
	ctx = logger.WithContext(ctx, log)

	options := model.DefaultInferenceOptions()
	for _, o := range opts {
		o(&options)
	}

	files, err := s.source(req)
	if err != nil {
		return nil, err
	}
	if _, err := pipeline.ChunkLength(req.TruncateMinutes, model.SampleRate); err != nil {
		return nil, err
	}
	options, err = s.invoker.Prepare(ctx, options)
	if err != nil {
		log.Error("cannot start enhancement", zap.Error(err))
		return nil, err
	}

	device := model.CPU
	if options.UseGPU {
		device = model.GPU(options.GPUID)
	}
	log.Info("starting enhancement",
		zap.String("mode", options.Mode.Description()),
		zap.String("model", options.Model),
		zap.Int("stage", options.Stage),
		zap.Stringer("device", device),
		zap.Float64("truncate_minutes", req.TruncateMinutes),
		zap.String("output_dir", req.OutputDir),
	)

	deps := s.deps
	deps.Log = log
	p := pipeline.NewPipeline(deps, pipeline.Options{
		Inference:       options,
		TruncateMinutes: req.TruncateMinutes,
		OutputDir:       req.OutputDir,
		ChunkWorkers:    s.chunks,
		PeakNormalize:   req.PeakNormalize,
	})
	pool := pipeline.NewWorkerPool(p, s.workers, log)

	summary := &model.BatchSummary{RunID: runID}
	var errs error
	for res := range pool.Run(ctx, files, s.reporter) {
		summary.Results = append(summary.Results, res)
		if res.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", res.File.Path, res.Err))
		}
	}
	summary.Elapsed = time.Since(start)

	log.Info("enhancement finished",
		zap.Int("written", summary.Written()),
		zap.Int("skipped", summary.Skipped()),
		zap.Int("failed", summary.Failed()),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, errs
}

// RunVAD forwards a voice activity detection pass to the external program.
func (s *EnhanceService) RunVAD(ctx context.Context, opts runner.VADOptions) error {
	if s.vad == nil {
		return pkgerrors.NewInvalidConfigError("vad.command", "", "no VAD runner configured")
	}
	return s.vad.Run(ctx, opts)
}

func (s *EnhanceService) source(req RunRequest) (iter.Seq2[model.AudioFile, error], error) {
	switch {
	case req.WavDir != "" && req.ScriptFile != "":
		return nil, pkgerrors.NewInvalidConfigError("wav_dir", req.WavDir, "give either a directory or a script file, not both")
	case req.WavDir != "":
		return s.enumerator.Dir(req.WavDir), nil
	case req.ScriptFile != "":
		return s.enumerator.ScriptFile(req.ScriptFile), nil
	default:
		return nil, pkgerrors.NewInvalidConfigError("wav_dir", "", "an input directory or script file is required")
	}
}
