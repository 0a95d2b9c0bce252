// Package speechenhance drives chunked speech enhancement over batches of WAV files.
package speechenhance

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Skryldev/speech-enhance/application/usecase"
	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/domain/ports"
	"github.com/Skryldev/speech-enhance/infrastructure/journal"
	"github.com/Skryldev/speech-enhance/infrastructure/metrics"
	"github.com/Skryldev/speech-enhance/infrastructure/runner"
	"github.com/Skryldev/speech-enhance/infrastructure/storage"
	"github.com/Skryldev/speech-enhance/infrastructure/wavio"
	"github.com/Skryldev/speech-enhance/internal/config"
	"github.com/Skryldev/speech-enhance/pkg/logger"
	"github.com/Skryldev/speech-enhance/pkg/progress"
)

// Re-export types for convenient use by callers
type (
	Config         = config.Config
	Mode           = model.Mode
	BatchSummary   = model.BatchSummary
	FileResult     = model.FileResult
	VADOptions     = runner.VADOptions
	ProgressUpdate = progress.Update
	ProgressStage  = progress.Stage
)

// Re-export mode and stage constants
const (
	ModeIRM    = model.ModeIRM
	ModeLPS    = model.ModeLPS
	ModeFusion = model.ModeFusion

	StageEnumerated   = progress.StageEnumerated
	StageChunked      = progress.StageChunked
	StageInferring    = progress.StageInferring
	StageReassembling = progress.StageReassembling
	StageWritten      = progress.StageWritten
	StageSkipped      = progress.StageSkipped
	StageFailed       = progress.StageFailed
)

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return config.Default()
}

// Option customises an Enhancer beyond its Config
type Option func(*options)

type options struct {
	log       *logger.Logger
	reporters []progress.Reporter
	enhancer  ports.Enhancer
	prober    ports.DeviceProber
	exec      ports.CommandExecutor
}

// WithLogger replaces the logger built from the configuration
func WithLogger(z *zap.Logger) Option {
	return func(o *options) { o.log = logger.FromZap(z) }
}

// WithProgress sends per-file state transitions to ch without blocking
func WithProgress(ch chan<- ProgressUpdate) Option {
	return func(o *options) { o.reporters = append(o.reporters, progress.NewChannelReporter(ch)) }
}

// WithProgressFunc calls fn for every state transition. fn runs on worker
// goroutines and must not block.
func WithProgressFunc(fn func(ProgressUpdate)) Option {
	return func(o *options) { o.reporters = append(o.reporters, progress.FuncReporter(fn)) }
}

// WithEnhancer replaces the process-backed model runner
func WithEnhancer(e ports.Enhancer) Option {
	return func(o *options) { o.enhancer = e }
}

// WithDeviceProber replaces the nvidia-smi prober
func WithDeviceProber(p ports.DeviceProber) Option {
	return func(o *options) { o.prober = p }
}

// WithCommandExecutor replaces how external programs are started
func WithCommandExecutor(e ports.CommandExecutor) Option {
	return func(o *options) { o.exec = e }
}

// Enhancer is the main entry point
type Enhancer struct {
	cfg     *Config
	service *usecase.EnhanceService
	metrics *metrics.Prometheus
	journal *journal.Badger
	log     *logger.Logger
}

// New wires an Enhancer from cfg. cfg is validated by Run, so a configuration
// meant only for RunVAD does not need enhancement inputs.
func New(cfg *Config, opts ...Option) (*Enhancer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log
	if log == nil {
		var err error
		log, err = logger.NewWithOptions(logger.Options{
			Verbose:     cfg.Verbose,
			Development: cfg.Logging.Development,
			File:        cfg.Logging.File,
			MaxSizeMB:   cfg.Logging.MaxSizeMB,
			MaxBackups:  cfg.Logging.MaxBackups,
			MaxAgeDays:  cfg.Logging.MaxAgeDays,
		})
		if err != nil {
			return nil, err
		}
	}

	exec := o.exec
	if exec == nil {
		exec = runner.NewExecutor(log)
	}
	audio := wavio.NewStore()

	enh := o.enhancer
	if enh == nil {
		mr, err := runner.NewModelRunner(runner.ModelRunnerConfig{
			Command: cfg.Runner.Command,
			Args:    cfg.Runner.Args,
			Timeout: cfg.Runner.Timeout,
			Models:  cfg.Models,
		}, exec, audio)
		if err != nil {
			return nil, err
		}
		enh = mr
	}
	prober := o.prober
	if prober == nil {
		prober = runner.NewGPUProber(cfg.Runner.ProbeCommand, exec)
	}

	e := &Enhancer{cfg: cfg, metrics: metrics.New(), log: log}

	svcCfg := usecase.Config{
		Enhancer:     enh,
		Prober:       prober,
		Audio:        audio,
		Storage:      storage.NewLocalStorage(),
		Metrics:      e.metrics,
		Reporter:     reporterOf(o.reporters),
		Logger:       log,
		VAD:          runner.NewVADRunner(cfg.VAD.Command, cfg.VAD.Args, exec, log),
		Models:       cfg.Models,
		Workers:      cfg.Workers.Jobs,
		ChunkWorkers: cfg.Workers.Chunks,
		CPUWorkers:   cfg.Workers.CPU,
		ScratchDir:   cfg.Runner.ScratchDir,
	}
	if cfg.JournalDir != "" {
		j, err := journal.Open(cfg.JournalDir)
		if err != nil {
			return nil, err
		}
		e.journal = j
		svcCfg.Journal = j
	}

	svc, err := usecase.NewEnhanceService(svcCfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.service = svc
	return e, nil
}

func reporterOf(rs []progress.Reporter) progress.Reporter {
	switch len(rs) {
	case 0:
		return nil
	case 1:
		return rs[0]
	}
	return progress.NewMultiReporter(rs...)
}

// Run enhances every input named by the configuration. A non-nil error means at
// least one file did not reach Written or Skipped.
func (e *Enhancer) Run(ctx context.Context) (*BatchSummary, error) {
	if err := e.cfg.Validate(); err != nil {
		e.log.Error("invalid configuration", zap.Error(err))
		return nil, err
	}

	inf := e.cfg.Inference()
	summary, err := e.service.Run(ctx, usecase.RunRequest{
		WavDir:          e.cfg.WavDir,
		ScriptFile:      e.cfg.ScriptFile,
		OutputDir:       e.cfg.OutputDir,
		TruncateMinutes: e.cfg.TruncateMinutes,
		PeakNormalize:   e.cfg.PeakNormalize,
	}, func(o *model.InferenceOptions) { *o = inf })

	if e.cfg.MetricsFile != "" {
		if werr := e.metrics.WriteTextfile(e.cfg.MetricsFile); werr != nil {
			e.log.Warn("failed to write metrics file", zap.String("path", e.cfg.MetricsFile), zap.Error(werr))
		}
	}
	return summary, err
}

// RunVAD forwards a VAD pass to the external detector
func (e *Enhancer) RunVAD(ctx context.Context, opts VADOptions) error {
	return e.service.RunVAD(ctx, opts)
}

// Gatherer exposes the run metrics to callers that serve or push them.
func (e *Enhancer) Gatherer() prometheus.Gatherer {
	return e.metrics.Registry()
}

// Logger returns the logger in use
func (e *Enhancer) Logger() *logger.Logger {
	return e.log
}

// Close releases the journal and flushes the logger
func (e *Enhancer) Close() error {
	var err error
	if e.journal != nil {
		err = multierr.Append(err, e.journal.Close())
	}
	_ = e.log.Sync()
	return err
}
