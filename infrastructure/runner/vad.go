package runner

import (
	"context"

	"github.com/Skryldev/speech-enhance/domain/ports"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
	"github.com/Skryldev/speech-enhance/pkg/logger"
	"go.uber.org/zap"
)

// VADOptions are the flags of the downstream voice activity detection program
type VADOptions struct {
	WavDir    string
	OutputDir string
	Mode      int // aggressiveness 0..3
	HopLength int // milliseconds
	Jobs      int
}

// Validate checks the flag ranges the VAD program accepts.
func (o VADOptions) Validate() error {
	if o.WavDir == "" {
		return pkgerrors.NewInvalidConfigError("wav_dir", o.WavDir, "required")
	}
	if o.OutputDir == "" {
		return pkgerrors.NewInvalidConfigError("output_dir", o.OutputDir, "required")
	}
	if o.Mode < 0 || o.Mode > 3 {
		return pkgerrors.NewInvalidConfigError("mode", o.Mode, "aggressiveness must be 0..3")
	}
	if o.HopLength <= 0 {
		return pkgerrors.NewInvalidConfigError("hoplength", o.HopLength, "must be positive")
	}
	if o.Jobs <= 0 {
		return pkgerrors.NewInvalidConfigError("n_jobs", o.Jobs, "must be positive")
	}
	return nil
}

// VADRunner forwards a VAD invocation to the external program
type VADRunner struct {
	command string
	args    []string
	exec    ports.CommandExecutor
	log     *logger.Logger
}

// NewVADRunner creates a forwarder for command with leading args
func NewVADRunner(command string, args []string, exec ports.CommandExecutor, log *logger.Logger) *VADRunner {
	if log == nil {
		log = logger.Nop()
	}
	return &VADRunner{command: command, args: args, exec: exec, log: log}
}

// Run validates opts and runs the VAD program once over the whole directory.
func (r *VADRunner) Run(ctx context.Context, opts VADOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if r.command == "" {
		return pkgerrors.NewInvalidConfigError("vad.command", "", "VAD command must not be empty")
	}

	args := NewFlagBuilder(r.args...).
		String("wav_dir", opts.WavDir).
		String("output_dir", opts.OutputDir).
		Int("mode", opts.Mode).
		Int("hoplength", opts.HopLength).
		Int("n_jobs", opts.Jobs).
		Build()

	r.log.Info("running voice activity detection",
		zap.String("wav_dir", opts.WavDir),
		zap.String("output_dir", opts.OutputDir),
		zap.Int("mode", opts.Mode),
	)
	_, err := r.exec.Execute(ctx, r.command, args, nil)
	return err
}
