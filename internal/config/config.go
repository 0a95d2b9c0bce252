// Package config assembles the driver configuration from defaults, a YAML file,
// SE_* environment variables and command-line flags, in that order.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/Skryldev/speech-enhance/domain/model"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "SE_"

// Config is the complete driver configuration
type Config struct {
	WavDir     string `yaml:"wav_dir"`
	ScriptFile string `yaml:"script_file"`
	OutputDir  string `yaml:"output_dir"`

	UseGPU bool `yaml:"use_gpu"`
	GPUID  int  `yaml:"gpu_id"` // -1 selects the GPU with the most free memory

	TruncateMinutes float64 `yaml:"truncate_minutes"`
	Mode            int     `yaml:"mode"`
	ModelSelect     string  `yaml:"model_select"`
	StageSelect     int     `yaml:"stage_select"`
	PeakNormalize   bool    `yaml:"peak_normalize"`
	Verbose         bool    `yaml:"verbose"`

	Workers WorkersConfig     `yaml:"workers"`
	Runner  RunnerConfig      `yaml:"runner"`
	VAD     VADConfig         `yaml:"vad"`
	Models  []model.ModelSpec `yaml:"models"`
	Logging LoggingConfig     `yaml:"logging"`

	JournalDir  string `yaml:"journal_dir"`
	MetricsFile string `yaml:"metrics_file"`
}

// WorkersConfig bounds concurrency
type WorkersConfig struct {
	Jobs   int `yaml:"n_jobs"`        // files in flight
	Chunks int `yaml:"chunk_workers"` // chunks in flight per file
	CPU    int `yaml:"cpu_workers"`   // concurrent CPU inferences
}

// RunnerConfig describes the external model runner and device prober
type RunnerConfig struct {
	Command      string        `yaml:"command"`
	Args         []string      `yaml:"args"`
	Timeout      time.Duration `yaml:"timeout"`
	ScratchDir   string        `yaml:"scratch_dir"`
	ProbeCommand string        `yaml:"probe_command"`
}

// VADConfig describes the downstream VAD program
type VADConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	Mode      int      `yaml:"mode"`
	HopLength int      `yaml:"hoplength"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		UseGPU:          true,
		GPUID:           0,
		TruncateMinutes: 10,
		Mode:            int(model.ModeFusion),
		ModelSelect:     "1000h",
		StageSelect:     3,
		PeakNormalize:   true,
		Workers: WorkersConfig{
			Jobs:   1,
			Chunks: 1,
			CPU:    1,
		},
		Runner: RunnerConfig{
			Command:      "python",
			Args:         []string{"decode_model.py"},
			ProbeCommand: "nvidia-smi",
		},
		VAD: VADConfig{
			Command:   "python",
			Args:      []string{"main_get_vad.py"},
			Mode:      1,
			HopLength: 30,
		},
		Models: model.DefaultModels(),
		Logging: LoggingConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return pkgerrors.NewInvalidConfigError("config", path, fmt.Sprintf("failed to read config file: %v", err))
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return pkgerrors.NewInvalidConfigError("config", path, fmt.Sprintf("failed to parse config file: %v", err))
	}
	return nil
}

// LoadEnv applies SE_* variables from environ, falling back to envFile for
// variables environ does not set.
func (c *Config) LoadEnv(environ []string, envFile string) error {
	vars := map[string]string{}
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		if err != nil {
			return pkgerrors.NewInvalidConfigError("env_file", envFile, fmt.Sprintf("failed to read env file: %v", err))
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, EnvPrefix) {
			vars[k] = v
		}
	}
	return c.ApplyEnv(vars)
}

// ApplyEnv applies the SE_* entries of vars.
func (c *Config) ApplyEnv(vars map[string]string) error {
	for _, o := range c.overrides() {
		v, ok := vars[EnvPrefix+strings.ToUpper(o.name)]
		if !ok {
			continue
		}
		if err := o.set(v); err != nil {
			return pkgerrors.NewInvalidConfigError(o.name, v, err.Error())
		}
	}
	return nil
}

// BindFlags registers every command-line flag with its default.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("wav_dir", "", "directory of 16 kHz/16-bit/mono WAV files to enhance")
	fs.StringP("script_file", "S", "", "file listing one WAV path per line")
	fs.String("output_dir", "", "output directory (defaults to --wav_dir)")
	fs.String("use_gpu", strconv.FormatBool(d.UseGPU), "run inference on GPU (true|false)")
	fs.Int("gpu_id", d.GPUID, "GPU index, -1 for the GPU with the most free memory")
	fs.Float64("truncate_minutes", d.TruncateMinutes, "maximum chunk length in minutes")
	fs.Int("mode", d.Mode, "1: IRM, 2: LPS, 3: fusion of IRM and LPS")
	fs.String("model_select", d.ModelSelect, "pre-trained model name")
	fs.Int("stage_select", d.StageSelect, "stage of a multi-stage model")
	fs.Bool("verbose", false, "debug logging with full error chains")
	fs.Int("n_jobs", d.Workers.Jobs, "files processed concurrently")
	fs.Int("chunk_workers", d.Workers.Chunks, "chunks inferred concurrently per file")
	fs.Int("cpu_workers", d.Workers.CPU, "concurrent CPU inferences")
	fs.String("log_file", "", "also write logs to this rotated file")
	fs.String("journal_dir", "", "resume journal directory; unchanged inputs are skipped")
	fs.String("metrics_file", "", "write Prometheus metrics to this textfile at exit")
}

// ApplyFlags copies the flags set on the command line onto c.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	for _, o := range c.overrides() {
		f := fs.Lookup(o.name)
		if f == nil || !f.Changed {
			continue
		}
		if err := o.set(f.Value.String()); err != nil {
			return pkgerrors.NewInvalidConfigError(o.name, f.Value.String(), err.Error())
		}
	}
	return nil
}

// override maps one flag / env name onto a field
type override struct {
	name string
	set  func(string) error
}

func (c *Config) overrides() []override {
	return []override{
		{"wav_dir", setString(&c.WavDir)},
		{"script_file", setString(&c.ScriptFile)},
		{"output_dir", setString(&c.OutputDir)},
		{"use_gpu", setBool(&c.UseGPU)},
		{"gpu_id", setInt(&c.GPUID)},
		{"truncate_minutes", setFloat(&c.TruncateMinutes)},
		{"mode", setInt(&c.Mode)},
		{"model_select", setString(&c.ModelSelect)},
		{"stage_select", setInt(&c.StageSelect)},
		{"peak_normalize", setBool(&c.PeakNormalize)},
		{"verbose", setBool(&c.Verbose)},
		{"n_jobs", setInt(&c.Workers.Jobs)},
		{"chunk_workers", setInt(&c.Workers.Chunks)},
		{"cpu_workers", setInt(&c.Workers.CPU)},
		{"runner_command", setString(&c.Runner.Command)},
		{"runner_timeout", setDuration(&c.Runner.Timeout)},
		{"scratch_dir", setString(&c.Runner.ScratchDir)},
		{"log_file", setString(&c.Logging.File)},
		{"journal_dir", setString(&c.JournalDir)},
		{"metrics_file", setString(&c.MetricsFile)},
	}
}

func setString(p *string) func(string) error {
	return func(v string) error {
		*p = v
		return nil
	}
}

func setBool(p *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("not a boolean")
		}
		*p = b
		return nil
	}
}

func setInt(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not an integer")
		}
		*p = n
		return nil
	}
}

func setFloat(p *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("not a number")
		}
		*p = f
		return nil
	}
}

func setDuration(p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not a duration")
		}
		*p = d
		return nil
	}
}

// Validate checks ranges. Model and stage names are checked by the invoker, which
// reports them as model load failures.
func (c *Config) Validate() error {
	if (c.WavDir == "") == (c.ScriptFile == "") {
		return pkgerrors.NewInvalidConfigError("wav_dir", c.WavDir, "exactly one of --wav_dir and -S is required")
	}
	if c.ScriptFile != "" && c.OutputDir == "" {
		return pkgerrors.NewInvalidConfigError("output_dir", "", "required with -S")
	}
	if math.IsNaN(c.TruncateMinutes) || math.IsInf(c.TruncateMinutes, 0) || c.TruncateMinutes <= 0 {
		return pkgerrors.NewInvalidConfigError("truncate_minutes", c.TruncateMinutes, "must be positive")
	}
	if !model.Mode(c.Mode).Valid() {
		return pkgerrors.NewInvalidConfigError("mode", c.Mode, "must be 1, 2 or 3")
	}
	if c.GPUID < -1 {
		return pkgerrors.NewInvalidConfigError("gpu_id", c.GPUID, "must be a GPU index or -1")
	}
	if c.Workers.Jobs < 1 {
		return pkgerrors.NewInvalidConfigError("n_jobs", c.Workers.Jobs, "must be at least 1")
	}
	if c.Workers.Chunks < 1 {
		return pkgerrors.NewInvalidConfigError("chunk_workers", c.Workers.Chunks, "must be at least 1")
	}
	if c.Workers.CPU < 1 {
		return pkgerrors.NewInvalidConfigError("cpu_workers", c.Workers.CPU, "must be at least 1")
	}
	if c.Runner.Command == "" {
		return pkgerrors.NewInvalidConfigError("runner.command", "", "must not be empty")
	}
	if c.Runner.Timeout < 0 {
		return pkgerrors.NewInvalidConfigError("runner.timeout", c.Runner.Timeout, "must not be negative")
	}
	if len(c.Models) == 0 {
		return pkgerrors.NewInvalidConfigError("models", nil, "at least one model is required")
	}
	return nil
}

// ResolveOutputDir defaults the output directory to the input directory and
// reports whether it did so.
func (c *Config) ResolveOutputDir() bool {
	if c.OutputDir != "" {
		return false
	}
	c.OutputDir = c.WavDir
	return true
}

// Inference returns the model selection for a run
func (c *Config) Inference() model.InferenceOptions {
	return model.InferenceOptions{
		Mode:   model.Mode(c.Mode),
		Model:  c.ModelSelect,
		Stage:  c.StageSelect,
		UseGPU: c.UseGPU,
		GPUID:  c.GPUID,
	}
}
