package ports

import (
	"context"
	"time"

	"github.com/Skryldev/speech-enhance/domain/model"
)

// EnhanceRequest is one chunk inference call
type EnhanceRequest struct {
	Chunk   model.Chunk
	Options model.InferenceOptions
	Device  model.Device
	// ScratchDir is a per-call directory the enhancer may use; removed afterwards.
	ScratchDir string
}

// Enhancer is the model capability: infer(chunk, mode, model, stage) -> result
type Enhancer interface {
	Enhance(ctx context.Context, req EnhanceRequest) (*model.EnhancementResult, error)
}

// DeviceProber lists the GPUs visible on the host
type DeviceProber interface {
	ListGPUs(ctx context.Context) ([]model.GPUInfo, error)
}

// CommandExecutor runs external programs
type CommandExecutor interface {
	// Execute runs name with args and extra environment, returning stdout
	Execute(ctx context.Context, name string, args []string, env map[string]string) ([]byte, error)
}

// AudioStore reads and writes 16-bit PCM WAV audio
type AudioStore interface {
	// ReadHeader reads format information without loading samples
	ReadHeader(path string) (model.AudioFile, error)

	// ReadSamples loads all samples of path normalised to [-1, 1)
	ReadSamples(path string) ([]float32, error)

	// WriteWAV writes mono 16-bit PCM samples to path
	WriteWAV(path string, sampleRate int, samples []int16) error
}

// StorageProvider abstracts filesystem operations
type StorageProvider interface {
	// Exists checks if a file exists
	Exists(ctx context.Context, path string) (bool, error)

	// Size returns file size in bytes
	Size(ctx context.Context, path string) (int64, error)

	// TempDir creates a scratch directory and returns its path
	TempDir(ctx context.Context, dir, pattern string) (string, error)

	// RemoveAll deletes a directory tree
	RemoveAll(ctx context.Context, path string) error

	// WriteAtomic writes via fn to a temp file next to path and renames it into place
	WriteAtomic(ctx context.Context, path string, fn func(tmpPath string) error) error
}

// JournalEntry records the last outcome for one output
type JournalEntry struct {
	RelPath     string    `json:"rel_path"`
	Fingerprint uint64    `json:"fingerprint"`
	OutputSize  int64     `json:"output_size"`
	State       string    `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Journal remembers which outputs are up to date across runs
type Journal interface {
	Fingerprint(path string) (uint64, error)
	Get(relPath string) (*JournalEntry, error)
	Put(entry JournalEntry) error
	Close() error
}

// Metrics receives driver events
type Metrics interface {
	ChunkInferred(device model.Device, status string, elapsed time.Duration)
	Fallback()
	FileFinished(status string)
}

// Option is the functional option type
type Option func(*model.InferenceOptions)

// WithMode sets the output mode
func WithMode(mode model.Mode) Option {
	return func(o *model.InferenceOptions) {
		o.Mode = mode
	}
}

// WithModel selects the pre-trained model and stage
func WithModel(name string, stage int) Option {
	return func(o *model.InferenceOptions) {
		o.Model = name
		o.Stage = stage
	}
}

// WithGPU enables GPU inference on the given device id
func WithGPU(id int) Option {
	return func(o *model.InferenceOptions) {
		o.UseGPU = true
		o.GPUID = id
	}
}

// WithCPU disables GPU inference
func WithCPU() Option {
	return func(o *model.InferenceOptions) {
		o.UseGPU = false
	}
}
