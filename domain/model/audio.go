package model

import (
	"fmt"
	"time"
)

// Expected input format. Anything else is rejected.
const (
	SampleRate  = 16000
	BitDepth    = 16
	NumChannels = 1

	// AnalysisWindow is the model's analysis window in samples. Chunks shorter than
	// half a window cannot be framed and are passed through unenhanced.
	AnalysisWindow   = 512
	MinEnhanceLength = AnalysisWindow / 2
)

// Mode selects which model output is used to rebuild the waveform
type Mode int

const (
	ModePassthrough Mode = 0
	ModeIRM         Mode = 1
	ModeLPS         Mode = 2
	ModeFusion      Mode = 3
)

func (m Mode) String() string {
	switch m {
	case ModePassthrough:
		return "passthrough"
	case ModeIRM:
		return "irm"
	case ModeLPS:
		return "lps"
	case ModeFusion:
		return "fusion"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Valid reports whether m can be requested from the model.
func (m Mode) Valid() bool {
	return m == ModeIRM || m == ModeLPS || m == ModeFusion
}

// Description is the banner logged when a run starts.
func (m Mode) Description() string {
	switch m {
	case ModeIRM:
		return "estimated ideal ratio masks (more conservative)"
	case ModeLPS:
		return "estimated log-power-spectrum features (more aggressive)"
	case ModeFusion:
		return "IRM and LPS outputs with equal weights (trade-off)"
	default:
		return m.String()
	}
}

// DeviceKind is where inference runs
type DeviceKind string

const (
	DeviceCPU DeviceKind = "cpu"
	DeviceGPU DeviceKind = "gpu"
)

// Device identifies one inference device
type Device struct {
	Kind DeviceKind
	ID   int // GPU index; ignored for CPU
}

// CPU is the shared CPU device.
var CPU = Device{Kind: DeviceCPU}

// GPU returns the device for a GPU index.
func GPU(id int) Device { return Device{Kind: DeviceGPU, ID: id} }

func (d Device) String() string {
	if d.Kind == DeviceGPU {
		return fmt.Sprintf("gpu:%d", d.ID)
	}
	return string(DeviceCPU)
}

// GPUInfo is one entry reported by the device prober
type GPUInfo struct {
	Index         int
	MemoryTotalMB int
	MemoryFreeMB  int
}

// AudioFile describes an input recording. Only the header is read at enumeration.
type AudioFile struct {
	Path       string // absolute or as given
	RelPath    string // path under the input root, mirrored in the output
	SampleRate int
	BitDepth   int
	Channels   int
	NumSamples int
	Size       int64
}

// Duration of the recording
func (f AudioFile) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(f.NumSamples) / float64(f.SampleRate) * float64(time.Second))
}

// Chunk is a contiguous sample range [Start, End) of an AudioFile
type Chunk struct {
	FilePath string // back reference by path only
	Index    int
	Start    int
	End      int
	Samples  []float32 // loaded input, nil until the scheduler's caller fills it
}

// Len is the chunk length in samples.
func (c Chunk) Len() int { return c.End - c.Start }

// Duration of the chunk at the given sample rate.
func (c Chunk) Duration(sampleRate int) time.Duration {
	return time.Duration(float64(c.Len()) / float64(sampleRate) * float64(time.Second))
}

func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d [%d,%d)", c.Index, c.Start, c.End)
}

// EnhancementResult is the model output for one chunk
type EnhancementResult struct {
	ChunkIndex int
	Mode       Mode
	Device     Device
	Samples    []float32
	Elapsed    time.Duration
}

// OutputFile is the reassembled waveform for one AudioFile
type OutputFile struct {
	Path       string
	RelPath    string
	SampleRate int
	Samples    []int16
}

// InferenceOptions holds the per-run model selection
type InferenceOptions struct {
	Mode   Mode
	Model  string
	Stage  int
	UseGPU bool
	GPUID  int
}

// DefaultInferenceOptions is fusion output from the 1000h model's last stage on GPU 0.
func DefaultInferenceOptions() InferenceOptions {
	return InferenceOptions{
		Mode:   ModeFusion,
		Model:  "1000h",
		Stage:  3,
		UseGPU: true,
	}
}

// ModelSpec describes one available pre-trained model
type ModelSpec struct {
	Name string `yaml:"name"`
	// Stages lists valid stage_select values; empty means single-stage.
	Stages []int `yaml:"stages"`
	// NormalizeFeatures is passed to the runner for models without built-in MVN.
	NormalizeFeatures bool `yaml:"normalize_features"`
}

// MultiStage reports whether stage_select is meaningful for this model.
func (m ModelSpec) MultiStage() bool { return len(m.Stages) > 0 }

// HasStage reports whether stage is valid for the model. Single-stage models accept
// any value since the selection is ignored.
func (m ModelSpec) HasStage(stage int) bool {
	if !m.MultiStage() {
		return true
	}
	for _, s := range m.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// DefaultModels mirrors the pre-trained models shipped with the enhancement runner.
func DefaultModels() []ModelSpec {
	return []ModelSpec{
		{Name: "400h", NormalizeFeatures: true},
		{Name: "1000h", Stages: []int{1, 2, 3}},
	}
}

// FileResult is the outcome for one input file
type FileResult struct {
	JobID      string
	File       AudioFile
	OutputPath string
	Chunks     int
	Fallbacks  int // chunks that needed the CPU retry
	Skipped    bool
	Err        error
	Duration   time.Duration
}

// OK reports whether the file reached Written or Skipped.
func (r FileResult) OK() bool { return r.Err == nil }

// BatchSummary aggregates one run
type BatchSummary struct {
	RunID   string
	Results []FileResult
	Elapsed time.Duration
}

// Failed counts files that did not reach a successful terminal state.
func (s BatchSummary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if !r.OK() {
			n++
		}
	}
	return n
}

// Written counts files enhanced in this run.
func (s BatchSummary) Written() int {
	n := 0
	for _, r := range s.Results {
		if r.OK() && !r.Skipped {
			n++
		}
	}
	return n
}

// Skipped counts files the journal showed as up to date.
func (s BatchSummary) Skipped() int {
	n := 0
	for _, r := range s.Results {
		if r.OK() && r.Skipped {
			n++
		}
	}
	return n
}
