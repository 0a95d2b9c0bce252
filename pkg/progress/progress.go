package progress

import (
	"sync"
	"time"
)

// Stage is a state of the per-file state machine
type Stage string

const (
	StageEnumerated   Stage = "enumerated"
	StageChunked      Stage = "chunked"
	StageInferring    Stage = "inferring"
	StageReassembling Stage = "reassembling"
	StageWritten      Stage = "written"
	StageSkipped      Stage = "skipped"
	StageFailed       Stage = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s Stage) Terminal() bool {
	return s == StageWritten || s == StageSkipped || s == StageFailed
}

// Update holds a progress update
type Update struct {
	JobID     string
	File      string
	Stage     Stage
	Chunk     int // chunks done, meaningful while inferring
	Chunks    int
	Message   string
	Timestamp time.Time
}

// Percent is the share of chunks done, 100 for terminal stages.
func (u Update) Percent() float64 {
	if u.Stage.Terminal() {
		return 100
	}
	if u.Chunks == 0 {
		return 0
	}
	return float64(u.Chunk) / float64(u.Chunks) * 100
}

// Reporter is the interface for progress reporting
type Reporter interface {
	Report(update Update)
}

// ChannelReporter sends updates to a channel
type ChannelReporter struct {
	ch chan<- Update
}

// NewChannelReporter creates a reporter that sends updates to ch
func NewChannelReporter(ch chan<- Update) *ChannelReporter {
	return &ChannelReporter{ch: ch}
}

func (r *ChannelReporter) Report(update Update) {
	select {
	case r.ch <- update:
	default: // non-blocking: drop if channel is full
	}
}

// FuncReporter adapts a function to Reporter
type FuncReporter func(Update)

func (f FuncReporter) Report(update Update) { f(update) }

// MultiReporter fans out to multiple reporters
type MultiReporter struct {
	reporters []Reporter
}

func NewMultiReporter(reporters ...Reporter) *MultiReporter {
	return &MultiReporter{reporters: reporters}
}

func (m *MultiReporter) Report(update Update) {
	for _, r := range m.reporters {
		r.Report(update)
	}
}

// NoopReporter discards all updates
type NoopReporter struct{}

func (n NoopReporter) Report(_ Update) {}

// Recorder keeps every update; handy for tests and end-of-run summaries.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *Recorder) Report(update Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

// Stages returns the stage sequence recorded for file.
func (r *Recorder) Stages(file string) []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Stage
	for _, u := range r.updates {
		if u.File == file {
			out = append(out, u.Stage)
		}
	}
	return out
}
