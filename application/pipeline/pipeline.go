package pipeline

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/domain/ports"
	"github.com/Skryldev/speech-enhance/infrastructure/metrics"
	"github.com/Skryldev/speech-enhance/infrastructure/wavio"
	"github.com/Skryldev/speech-enhance/pkg/logger"
	"github.com/Skryldev/speech-enhance/pkg/progress"
)

// Options are the per-run settings shared by every file
type Options struct {
	Inference       model.InferenceOptions
	TruncateMinutes float64
	OutputDir       string
	// ChunkWorkers bounds concurrent chunk inferences within one file.
	ChunkWorkers  int
	PeakNormalize bool
}

// Job holds the state of one input file
type Job struct {
	ID       string
	File     model.AudioFile
	Reporter progress.Reporter
	Log      *logger.Logger
}

// Deps are the collaborators of a Pipeline. Journal and Metrics are optional.
type Deps struct {
	Audio       ports.AudioStore
	Storage     ports.StorageProvider
	Invoker     *Invoker
	Reassembler *Reassembler
	Journal     ports.Journal
	Metrics     ports.Metrics
	Log         *logger.Logger
}

// Pipeline drives one file through Enumerated, Chunked, Inferring, Reassembling
// and finally Written, Skipped or Failed.
type Pipeline struct {
	deps Deps
	opts Options
}

// NewPipeline creates the per-file pipeline
func NewPipeline(deps Deps, opts Options) *Pipeline {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Reassembler == nil {
		deps.Reassembler = NewReassembler(deps.Audio, deps.Storage)
	}
	if opts.ChunkWorkers <= 0 {
		opts.ChunkWorkers = 1
	}
	return &Pipeline{deps: deps, opts: opts}
}

// OutputPath mirrors the file's relative path under the output directory.
func (p *Pipeline) OutputPath(f model.AudioFile) string {
	rel := f.RelPath
	if rel == "" {
		rel = filepath.Base(f.Path)
	}
	return filepath.Join(p.opts.OutputDir, rel)
}

// Run processes job.File. The returned result carries the same error.
func (p *Pipeline) Run(ctx context.Context, job *Job) (model.FileResult, error) {
	start := time.Now()
	out := p.OutputPath(job.File)
	res := model.FileResult{JobID: job.ID, File: job.File, OutputPath: out}
	job.report(progress.StageEnumerated, 0, 0, "")

	fp, skip := p.upToDate(ctx, job, out)
	if skip {
		res.Skipped = true
		res.Duration = time.Since(start)
		job.report(progress.StageSkipped, 0, 0, "output up to date")
		p.deps.Metrics.FileFinished(string(progress.StageSkipped))
		job.log().Info("skipping file, output up to date", zap.String("output", out))
		return res, nil
	}

	chunks, fallbacks, err := p.process(ctx, job, out)
	res.Chunks = chunks
	res.Fallbacks = fallbacks
	res.Duration = time.Since(start)
	if err != nil {
		return p.fail(job, res, fp, err), err
	}

	p.recordWritten(ctx, job, out, fp)
	job.report(progress.StageWritten, chunks, chunks, out)
	p.deps.Metrics.FileFinished(string(progress.StageWritten))
	job.log().Info("file enhanced",
		zap.String("output", out),
		zap.Int("chunks", chunks),
		zap.Int("fallbacks", fallbacks),
		zap.Duration("elapsed", res.Duration),
	)
	return res, nil
}

// Reject finishes a file that failed before processing, e.g. during enumeration.
func (p *Pipeline) Reject(job *Job, err error) model.FileResult {
	res := model.FileResult{JobID: job.ID, File: job.File}
	if job.File.RelPath != "" {
		res.OutputPath = p.OutputPath(job.File)
	}
	return p.fail(job, res, 0, err)
}

func (p *Pipeline) process(ctx context.Context, job *Job, out string) (chunks, fallbacks int, err error) {
	samples, err := p.deps.Audio.ReadSamples(job.File.Path)
	if err != nil {
		return 0, 0, err
	}
	file := job.File
	file.NumSamples = len(samples)
	if p.opts.PeakNormalize {
		wavio.PeakNormalize(samples)
	}

	plan, err := Schedule(file, p.opts.TruncateMinutes)
	if err != nil {
		return 0, 0, err
	}
	for i := range plan {
		plan[i].Samples = samples[plan[i].Start:plan[i].End]
	}
	job.report(progress.StageChunked, 0, len(plan), "")
	job.log().Debug("file chunked",
		zap.Int("chunks", len(plan)),
		zap.Int("samples", file.NumSamples),
		zap.Duration("duration", file.Duration()),
	)

	results, fallbacks, cause := p.infer(ctx, job, plan)
	if cause == nil {
		// chunks skipped on cancellation report no error of their own
		cause = ctx.Err()
	}
	if cause == nil {
		job.report(progress.StageReassembling, len(plan), len(plan), "")
	}
	output, err := p.deps.Reassembler.Assemble(file, out, results, cause)
	if err != nil {
		return len(plan), fallbacks, err
	}
	if err := p.deps.Reassembler.Write(ctx, output); err != nil {
		return len(plan), fallbacks, err
	}
	return len(plan), fallbacks, nil
}

// infer runs chunks concurrently and buffers results by ordinal. After the first
// unrecoverable failure no new chunk starts; chunks already running finish on the
// parent context and their results are dropped with the file.
func (p *Pipeline) infer(ctx context.Context, job *Job, plan []model.Chunk) ([]*model.EnhancementResult, int, error) {
	results := make([]*model.EnhancementResult, len(plan))
	var done, fallbacks atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.ChunkWorkers)
	job.report(progress.StageInferring, 0, len(plan), "")

	for _, c := range plan {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, fellBack, err := p.deps.Invoker.Invoke(ctx, c, p.opts.Inference)
			if fellBack {
				fallbacks.Add(1)
			}
			if err != nil {
				job.log().Warn("chunk failed", zap.Int("chunk", c.Index), zap.Error(err))
				return err
			}
			results[c.Index] = res
			n := done.Add(1)
			job.report(progress.StageInferring, int(n), len(plan), c.String())
			return nil
		})
	}
	err := g.Wait()
	return results, int(fallbacks.Load()), err
}

func (p *Pipeline) upToDate(ctx context.Context, job *Job, out string) (uint64, bool) {
	if p.deps.Journal == nil {
		return 0, false
	}
	fp, err := p.deps.Journal.Fingerprint(job.File.Path)
	if err != nil {
		job.log().Warn("failed to fingerprint input", zap.Error(err))
		return 0, false
	}
	entry, err := p.deps.Journal.Get(job.File.RelPath)
	if err != nil || entry == nil {
		return fp, false
	}
	if entry.State != string(progress.StageWritten) || entry.Fingerprint != fp {
		return fp, false
	}
	exists, err := p.deps.Storage.Exists(ctx, out)
	if err != nil || !exists {
		job.log().Debug("journal entry without output, enhancing again", zap.String("output", out))
		return fp, false
	}
	size, err := p.deps.Storage.Size(ctx, out)
	if err != nil || size != entry.OutputSize {
		return fp, false
	}
	return fp, true
}

// recordWritten journals a written output. An output whose size cannot be read is
// not journalled, so the next run enhances it again.
func (p *Pipeline) recordWritten(ctx context.Context, job *Job, out string, fp uint64) {
	if p.deps.Journal == nil {
		return
	}
	size, err := p.deps.Storage.Size(ctx, out)
	if err != nil {
		job.log().Warn("failed to stat output, journal not updated", zap.String("output", out), zap.Error(err))
		return
	}
	p.record(job, ports.JournalEntry{
		RelPath:     job.File.RelPath,
		Fingerprint: fp,
		OutputSize:  size,
		State:       string(progress.StageWritten),
	})
}

func (p *Pipeline) fail(job *Job, res model.FileResult, fp uint64, err error) model.FileResult {
	res.Err = err
	if job.File.RelPath != "" {
		p.record(job, ports.JournalEntry{
			RelPath:     job.File.RelPath,
			Fingerprint: fp,
			State:       string(progress.StageFailed),
			Reason:      err.Error(),
		})
	}
	job.report(progress.StageFailed, 0, 0, err.Error())
	p.deps.Metrics.FileFinished(string(progress.StageFailed))
	job.log().Error("file failed", zap.String("path", job.File.Path), zap.Error(err))
	return res
}

func (p *Pipeline) record(job *Job, entry ports.JournalEntry) {
	if p.deps.Journal == nil {
		return
	}
	entry.UpdatedAt = time.Now().UTC()
	if err := p.deps.Journal.Put(entry); err != nil {
		job.log().Warn("failed to update journal", zap.Error(err))
	}
}

func (j *Job) log() *logger.Logger {
	if j.Log == nil {
		return logger.Nop()
	}
	return j.Log
}

// report is a helper to emit progress updates
func (j *Job) report(stage progress.Stage, chunk, chunks int, msg string) {
	if j.Reporter == nil {
		return
	}
	j.Reporter.Report(progress.Update{
		JobID:     j.ID,
		File:      j.File.Path,
		Stage:     stage,
		Chunk:     chunk,
		Chunks:    chunks,
		Message:   msg,
		Timestamp: time.Now(),
	})
}
