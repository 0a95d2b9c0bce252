package pipeline

import (
	"context"
	"iter"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/pkg/logger"
	"github.com/Skryldev/speech-enhance/pkg/progress"
)

// WorkerPool processes files concurrently. There is no ordering across files.
type WorkerPool struct {
	pipeline *Pipeline
	workers  int
	log      *logger.Logger
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(p *Pipeline, workers int, log *logger.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &WorkerPool{
		pipeline: p,
		workers:  workers,
		log:      log,
	}
}

// Run consumes files and sends one result per file to the returned channel, which
// is closed when every file is done. After ctx is cancelled the remaining files are
// reported as failed without being processed.
func (wp *WorkerPool) Run(ctx context.Context, files iter.Seq2[model.AudioFile, error], reporter progress.Reporter) <-chan model.FileResult {
	results := make(chan model.FileResult, wp.workers)

	go func() {
		defer close(results)

		var wg sync.WaitGroup
		semaphore := make(chan struct{}, wp.workers)

		for file, err := range files {
			job := &Job{
				ID:       uuid.NewString(),
				File:     file,
				Reporter: reporter,
				Log:      wp.log.With(zap.String("file", file.Path)),
			}
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				results <- wp.pipeline.Reject(job, err)
				continue
			}

			select {
			case <-ctx.Done():
				results <- wp.pipeline.Reject(job, ctx.Err())
				continue
			case semaphore <- struct{}{}:
			}

			wg.Add(1)
			go func(j *Job) {
				defer wg.Done()
				defer func() { <-semaphore }()

				j.Log.Debug("processing file", zap.String("job_id", j.ID))
				res, _ := wp.pipeline.Run(ctx, j)
				results <- res
			}(job)
		}

		wg.Wait()
	}()

	return results
}
