package pipeline

import (
	"context"

	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/domain/ports"
	"github.com/Skryldev/speech-enhance/infrastructure/wavio"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
)

// Reassembler joins per-chunk results into one output waveform
type Reassembler struct {
	audio   ports.AudioStore
	storage ports.StorageProvider
}

// NewReassembler creates a reassembler
func NewReassembler(audio ports.AudioStore, storage ports.StorageProvider) *Reassembler {
	return &Reassembler{audio: audio, storage: storage}
}

// Assemble concatenates results in ordinal order. results[i] must hold chunk i;
// any gap fails the whole file with cause attached.
func (r *Reassembler) Assemble(file model.AudioFile, outputPath string, results []*model.EnhancementResult, cause error) (*model.OutputFile, error) {
	var missing []int
	total := 0
	for i, res := range results {
		if res == nil || res.ChunkIndex != i {
			missing = append(missing, i)
			continue
		}
		total += len(res.Samples)
	}
	if len(missing) > 0 || cause != nil {
		return nil, pkgerrors.NewPartialResultError(file.Path, missing, cause)
	}

	joined := make([]float32, 0, total)
	for i, res := range results {
		joined = append(joined, res.Samples...)
		results[i] = nil
	}

	return &model.OutputFile{
		Path:       outputPath,
		RelPath:    file.RelPath,
		SampleRate: model.SampleRate,
		Samples:    wavio.FloatToInt16(joined),
	}, nil
}

// Write stores out atomically. The destination either keeps its previous content
// or holds the complete new waveform.
func (r *Reassembler) Write(ctx context.Context, out *model.OutputFile) error {
	err := r.storage.WriteAtomic(ctx, out.Path, func(tmp string) error {
		return r.audio.WriteWAV(tmp, out.SampleRate, out.Samples)
	})
	if err != nil {
		if pkgerrors.CodeOf(err) != "" {
			return err
		}
		return pkgerrors.NewIOError(out.Path, "failed to write output", err)
	}
	return nil
}
