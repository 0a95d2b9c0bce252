package pipeline

import (
	"math"

	"github.com/Skryldev/speech-enhance/domain/model"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
)

// ChunkLength is floor(truncateMinutes * 60 * sampleRate) samples.
func ChunkLength(truncateMinutes float64, sampleRate int) (int, error) {
	if math.IsNaN(truncateMinutes) || math.IsInf(truncateMinutes, 0) || truncateMinutes <= 0 {
		return 0, pkgerrors.NewInvalidConfigError("truncate_minutes", truncateMinutes, "must be a positive number of minutes")
	}
	l := math.Floor(truncateMinutes * 60 * float64(sampleRate))
	if l < 1 {
		return 0, pkgerrors.NewInvalidConfigError("truncate_minutes", truncateMinutes, "yields an empty chunk")
	}
	if l > math.MaxInt32 {
		l = math.MaxInt32
	}
	return int(l), nil
}

// Schedule splits file into contiguous chunks of at most truncateMinutes each.
// Chunk i covers [i*L, min((i+1)*L, N)); a zero-sample file gets one empty chunk.
func Schedule(file model.AudioFile, truncateMinutes float64) ([]model.Chunk, error) {
	sr := file.SampleRate
	if sr <= 0 {
		sr = model.SampleRate
	}
	l, err := ChunkLength(truncateMinutes, sr)
	if err != nil {
		return nil, err
	}

	n := file.NumSamples
	if n <= l {
		return []model.Chunk{{FilePath: file.Path, Index: 0, Start: 0, End: n}}, nil
	}

	count := (n + l - 1) / l
	chunks := make([]model.Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * l
		chunks = append(chunks, model.Chunk{
			FilePath: file.Path,
			Index:    i,
			Start:    start,
			End:      min(start+l, n),
		})
	}
	return chunks, nil
}
