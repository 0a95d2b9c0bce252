package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/infrastructure/wavio"
)

// ramp returns n distinct non-zero samples so reordering shows up in comparisons
func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i%20000 + 1)
	}
	return out
}

func writeFixture(t *testing.T, path string, samples []int16) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, wavio.NewStore().WriteWAV(path, model.SampleRate, samples))
}

// writeRawFixture writes a WAV with an arbitrary format
func writeRawFixture(t *testing.T, path string, sampleRate, channels int, frames int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           make([]int, frames*channels),
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func readOutput(t *testing.T, path string) []int16 {
	t.Helper()
	samples, err := wavio.NewStore().ReadSamples(path)
	require.NoError(t, err)
	return wavio.FloatToInt16(samples)
}
