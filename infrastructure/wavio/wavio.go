// Package wavio reads and writes 16-bit PCM WAV files through go-audio.
package wavio

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Skryldev/speech-enhance/domain/model"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
)

const (
	pcmFormat = 1
	fullScale = 32768.0
)

// Store implements ports.AudioStore on the local filesystem
type Store struct{}

// NewStore creates a WAV store
func NewStore() *Store {
	return &Store{}
}

// ReadHeader reads format and length without decoding samples.
func (s *Store) ReadHeader(path string) (model.AudioFile, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.AudioFile{}, pkgerrors.NewNotFoundError(path, "audio file does not exist", err)
		}
		return model.AudioFile{}, pkgerrors.NewIOError(path, "failed to open audio file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return model.AudioFile{}, pkgerrors.NewIOError(path, "failed to stat audio file", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return model.AudioFile{}, pkgerrors.NewInvalidFormatError(path, "not a valid WAV file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return model.AudioFile{}, pkgerrors.NewInvalidFormatError(path, fmt.Sprintf("no PCM data chunk: %v", err))
	}

	af := model.AudioFile{
		Path:       path,
		SampleRate: int(dec.SampleRate),
		BitDepth:   int(dec.BitDepth),
		Channels:   int(dec.NumChans),
		Size:       info.Size(),
	}
	if dec.WavAudioFormat != pcmFormat {
		return af, pkgerrors.NewInvalidFormatError(path, fmt.Sprintf("audio format %d is not PCM", dec.WavAudioFormat))
	}
	frameBytes := int64(af.BitDepth/8) * int64(af.Channels)
	if frameBytes > 0 {
		af.NumSamples = int(dec.PCMLen() / frameBytes)
	}
	return af, nil
}

// ValidateFormat rejects anything but 16 kHz, 16-bit, mono.
func ValidateFormat(af model.AudioFile) error {
	switch {
	case af.SampleRate != model.SampleRate:
		return pkgerrors.NewInvalidFormatError(af.Path, fmt.Sprintf("sample rate %d, want %d", af.SampleRate, model.SampleRate))
	case af.BitDepth != model.BitDepth:
		return pkgerrors.NewInvalidFormatError(af.Path, fmt.Sprintf("bit depth %d, want %d", af.BitDepth, model.BitDepth))
	case af.Channels != model.NumChannels:
		return pkgerrors.NewInvalidFormatError(af.Path, fmt.Sprintf("%d channels, want mono", af.Channels))
	}
	return nil
}

// ReadSamples decodes the whole file into normalised float samples.
func (s *Store) ReadSamples(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.NewIOError(path, "failed to open audio file", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, pkgerrors.NewInvalidFormatError(path, "not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, pkgerrors.NewIOError(path, "failed to read PCM buffer", err)
	}
	if buf.Format != nil && buf.Format.NumChannels != model.NumChannels {
		return nil, pkgerrors.NewInvalidFormatError(path, fmt.Sprintf("expected mono, got %d channels", buf.Format.NumChannels))
	}
	return IntToFloat(buf.Data), nil
}

// WriteWAV encodes mono 16-bit PCM. The output is a deterministic function of the
// samples, so rewriting identical samples gives identical bytes.
func (s *Store) WriteWAV(path string, sampleRate int, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return pkgerrors.NewIOError(path, "failed to create output file", err)
	}

	enc := wav.NewEncoder(f, sampleRate, model.BitDepth, model.NumChannels, pcmFormat)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: model.NumChannels,
			SampleRate:  sampleRate,
		},
		Data:           data,
		SourceBitDepth: model.BitDepth,
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return pkgerrors.NewIOError(path, "failed to write audio", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return pkgerrors.NewIOError(path, "failed to close encoder", err)
	}
	if err := f.Close(); err != nil {
		return pkgerrors.NewIOError(path, "failed to close output file", err)
	}
	return nil
}

// IntToFloat maps 16-bit integer samples to [-1, 1).
func IntToFloat(data []int) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(float64(v) / fullScale)
	}
	return out
}

// FloatToInt16 is the inverse of IntToFloat with rounding and clipping.
func FloatToInt16(data []float32) []int16 {
	out := make([]int16, len(data))
	for i, v := range data {
		x := math.Round(float64(v) * fullScale)
		switch {
		case x > math.MaxInt16:
			x = math.MaxInt16
		case x < math.MinInt16:
			x = math.MinInt16
		}
		out[i] = int16(x)
	}
	return out
}

// PeakNormalize scales samples in place so the largest magnitude is 1.0.
// Silent input is left untouched.
func PeakNormalize(samples []float32) {
	var peak float64
	for _, v := range samples {
		if a := math.Abs(float64(v)); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return
	}
	scale := 1.0 / peak
	for i, v := range samples {
		samples[i] = float32(float64(v) * scale)
	}
}

// CheckFinite returns the index of the first NaN or infinite sample, or -1.
func CheckFinite(samples []float32) int {
	for i, v := range samples {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}
	return -1
}
