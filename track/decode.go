package track

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"webradio/audio"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// Decoder turns a track into mono PCM at audio.SampleRate.
type Decoder interface {
	Decode(ctx context.Context, t Track) ([]int16, error)
}

// Prefetcher is implemented by decoders that can start decoding a track ahead
// of time.
type Prefetcher interface {
	Prefetch(t Track)
}

// SampleRate is the rate every decoded track is resampled to
var SampleRate = beep.SampleRate(audio.SampleRate)

// resampleQuality matches what the playback mixer uses for live sources
const resampleQuality = 4

// streamBlock is how many frames are pulled from a streamer per call
const streamBlock = 4096

// FileDecoder decodes MP3 and WAV files with beep.
type FileDecoder struct{}

// NewFileDecoder creates a new FileDecoder instance
func NewFileDecoder() *FileDecoder {
	return &FileDecoder{}
}

func (d *FileDecoder) open(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("open %s: %w", path, err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return streamer, format, nil
}

// Length implements DurationReader
func (d *FileDecoder) Length(path string) (time.Duration, error) {
	streamer, format, err := d.open(path)
	if err != nil {
		return 0, err
	}
	defer streamer.Close()

	return format.SampleRate.D(streamer.Len()), nil
}

// Decode reads the whole file, downmixes it to mono and resamples it to
// SampleRate.
func (d *FileDecoder) Decode(ctx context.Context, t Track) ([]int16, error) {
	streamer, format, err := d.open(t.Path)
	if err != nil {
		return nil, err
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if format.SampleRate != SampleRate {
		s = beep.Resample(resampleQuality, format.SampleRate, SampleRate, streamer)
	}

	expected := streamer.Len()
	if format.SampleRate != SampleRate && format.SampleRate > 0 {
		expected = int(int64(expected) * int64(SampleRate) / int64(format.SampleRate))
	}
	samples := make([]int16, 0, expected)

	buf := make([][2]float64, streamBlock)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			// Mono downmix averages both channels; beep duplicates mono sources.
			samples = append(samples, audio.FromFloat((frame[0]+frame[1])/2))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t.Path, err)
	}
	return samples, nil
}
