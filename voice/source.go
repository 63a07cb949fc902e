package voice

import (
	"fmt"

	"webradio/audio"
	"webradio/track"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/generators"
)

// Source produces the live voice signal as mono PCM at audio.SampleRate.
// Read fills p completely; it is called once per mixed chunk.
type Source interface {
	Read(p []int16) error
}

// Silence is a voice source that never speaks
type Silence struct{}

// Read implements Source
func (Silence) Read(p []int16) error {
	clear(p)
	return nil
}

// Tone is a continuous sine wave standing in for a microphone
type Tone struct {
	streamer beep.Streamer
	buf      [][2]float64
}

var _ Source = (*Tone)(nil)

// NewTone creates a full-scale sine source at freq Hz
func NewTone(freq float64) (*Tone, error) {
	s, err := generators.SineTone(track.SampleRate, freq)
	if err != nil {
		return nil, fmt.Errorf("tone %.1f Hz: %w", freq, err)
	}
	return &Tone{streamer: s}, nil
}

// Read implements Source
func (t *Tone) Read(p []int16) error {
	if cap(t.buf) < len(p) {
		t.buf = make([][2]float64, len(p))
	}
	buf := t.buf[:len(p)]

	n, _ := t.streamer.Stream(buf)
	for i := 0; i < n; i++ {
		p[i] = audio.FromFloat(buf[i][0])
	}
	clear(p[n:])
	return nil
}
