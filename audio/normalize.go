package audio

import (
	"fmt"
	"math"
	"time"
)

// DefaultNormalizeWindow is the analysis window used when none is configured.
const DefaultNormalizeWindow = 100 * time.Millisecond

// Normalizer clamps the loudness of consecutive analysis windows into the
// [MinDB, MaxDB] range.
type Normalizer struct {
	Window int // window length in samples
	MinDB  float64
	MaxDB  float64
}

// NewNormalizer creates a Normalizer for mono audio at SampleRate.
func NewNormalizer(window time.Duration, minDB, maxDB float64) (Normalizer, error) {
	if window <= 0 {
		window = DefaultNormalizeWindow
	}
	if minDB >= maxDB {
		return Normalizer{}, fmt.Errorf("invalid loudness range [%.1f, %.1f]", minDB, maxDB)
	}
	n := FramesFor(window)
	if n <= 0 {
		return Normalizer{}, fmt.Errorf("normalize window %s too short", window)
	}
	return Normalizer{Window: n, MinDB: minDB, MaxDB: maxDB}, nil
}

// Normalize returns a new buffer of the same length as samples. Windows whose
// loudness lies outside the target range are scaled to the nearest bound;
// compliant and silent windows are copied unchanged.
func (n Normalizer) Normalize(samples []int16) []int16 {
	out := make([]int16, 0, len(samples))
	window := n.Window
	if window <= 0 {
		window = len(samples)
	}
	for start := 0; start < len(samples); start += window {
		end := min(start+window, len(samples))
		out = append(out, n.window(samples[start:end])...)
	}
	return out
}

func (n Normalizer) window(w []int16) []int16 {
	level := DBFS(w)
	switch {
	case math.IsInf(level, -1):
		return w
	case level < n.MinDB:
		return ApplyGain(w, n.MinDB-level)
	case level > n.MaxDB:
		return ApplyGain(w, n.MaxDB-level)
	default:
		return w
	}
}
