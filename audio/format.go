package audio

import (
	"encoding/binary"
	"time"
)

const (
	// SampleRate is the output sample rate in Hz
	SampleRate = 44100
	// Channels is the output channel count
	Channels = 2
	// SampleWidth is the size of one sample in bytes (signed 16-bit)
	SampleWidth = 2

	// FloorDB is the quietest gain the mixer uses; it stands in for "muted"
	FloorDB = -90.0
	// CeilingDB is full scale
	CeilingDB = 0.0

	maxAmplitude = 1 << 15
)

// FramesFor returns the number of frames (samples per channel) covering d.
func FramesFor(d time.Duration) int {
	return int(int64(d) * SampleRate / int64(time.Second))
}

// DurationOf returns the playback duration of n frames.
func DurationOf(frames int) time.Duration {
	return time.Duration(int64(frames) * int64(time.Second) / SampleRate)
}

// BytesDuration returns the playback duration of an interleaved s16le buffer
// with the output channel layout.
func BytesDuration(n int) time.Duration {
	return DurationOf(n / (Channels * SampleWidth))
}

// Encode converts samples to little-endian signed 16-bit bytes
func Encode(samples []int16) []byte {
	buf := make([]byte, len(samples)*SampleWidth)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Decode converts little-endian signed 16-bit bytes to samples. A trailing odd
// byte is ignored.
func Decode(buf []byte) []int16 {
	samples := make([]int16, len(buf)/SampleWidth)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}

// Expand duplicates every mono sample into channels interleaved slots.
func Expand(mono []int16, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(mono))
		copy(out, mono)
		return out
	}
	out := make([]int16, len(mono)*channels)
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return out
}

// FromFloat converts a beep-style sample in [-1, 1] to int16.
func FromFloat(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * (maxAmplitude - 1))
}

func clip(v float64) int16 {
	if v > maxAmplitude-1 {
		return maxAmplitude - 1
	}
	if v < -maxAmplitude {
		return -maxAmplitude
	}
	return int16(v)
}
