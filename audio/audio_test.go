package audio

import (
	"math"
	"testing"
	"time"
)

func sine(n int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	return out
}

func TestNormalizePassesCompliantAudioThrough(t *testing.T) {
	n, err := NewNormalizer(100*time.Millisecond, -20, 0)
	if err != nil {
		t.Fatalf("NewNormalizer() error = %v", err)
	}

	// ~-9 dBFS, comfortably inside the range
	in := sine(SampleRate, 16000)
	out := n.Normalize(in)

	if len(out) != len(in) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d changed: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestNormalizeBoostsQuietWindowsToMinimum(t *testing.T) {
	n, err := NewNormalizer(100*time.Millisecond, -20, 0)
	if err != nil {
		t.Fatalf("NewNormalizer() error = %v", err)
	}

	in := sine(n.Window*3, 300) // ~-43 dBFS
	out := n.Normalize(in)

	for start := 0; start < len(out); start += n.Window {
		got := DBFS(out[start : start+n.Window])
		if math.Abs(got-(-20)) > 0.05 {
			t.Errorf("window at %d: DBFS = %.3f, want -20", start, got)
		}
	}
}

func TestNormalizeKeepsSilenceSilent(t *testing.T) {
	n := Normalizer{Window: 441, MinDB: -20, MaxDB: 0}

	in := make([]int16, 1000)
	out := n.Normalize(in)

	if len(out) != len(in) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(in))
	}
	for i, s := range out {
		if s != 0 {
			t.Fatalf("sample %d = %d, want 0", i, s)
		}
	}
}

func TestNormalizePreservesSampleCount(t *testing.T) {
	n := Normalizer{Window: 441, MinDB: -20, MaxDB: -10}

	tests := []int{0, 1, 440, 441, 442, 4410, 5000}
	for _, size := range tests {
		in := sine(size, 30000)
		if got := len(n.Normalize(in)); got != size {
			t.Errorf("Normalize(len=%d) returned %d samples", size, got)
		}
	}
}

func TestNormalizeAttenuatesLoudWindows(t *testing.T) {
	n := Normalizer{Window: 4410, MinDB: -30, MaxDB: -12}

	in := sine(4410*2, 30000) // ~-3.8 dBFS
	out := n.Normalize(in)

	if got := DBFS(out[:4410]); math.Abs(got-(-12)) > 0.05 {
		t.Errorf("DBFS = %.3f, want -12", got)
	}
}

func TestNewNormalizerRejectsInvertedRange(t *testing.T) {
	if _, err := NewNormalizer(time.Second, 0, -20); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestDBFS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, math.Inf(-1)},
		{"silence", make([]int16, 10), math.Inf(-1)},
		{"full scale square", []int16{-32768, -32768}, 0},
		{"half scale", []int16{16384, -16384}, 20 * math.Log10(0.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DBFS(tt.samples)
			if math.IsInf(tt.want, -1) {
				if !math.IsInf(got, -1) {
					t.Errorf("DBFS() = %v, want -Inf", got)
				}
				return
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("DBFS() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverlayClips(t *testing.T) {
	a := []int16{30000, -30000, 100, 5}
	b := []int16{10000, -10000, -50}

	got := Overlay(a, b)
	want := []int16{32767, -32768, 50, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Overlay()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestApplyGain(t *testing.T) {
	in := []int16{1000, -1000, 32000}

	if got := ApplyGain(in, -6.0206); got[0] != 500 || got[1] != -500 {
		t.Errorf("ApplyGain(-6dB) = %v", got)
	}
	if got := ApplyGain(in, 6); got[2] != 32767 {
		t.Errorf("ApplyGain(+6dB) did not clip: %v", got)
	}
	if got := ApplyGain(in, FloorDB); got[0] != 0 || got[2] != 1 {
		t.Errorf("ApplyGain(floor) = %v", got)
	}
}

func TestAmplitudeToDBIsFinite(t *testing.T) {
	if got := AmplitudeToDB(0); math.IsInf(got, 0) || got > -199 {
		t.Errorf("AmplitudeToDB(0) = %v, want finite floor", got)
	}
	if got := ClampDB(AmplitudeToDB(1)); got != 0 {
		t.Errorf("ClampDB(AmplitudeToDB(1)) = %v, want 0", got)
	}
}

func TestEncodeDecode(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	buf := Encode(in)
	if len(buf) != len(in)*SampleWidth {
		t.Fatalf("len(Encode()) = %d", len(buf))
	}
	if buf[2] != 0x01 || buf[3] != 0x00 {
		t.Errorf("sample 1 not little-endian: % x", buf[2:4])
	}
	out := Decode(buf)
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("Decode()[%d] = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestExpandAndDurations(t *testing.T) {
	got := Expand([]int16{1, 2}, 2)
	want := []int16{1, 1, 2, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expand() = %v, want %v", got, want)
		}
	}

	if n := FramesFor(20 * time.Millisecond); n != 882 {
		t.Errorf("FramesFor(20ms) = %d, want 882", n)
	}
	if d := BytesDuration(882 * Channels * SampleWidth); d != 20*time.Millisecond {
		t.Errorf("BytesDuration() = %s, want 20ms", d)
	}
}
