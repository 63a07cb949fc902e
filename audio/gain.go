package audio

import "math"

// amplitudeFloor keeps log10 away from zero when converting back to dB
const amplitudeFloor = 1e-10

// DBToAmplitude converts a gain in dB to a linear amplitude factor: 10^(dB/20).
func DBToAmplitude(db float64) float64 {
	return math.Pow(10, db/20)
}

// AmplitudeToDB converts a linear amplitude factor back to dB. A small floor is
// added so a zero amplitude yields a finite value instead of -Inf.
func AmplitudeToDB(amp float64) float64 {
	return 20 * math.Log10(amp+amplitudeFloor)
}

// ClampDB limits a gain to the [FloorDB, CeilingDB] range.
func ClampDB(db float64) float64 {
	return math.Max(FloorDB, math.Min(CeilingDB, db))
}

// DBFS measures the RMS loudness of samples relative to full scale.
// Silent or empty input returns -Inf.
func DBFS(samples []int16) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/maxAmplitude)
}

// ApplyGain returns a copy of samples scaled by db, rounded and clipped to the
// int16 range.
func ApplyGain(samples []int16, db float64) []int16 {
	out := make([]int16, len(samples))
	if db == 0 {
		copy(out, samples)
		return out
	}
	factor := DBToAmplitude(db)
	for i, s := range samples {
		out[i] = clip(math.Round(float64(s) * factor))
	}
	return out
}

// Overlay adds b onto a sample by sample, clipping to the int16 range. The
// result has the length of a; missing samples of b count as silence.
func Overlay(a, b []int16) []int16 {
	out := make([]int16, len(a))
	for i, s := range a {
		v := int32(s)
		if i < len(b) {
			v += int32(b[i])
		}
		out[i] = clip(float64(v))
	}
	return out
}
