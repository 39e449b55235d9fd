package spender

import (
	"math"

	. "github.com/gomlx/exceptions"
)

// LinearWave returns n wavelengths evenly spaced from min to max, inclusive.
func LinearWave(min, max float64, n int) []float64 {
	checkWaveArgs(min, max, n)
	wave := make([]float64, n)
	step := (max - min) / float64(n-1)
	for i := range wave {
		wave[i] = min + float64(i)*step
	}
	wave[n-1] = max
	return wave
}

// LogWave returns n wavelengths spaced evenly in log space from min to max,
// inclusive. Spectra are commonly sampled this way, so a fixed velocity
// resolution maps to a fixed number of bins.
func LogWave(min, max float64, n int) []float64 {
	checkWaveArgs(min, max, n)
	if min <= 0 {
		Panicf("LogWave requires min > 0, got %g", min)
	}
	wave := make([]float64, n)
	logMin, logMax := math.Log(min), math.Log(max)
	step := (logMax - logMin) / float64(n-1)
	for i := range wave {
		wave[i] = math.Exp(logMin + float64(i)*step)
	}
	wave[n-1] = max
	return wave
}

func checkWaveArgs(min, max float64, n int) {
	if n < 2 {
		Panicf("wavelength grid requires n >= 2, got %d", n)
	}
	if max <= min {
		Panicf("wavelength grid requires max > min, got [%g, %g]", min, max)
	}
}
