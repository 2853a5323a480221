package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// LevelBands are the edges, in Hz, of the frequency bands reported by
// LevelAnalyzer. Five edges pairs give five levels.
var LevelBands = []float64{20, 150, 400, 1000, 3000, 8000}

const (
	levelWindow = 512
	levelGamma  = 0.6
)

// LevelAnalyzer turns captured audio into coarse per-band levels for a
// waveform display. Levels are normalised to the loudest band so the result
// describes spectral shape rather than absolute loudness.
//
// A LevelAnalyzer is not safe for concurrent use.
type LevelAnalyzer struct {
	sampleRate int
	buffer     []float64
	window     []float64

	fft      *fourier.FFT
	windowed []float64
	coeffs   []complex128
}

func NewLevelAnalyzer(sampleRate int) *LevelAnalyzer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	window := make([]float64, levelWindow)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(levelWindow-1))
	}

	return &LevelAnalyzer{
		sampleRate: sampleRate,
		window:     window,
		fft:        fourier.NewFFT(levelWindow),
		windowed:   make([]float64, levelWindow),
	}
}

// Analyze appends linear16 audio and returns len(LevelBands)-1 values in
// [0, 1]. Until a full window is buffered all levels are zero.
func (a *LevelAnalyzer) Analyze(pcm []byte) []float32 {
	for _, s := range BytesToSamples(pcm) {
		a.buffer = append(a.buffer, float64(s))
	}
	if over := len(a.buffer) - 2*levelWindow; over > 0 {
		a.buffer = append(a.buffer[:0], a.buffer[over:]...)
	}

	levels := make([]float32, len(LevelBands)-1)
	if len(a.buffer) < levelWindow {
		return levels
	}

	for n, s := range a.buffer[len(a.buffer)-levelWindow:] {
		a.windowed[n] = s * a.window[n]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.windowed)

	resolution := float64(a.sampleRate) / levelWindow
	bins := levelWindow/2 + 1

	energies := make([]float64, len(levels))
	peak := 0.0
	for i := range levels {
		low := clampInt(int(LevelBands[i]/resolution), 0, bins-1)
		high := clampInt(int(LevelBands[i+1]/resolution), low+1, bins)

		sum := 0.0
		for k := low; k < high; k++ {
			m := cmplx.Abs(a.coeffs[k])
			sum += m * m
		}
		energies[i] = math.Sqrt(sum / float64(high-low))
		peak = math.Max(peak, energies[i])
	}

	if peak <= 0 {
		return levels
	}
	for i, e := range energies {
		levels[i] = float32(math.Min(1, math.Max(0, math.Pow(e/peak, levelGamma))))
	}
	return levels
}

func (a *LevelAnalyzer) Reset() {
	a.buffer = a.buffer[:0]
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
