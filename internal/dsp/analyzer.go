package dsp

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/sound2osc/sound2osc/internal/audio"
)

// DefaultWindowSize is the number of samples analyzed per tick.
const DefaultWindowSize = 4096

// lowSoloCutoff is the highest band center kept in low-solo mode.
const lowSoloCutoff = 200.0

// Analyzer computes the scaled spectrum from the most recent ring buffer
// window. It owns its workspace; Analyze never allocates after the first
// call and is deterministic for identical input and spectrum state.
type Analyzer struct {
	ring       *audio.Ring
	spectrum   *ScaledSpectrum
	windowSize int

	hann      []float64
	samples   []float64
	windowed  []float64
	magnitude []float64
}

// NewAnalyzer creates an analyzer reading windowSize samples from ring.
func NewAnalyzer(ring *audio.Ring, sampleRate float64, windowSize int) *Analyzer {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Analyzer{
		ring:       ring,
		spectrum:   NewScaledSpectrum(DefaultBaseFrequency, DefaultBandCount, sampleRate),
		windowSize: windowSize,
		hann:       window.Hann(windowSize),
		samples:    make([]float64, windowSize),
		windowed:   make([]float64, windowSize),
		magnitude:  make([]float64, windowSize/2),
	}
}

// Spectrum returns the analyzer's scaled spectrum. The same instance is
// updated on every Analyze call.
func (a *Analyzer) Spectrum() *ScaledSpectrum {
	return a.spectrum
}

// Analyze takes the most recent window from the ring buffer, applies a Hann
// window, computes the real FFT and updates the scaled spectrum. With
// lowSolo set, everything above the lowest bands is suppressed afterwards.
func (a *Analyzer) Analyze(lowSolo bool) *ScaledSpectrum {
	a.samples = a.ring.Snapshot(a.samples, a.windowSize)

	for i, s := range a.samples {
		a.windowed[i] = s * a.hann[i]
	}

	bins := fft.FFTReal(a.windowed)

	// Normalize so a full-scale sine lands near 1.0: N/2 FFT scaling times
	// the Hann coherent gain of 0.5 gives N/4.
	norm := float64(a.windowSize) / 4
	for i := range a.magnitude {
		a.magnitude[i] = cmplx.Abs(bins[i]) / norm
	}

	a.spectrum.UpdateWithLinearSpectrum(a.magnitude)
	if lowSolo {
		a.spectrum.SuppressAbove(lowSoloCutoff)
	}
	return a.spectrum
}

// WindowSize returns the analysis window length in samples.
func (a *Analyzer) WindowSize() int {
	return a.windowSize
}

// Waveform copies the most recent count mono samples for visualization.
func (a *Analyzer) Waveform(count int) []float64 {
	return a.ring.Snapshot(nil, count)
}

// SineWindow generates count samples of a sine burst, handy for tests and
// the synthetic input mode.
func SineWindow(freq, sampleRate, amplitude float64, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		t := float64(i) / sampleRate
		out[i] = amplitude * math.Sin(2*math.Pi*freq*t)
	}
	return out
}
