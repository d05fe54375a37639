// Package bpm estimates musical tempo from the audio ring buffer using
// spectral-flux onset strength and autocorrelation periodicity search, with a
// manual tap-tempo fallback.
package bpm

import (
	"math"
	"math/cmplx"
	"time"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/sound2osc/sound2osc/internal/audio"
)

// Detection constants. The detector is driven at the analysis tick rate;
// lags are measured in ticks.
const (
	DefaultMinBPM = 75
	DefaultMaxBPM = 200

	fluxWindowSize = 1024
	historySeconds = 8

	// A confident estimate needs this much normalized autocorrelation.
	confidenceFloor = 0.15

	// Estimates within jumpTolerance of the current value are smoothed in;
	// larger jumps need confirmRequired consecutive agreeing estimates.
	jumpTolerance   = 0.08
	confirmRequired = 12
	smoothingFactor = 0.2

	// Stale once no confident re-estimate happened for this many beat
	// periods.
	stalenessPeriods = 8

	// Estimation freezes while the recent flux drops below this floor, or
	// below this fraction of the whole-history mean. Residual history can
	// still autocorrelate; a confident tempo needs recent onsets.
	fluxSilenceFloor   = 1e-6
	recentFluxFraction = 0.05
)

// Detector turns the recent waveform into an onset-strength history and
// searches it for a dominant periodicity. It never runs concurrently with
// itself; the engine drives it from the single analysis goroutine.
type Detector struct {
	ring     *audio.Ring
	tickRate float64

	minBPM float64
	maxBPM float64

	hann    []float64
	samples []float64
	prevMag []float64

	flux   []float64
	onsets []bool

	bpm           float64
	candidate     float64
	candidateRuns int
	lastConfident time.Time
	everConfident bool
}

// NewDetector creates a detector reading from ring, driven tickRate times
// per second.
func NewDetector(ring *audio.Ring, tickRate float64) *Detector {
	if tickRate <= 0 {
		tickRate = 44
	}
	historyLen := int(tickRate * historySeconds)
	return &Detector{
		ring:     ring,
		tickRate: tickRate,
		minBPM:   DefaultMinBPM,
		maxBPM:   DefaultMaxBPM,
		hann:     window.Hann(fluxWindowSize),
		samples:  make([]float64, fluxWindowSize),
		prevMag:  make([]float64, fluxWindowSize/2),
		flux:     make([]float64, 0, historyLen),
		onsets:   make([]bool, 0, historyLen),
	}
}

// BPM returns the current estimate, 0 until the first confident one.
func (d *Detector) BPM() float64 {
	return d.bpm
}

// MinBPM returns the lower search bound.
func (d *Detector) MinBPM() float64 { return d.minBPM }

// MaxBPM returns the upper search bound.
func (d *Detector) MaxBPM() float64 { return d.maxBPM }

// SetRange sets the BPM search bounds, clamped to a sane ordering.
func (d *Detector) SetRange(minBPM, maxBPM float64) {
	if minBPM < 30 {
		minBPM = 30
	}
	if maxBPM > 300 {
		maxBPM = 300
	}
	if maxBPM <= minBPM {
		maxBPM = minBPM + 1
	}
	d.minBPM = minBPM
	d.maxBPM = maxBPM
}

// IsStale reports whether no confident re-estimate has happened for several
// beat periods. A stale value keeps its last estimate rather than dropping
// to 0.
func (d *Detector) IsStale(now time.Time) bool {
	if !d.everConfident {
		return false
	}
	period := 60 / math.Max(d.bpm, 1)
	return now.Sub(d.lastConfident).Seconds() > stalenessPeriods*period
}

// OnsetMarkers returns which of the recent ticks carried an onset, oldest
// first, aligned with the flux history. Used for visualization.
func (d *Detector) OnsetMarkers() []bool {
	out := make([]bool, len(d.onsets))
	copy(out, d.onsets)
	return out
}

// ResetCache clears all history and forces re-convergence from scratch.
func (d *Detector) ResetCache() {
	for i := range d.prevMag {
		d.prevMag[i] = 0
	}
	d.flux = d.flux[:0]
	d.onsets = d.onsets[:0]
	d.bpm = 0
	d.candidate = 0
	d.candidateRuns = 0
	d.everConfident = false
}

// Process ingests one tick of audio and re-estimates the tempo. It returns
// true when the exposed BPM value changed.
func (d *Detector) Process(now time.Time) bool {
	d.appendFlux()
	return d.estimate(now)
}

// appendFlux computes the positive spectral flux of the newest window and
// pushes it onto the bounded history.
func (d *Detector) appendFlux() {
	d.samples = d.ring.Snapshot(d.samples, fluxWindowSize)
	for i, s := range d.samples {
		d.samples[i] = s * d.hann[i]
	}
	bins := fft.FFTReal(d.samples)

	flux := 0.0
	for i := range d.prevMag {
		m := cmplx.Abs(bins[i])
		if rise := m - d.prevMag[i]; rise > 0 {
			flux += rise
		}
		d.prevMag[i] = m
	}

	if len(d.flux) == cap(d.flux) {
		copy(d.flux, d.flux[1:])
		d.flux[len(d.flux)-1] = flux
		copy(d.onsets, d.onsets[1:])
		d.onsets[len(d.onsets)-1] = d.isOnset(flux)
	} else {
		d.flux = append(d.flux, flux)
		d.onsets = append(d.onsets, d.isOnset(flux))
	}
}

// isOnset marks ticks whose flux clearly exceeds the recent average.
func (d *Detector) isOnset(flux float64) bool {
	n := len(d.flux)
	if n < 8 {
		return false
	}
	sum := 0.0
	for _, v := range d.flux[n-8:] {
		sum += v
	}
	return flux > 1.5*(sum/8)
}

// estimate searches the flux history for the strongest periodicity between
// the BPM bounds and folds it into the exposed estimate.
func (d *Detector) estimate(now time.Time) bool {
	minLag := int(math.Floor(d.tickRate * 60 / d.maxBPM))
	maxLag := int(math.Ceil(d.tickRate * 60 / d.minBPM))
	if len(d.flux) < 3*maxLag {
		return false
	}

	mean := 0.0
	for _, v := range d.flux {
		mean += v
	}
	mean /= float64(len(d.flux))

	recent := 0.0
	for _, v := range d.flux[len(d.flux)-maxLag:] {
		recent += v
	}
	recent /= float64(maxLag)
	if recent < fluxSilenceFloor || recent < recentFluxFraction*mean {
		return false
	}

	// Normalized autocorrelation of the mean-removed flux, with harmonic
	// reinforcement so the fundamental period beats its subdivisions.
	ac := func(lag int) float64 {
		if lag <= 0 || lag >= len(d.flux) {
			return 0
		}
		num, den := 0.0, 0.0
		for t := lag; t < len(d.flux); t++ {
			a := d.flux[t] - mean
			b := d.flux[t-lag] - mean
			num += a * b
			den += a * a
		}
		if den == 0 {
			return 0
		}
		return num / den
	}

	bestLag, bestScore := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		score := ac(lag) + 0.5*ac(2*lag) + 0.25*ac(3*lag)
		if score > bestScore {
			bestScore = score
			bestLag = lag
		}
	}
	if bestLag == 0 || bestScore < confidenceFloor {
		return false
	}

	// Parabolic refinement around the best integer lag for sub-lag
	// precision.
	refined := float64(bestLag)
	y0, y1, y2 := ac(bestLag-1), ac(bestLag), ac(bestLag+1)
	if denom := y0 - 2*y1 + y2; denom != 0 {
		shift := 0.5 * (y0 - y2) / denom
		if shift > -1 && shift < 1 {
			refined += shift
		}
	}

	candidate := d.tickRate * 60 / refined
	candidate = math.Min(math.Max(candidate, d.minBPM), d.maxBPM)

	d.lastConfident = now
	d.everConfident = true

	prev := d.bpm
	switch {
	case d.bpm == 0:
		d.bpm = candidate
	case math.Abs(candidate-d.bpm)/d.bpm <= jumpTolerance:
		d.bpm += smoothingFactor * (candidate - d.bpm)
		d.candidateRuns = 0
	default:
		// Outlier rejection: a large jump must persist before it wins.
		if d.candidate != 0 && math.Abs(candidate-d.candidate)/d.candidate <= jumpTolerance/2 {
			d.candidateRuns++
		} else {
			d.candidate = candidate
			d.candidateRuns = 1
		}
		if d.candidateRuns >= confirmRequired {
			d.bpm = d.candidate
			d.candidate = 0
			d.candidateRuns = 0
		}
	}
	return d.bpm != prev
}
