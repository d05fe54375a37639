// Package dsp turns raw audio windows into a perceptually scaled spectrum:
// windowed FFT, log-spaced frequency bands, AGC, gain, compression and an
// optional decibel remap.
package dsp

import "math"

// Default perceptual banding: 200 log-spaced bands from 20 Hz to Nyquist.
const (
	DefaultBaseFrequency = 20.0
	DefaultBandCount     = 200
)

// AGC behavior: the reference ceiling follows the frame peak quickly on the
// way up and decays slowly, so typical peaks approach the target.
const (
	agcTarget  = 0.95
	agcAttack  = 0.10
	agcRelease = 0.002
	agcMinPeak = 1e-4
	agcMaxGain = 50.0
)

// dB remap range. A value of 1.0 stays 1.0; dbRange below that maps into
// [0,1].
const dbRange = 60.0

// ScaledSpectrum maps linear FFT magnitude bins onto log-spaced perceptual
// bands and applies the level pipeline (AGC, gain, compression, dB) with all
// outputs clamped to [0,1].
type ScaledSpectrum struct {
	baseFreq   float64
	bandCount  int
	sampleRate float64

	gain        float64
	compression float64
	decibel     bool
	agcEnabled  bool
	agcGain     float64

	centerFreqs []float64
	edgeFreqs   []float64
	normalized  []float64
}

// NewScaledSpectrum creates a spectrum with bandCount log-spaced bands
// between baseFreq and the Nyquist frequency of sampleRate.
func NewScaledSpectrum(baseFreq float64, bandCount int, sampleRate float64) *ScaledSpectrum {
	if baseFreq <= 0 {
		baseFreq = DefaultBaseFrequency
	}
	if bandCount <= 1 {
		bandCount = DefaultBandCount
	}
	if sampleRate <= 0 {
		sampleRate = 44100
	}

	s := &ScaledSpectrum{
		baseFreq:    baseFreq,
		bandCount:   bandCount,
		sampleRate:  sampleRate,
		gain:        1.0,
		compression: 1.0,
		agcGain:     1.0,
		centerFreqs: make([]float64, bandCount),
		edgeFreqs:   make([]float64, bandCount+1),
		normalized:  make([]float64, bandCount),
	}

	nyquist := sampleRate / 2
	ratio := nyquist / baseFreq
	for i := range s.centerFreqs {
		exp := float64(i) / float64(bandCount-1)
		s.centerFreqs[i] = baseFreq * math.Pow(ratio, exp)
	}

	// Band edges sit at the geometric midpoints between neighboring
	// centers, so together the bands tile [baseFreq, nyquist] with no gaps.
	s.edgeFreqs[0] = baseFreq
	for i := 1; i < bandCount; i++ {
		s.edgeFreqs[i] = math.Sqrt(s.centerFreqs[i-1] * s.centerFreqs[i])
	}
	s.edgeFreqs[bandCount] = nyquist
	return s
}

// UpdateWithLinearSpectrum recomputes all band values from linear magnitude
// bins (length = window/2, already normalized so a full-scale sine is ~1.0).
// All-zero input yields an all-zero spectrum.
func (s *ScaledSpectrum) UpdateWithLinearSpectrum(linear []float64) {
	if len(linear) == 0 {
		for i := range s.normalized {
			s.normalized[i] = 0
		}
		return
	}

	freqPerBin := s.sampleRate / 2 / float64(len(linear))

	peak := 0.0
	for i := range s.centerFreqs {
		// Each band covers the linear bins between its edges and keeps
		// their maximum. Narrow low bands fall back to their nearest bin so
		// every band always reads at least one.
		lo := int(s.edgeFreqs[i] / freqPerBin)
		hi := int(s.edgeFreqs[i+1] / freqPerBin)
		if hi <= lo {
			hi = lo + 1
		}
		if lo > len(linear)-1 {
			lo = len(linear) - 1
		}
		if hi > len(linear) {
			hi = len(linear)
		}
		v := linear[lo]
		for b := lo + 1; b < hi; b++ {
			if linear[b] > v {
				v = linear[b]
			}
		}
		s.normalized[i] = v
		if v > peak {
			peak = v
		}
	}

	s.updateAGC(peak)

	for i, v := range s.normalized {
		if s.agcEnabled {
			v *= s.agcGain
		}
		v *= s.gain
		if s.compression != 1.0 && v > 0 {
			v = math.Pow(v, s.compression)
		}
		if s.decibel && v > 0 {
			v = 1 + 20*math.Log10(v)/dbRange
		}
		s.normalized[i] = clamp(v, 0, 1)
	}
}

// updateAGC tracks a slow-moving reference ceiling from the frame peak.
// Silent frames leave the state untouched so silence cannot blow the gain up.
func (s *ScaledSpectrum) updateAGC(peak float64) {
	if !s.agcEnabled || peak < agcMinPeak {
		return
	}
	desired := agcTarget / peak
	if desired > agcMaxGain {
		desired = agcMaxGain
	}
	coeff := agcRelease
	if desired < s.agcGain {
		coeff = agcAttack
	}
	s.agcGain += coeff * (desired - s.agcGain)
}

// Normalized returns the current band values in [0,1]. The slice is reused
// across updates; callers must not retain it across ticks.
func (s *ScaledSpectrum) Normalized() []float64 {
	return s.normalized
}

// BandCount returns the number of perceptual bands.
func (s *ScaledSpectrum) BandCount() int {
	return s.bandCount
}

// CenterFrequency returns the center frequency of band i in Hz.
func (s *ScaledSpectrum) CenterFrequency(i int) float64 {
	return s.centerFreqs[i]
}

// MaxLevel returns the maximum band value across the whole spectrum.
func (s *ScaledSpectrum) MaxLevel() float64 {
	maxVal := 0.0
	for _, v := range s.normalized {
		if v > maxVal {
			maxVal = v
		}
	}
	return maxVal
}

// MaxLevelInBand returns the maximum band value for bands whose center
// frequency lies within [centerFreq*(1-width), centerFreq*(1+width)]. At
// least the band nearest to centerFreq is always considered.
func (s *ScaledSpectrum) MaxLevelInBand(centerFreq, width float64) float64 {
	lo := centerFreq * (1 - width)
	hi := centerFreq * (1 + width)

	maxVal := 0.0
	found := false
	nearest := 0
	nearestDist := math.MaxFloat64
	for i, f := range s.centerFreqs {
		if d := math.Abs(f - centerFreq); d < nearestDist {
			nearestDist = d
			nearest = i
		}
		if f >= lo && f <= hi {
			found = true
			if s.normalized[i] > maxVal {
				maxVal = s.normalized[i]
			}
		}
	}
	if !found {
		return s.normalized[nearest]
	}
	return maxVal
}

// SuppressAbove zeroes every band whose center frequency exceeds cutoff Hz.
// Used by low-solo mode to isolate bass content.
func (s *ScaledSpectrum) SuppressAbove(cutoff float64) {
	for i, f := range s.centerFreqs {
		if f > cutoff {
			s.normalized[i] = 0
		}
	}
}

// SetGain sets the multiplicative gain (clamped to a sane non-negative range).
func (s *ScaledSpectrum) SetGain(gain float64) {
	s.gain = clamp(gain, 0, 10)
}

// Gain returns the multiplicative gain.
func (s *ScaledSpectrum) Gain() float64 { return s.gain }

// SetCompression sets the compression exponent applied as value^compression.
func (s *ScaledSpectrum) SetCompression(compression float64) {
	s.compression = clamp(compression, 0.1, 10)
}

// Compression returns the compression exponent.
func (s *ScaledSpectrum) Compression() float64 { return s.compression }

// SetDecibelConversion toggles the linear-to-dB remap.
func (s *ScaledSpectrum) SetDecibelConversion(enabled bool) {
	s.decibel = enabled
}

// DecibelConversion reports whether the dB remap is active.
func (s *ScaledSpectrum) DecibelConversion() bool { return s.decibel }

// SetAGCEnabled toggles automatic gain control. Disabling resets the tracked
// gain to unity.
func (s *ScaledSpectrum) SetAGCEnabled(enabled bool) {
	s.agcEnabled = enabled
	if !enabled {
		s.agcGain = 1.0
	}
}

// AGCEnabled reports whether AGC is active.
func (s *ScaledSpectrum) AGCEnabled() bool { return s.agcEnabled }

// AGCGain returns the current AGC gain multiplier (informational).
func (s *ScaledSpectrum) AGCGain() float64 { return s.agcGain }

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
