package bpm

import (
	"math"
	"sort"
	"time"
)

const (
	// A pause longer than this between taps starts a new measurement.
	tapResetAfter = 2 * time.Second

	maxTapIntervals = 8
)

// TapTempo derives a tempo from manually entered taps. The estimate is the
// median inter-tap interval, folded into the detector's BPM range by octave
// doubling or halving.
type TapTempo struct {
	lastTap   time.Time
	intervals []time.Duration

	minBPM float64
	maxBPM float64

	bpm float64
}

// NewTapTempo creates a tap tempo source clamping into [minBPM, maxBPM].
func NewTapTempo(minBPM, maxBPM float64) *TapTempo {
	return &TapTempo{
		intervals: make([]time.Duration, 0, maxTapIntervals),
		minBPM:    minBPM,
		maxBPM:    maxBPM,
	}
}

// SetRange updates the clamping bounds for subsequent taps.
func (t *TapTempo) SetRange(minBPM, maxBPM float64) {
	t.minBPM = minBPM
	t.maxBPM = maxBPM
}

// BPM returns the current tapped tempo, 0 before two taps landed.
func (t *TapTempo) BPM() float64 { return t.bpm }

// Tap registers one tap at the given time and returns the updated estimate.
// Two taps are enough for a first value; further taps refine it.
func (t *TapTempo) Tap(now time.Time) float64 {
	if !t.lastTap.IsZero() {
		gap := now.Sub(t.lastTap)
		if gap > tapResetAfter {
			t.intervals = t.intervals[:0]
		} else if gap > 0 {
			if len(t.intervals) == maxTapIntervals {
				copy(t.intervals, t.intervals[1:])
				t.intervals = t.intervals[:maxTapIntervals-1]
			}
			t.intervals = append(t.intervals, gap)
		}
	}
	t.lastTap = now

	if len(t.intervals) == 0 {
		return t.bpm
	}

	sorted := make([]time.Duration, len(t.intervals))
	copy(sorted, t.intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}

	bpm := 60 / median.Seconds()
	// Fold octave errors into range instead of clamping hard.
	for bpm < t.minBPM && bpm > 0 {
		bpm *= 2
	}
	for bpm > t.maxBPM {
		bpm /= 2
	}
	t.bpm = math.Min(math.Max(bpm, t.minBPM), t.maxBPM)
	return t.bpm
}

// Reset discards all taps and the current estimate.
func (t *TapTempo) Reset() {
	t.intervals = t.intervals[:0]
	t.lastTap = time.Time{}
	t.bpm = 0
}
