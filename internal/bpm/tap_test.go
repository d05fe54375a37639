package bpm

import (
	"testing"
	"time"
)

func TestTapTempoMedianOfIntervals(t *testing.T) {
	tap := NewTapTempo(DefaultMinBPM, DefaultMaxBPM)
	now := time.Unix(0, 0)

	if bpm := tap.Tap(now); bpm != 0 {
		t.Fatalf("BPM after single tap = %.1f, want 0", bpm)
	}
	for i := 0; i < 4; i++ {
		now = now.Add(500 * time.Millisecond)
		tap.Tap(now)
	}
	if bpm := tap.BPM(); bpm < 119 || bpm > 121 {
		t.Fatalf("BPM from 500ms taps = %.1f, want ~120", bpm)
	}
}

func TestTapTempoIgnoresOneOutlier(t *testing.T) {
	tap := NewTapTempo(DefaultMinBPM, DefaultMaxBPM)
	now := time.Unix(0, 0)

	tap.Tap(now)
	intervals := []time.Duration{
		500 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond, // sloppy tap
		500 * time.Millisecond,
		500 * time.Millisecond,
	}
	for _, iv := range intervals {
		now = now.Add(iv)
		tap.Tap(now)
	}
	if bpm := tap.BPM(); bpm < 119 || bpm > 121 {
		t.Fatalf("BPM with one outlier = %.1f, want ~120", bpm)
	}
}

func TestTapTempoLongPauseStartsOver(t *testing.T) {
	tap := NewTapTempo(DefaultMinBPM, DefaultMaxBPM)
	now := time.Unix(0, 0)

	for i := 0; i < 4; i++ {
		tap.Tap(now)
		now = now.Add(500 * time.Millisecond)
	}

	// Pause beyond the reset window, then tap a new tempo.
	now = now.Add(3 * time.Second)
	tap.Tap(now)
	for i := 0; i < 4; i++ {
		now = now.Add(400 * time.Millisecond)
		tap.Tap(now)
	}
	if bpm := tap.BPM(); bpm < 149 || bpm > 151 {
		t.Fatalf("BPM after restart = %.1f, want ~150", bpm)
	}
}

func TestTapTempoFoldsOctavesIntoRange(t *testing.T) {
	tap := NewTapTempo(DefaultMinBPM, DefaultMaxBPM)
	now := time.Unix(0, 0)

	// 50 BPM taps double into range as 100.
	tap.Tap(now)
	for i := 0; i < 3; i++ {
		now = now.Add(1200 * time.Millisecond)
		tap.Tap(now)
	}
	if bpm := tap.BPM(); bpm < 99 || bpm > 101 {
		t.Fatalf("slow taps = %.1f, want ~100", bpm)
	}

	// 300 BPM taps halve into range as 150.
	tap.Reset()
	tap.Tap(now)
	for i := 0; i < 5; i++ {
		now = now.Add(200 * time.Millisecond)
		tap.Tap(now)
	}
	if bpm := tap.BPM(); bpm < 149 || bpm > 151 {
		t.Fatalf("fast taps = %.1f, want ~150", bpm)
	}
}

func TestTapTempoReset(t *testing.T) {
	tap := NewTapTempo(DefaultMinBPM, DefaultMaxBPM)
	now := time.Unix(0, 0)

	tap.Tap(now)
	tap.Tap(now.Add(500 * time.Millisecond))
	if tap.BPM() == 0 {
		t.Fatal("no estimate after two taps")
	}

	tap.Reset()
	if bpm := tap.BPM(); bpm != 0 {
		t.Fatalf("BPM after reset = %.1f, want 0", bpm)
	}
}
