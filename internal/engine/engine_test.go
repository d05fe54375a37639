package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/sound2osc/sound2osc/internal/dsp"
	"github.com/sound2osc/sound2osc/internal/trigger"
)

func tickTimes(n int) []time.Time {
	out := make([]time.Time, n)
	now := time.Unix(0, 0)
	for i := range out {
		now = now.Add(tickInterval)
		out[i] = now
	}
	return out
}

func TestEngineSilentPipelineStaysInert(t *testing.T) {
	e := New(Config{})

	for _, now := range tickTimes(20) {
		e.analysisTick(now)
	}

	for _, v := range e.Status().Spectrum {
		if v != 0 {
			t.Fatalf("nonzero spectrum value %v on silence", v)
		}
	}
	for _, name := range []string{BandBass, BandLoMid, BandHiMid, BandHigh, BandEnvelope} {
		if e.Band(name).Active() {
			t.Fatalf("band %s active on silence", name)
		}
	}
	// The silence band has inverted sense and is expected to fire.
	if !e.Band(BandSilence).Active() {
		t.Fatal("silence band not active on silence")
	}
}

func TestEngineBassBurstActivatesBassBand(t *testing.T) {
	e := New(Config{})
	e.Band(BandBass).SetThreshold(0.3)

	e.ring.PushMono(dsp.SineWindow(80, e.sampleRate, 0.8, windowSize))
	for _, now := range tickTimes(5) {
		e.analysisTick(now)
	}

	if !e.Band(BandBass).Active() {
		t.Fatal("bass band not active on 80 Hz burst")
	}
	if e.Band(BandHigh).Active() {
		t.Fatal("high band active on 80 Hz burst")
	}
}

func TestEngineLowSoloSuppressesHighBand(t *testing.T) {
	e := New(Config{})
	e.Band(BandHigh).SetThreshold(0.3)
	e.SetLowSolo(true)

	e.ring.PushMono(dsp.SineWindow(5000, e.sampleRate, 0.8, windowSize))
	for _, now := range tickTimes(5) {
		e.analysisTick(now)
	}

	if e.Band(BandHigh).Active() {
		t.Fatal("high band active despite low solo")
	}
}

func TestEngineForceReleaseDropsActiveBands(t *testing.T) {
	e := New(Config{})
	e.Band(BandBass).SetThreshold(0.3)

	e.ring.PushMono(dsp.SineWindow(80, e.sampleRate, 0.8, windowSize))
	times := tickTimes(10)
	for _, now := range times[:5] {
		e.analysisTick(now)
	}
	if !e.Band(BandBass).Active() {
		t.Fatal("bass band not active before release")
	}

	e.ForceRelease()
	e.analysisTick(times[5])

	if e.Band(BandBass).Active() {
		t.Fatal("bass band still active after force release")
	}
}

func TestEngineObserverEdgesAndSpectrum(t *testing.T) {
	e := New(Config{})
	e.Band(BandBass).SetThreshold(0.3)

	var edges []string
	var spectrumCalls int
	e.AddObserver(Observer{
		SpectrumUpdated: func(levels []float64) {
			spectrumCalls++
			if len(levels) != e.Spectrum().BandCount() {
				t.Fatalf("observer got %d levels, want %d", len(levels), e.Spectrum().BandCount())
			}
		},
		BandActive: func(name string, active bool) {
			if active {
				edges = append(edges, name+"+")
			} else {
				edges = append(edges, name+"-")
			}
		},
	})

	e.ring.PushMono(dsp.SineWindow(80, e.sampleRate, 0.8, windowSize))
	times := tickTimes(10)
	for _, now := range times[:3] {
		e.analysisTick(now)
	}
	e.ForceRelease()
	e.analysisTick(times[3])

	if spectrumCalls != 4 {
		t.Fatalf("spectrum observer called %d times, want 4", spectrumCalls)
	}

	var bassEdges []string
	for _, edge := range edges {
		if edge == "bass+" || edge == "bass-" {
			bassEdges = append(bassEdges, edge)
		}
	}
	if want := []string{"bass+", "bass-"}; !reflect.DeepEqual(bassEdges, want) {
		t.Fatalf("bass edges = %v, want %v", bassEdges, want)
	}
}

func TestEngineStatusSnapshot(t *testing.T) {
	e := New(Config{})

	for _, now := range tickTimes(3) {
		e.analysisTick(now)
	}

	status := e.Status()
	if len(status.Spectrum) != e.Spectrum().BandCount() {
		t.Fatalf("status has %d spectrum values, want %d", len(status.Spectrum), e.Spectrum().BandCount())
	}
	if len(status.Bands) != len(BandNames) {
		t.Fatalf("status has %d bands, want %d", len(status.Bands), len(BandNames))
	}
	for i, b := range status.Bands {
		if b.Name != BandNames[i] {
			t.Fatalf("band %d named %q, want %q", i, b.Name, BandNames[i])
		}
	}
	if status.Input != "" {
		t.Fatalf("input %q without an open device, want empty", status.Input)
	}

	// The snapshot must be detached from engine internals.
	status.Spectrum[0] = 42
	if e.Status().Spectrum[0] == 42 {
		t.Fatal("status snapshot shares memory with the engine")
	}
}

func TestEngineStateRoundTrip(t *testing.T) {
	a := New(Config{})

	a.SetLowSolo(true)
	a.Spectrum().SetGain(2.5)
	a.Spectrum().SetCompression(0.8)
	a.Spectrum().SetDecibelConversion(true)
	a.Spectrum().SetAGCEnabled(true)

	a.Detector().SetRange(80, 160)
	a.Beat().SetMute(true)
	a.Beat().SetAutoDetect(false)
	a.Beat().SetOnCommand("/sound2osc/out/beat=1")
	a.Beat().SetOffCommand("/sound2osc/out/beat=0")

	bass := a.Band(BandBass)
	bass.Filter().SetMute(true)
	bass.SetThreshold(0.7)
	bass.SetMidFreq(90)
	bass.SetWidth(0.25)
	bass.Filter().SetOnDelay(0.05)
	bass.Filter().SetOffDelay(0.2)
	bass.Filter().SetMaxHold(1.5)
	bass.Params().SetOnMessage("/cue/1/fire")
	bass.Params().SetOffMessage("/cue/2/fire")
	bass.Params().SetLevelMessage("/fader/1=")
	bass.Params().SetLabel("Kick")
	bass.Params().SetLevelRange(0.1, 0.9)

	state := a.ToState()

	b := New(Config{})
	b.FromState(state)

	if got := b.ToState(); !reflect.DeepEqual(got, state) {
		t.Fatalf("state did not round-trip:\n got %+v\nwant %+v", got, state)
	}
}

func TestEngineFromStateIgnoresUnknownBand(t *testing.T) {
	e := New(Config{})
	state := e.ToState()
	state.Bands = append(state.Bands, BandState{Name: "nonexistent", Threshold: 0.9})

	e.FromState(state) // must not panic

	if got := len(e.ToState().Bands); got != len(BandNames) {
		t.Fatalf("band count %d after unknown band, want %d", got, len(BandNames))
	}
}

func TestEngineBandModesFixed(t *testing.T) {
	e := New(Config{})

	wantModes := map[string]trigger.Mode{
		BandBass:     trigger.Bandpass,
		BandLoMid:    trigger.Bandpass,
		BandHiMid:    trigger.Bandpass,
		BandHigh:     trigger.Bandpass,
		BandEnvelope: trigger.Envelope,
		BandSilence:  trigger.Silence,
	}
	for name, mode := range wantModes {
		g := e.Band(name)
		if g == nil {
			t.Fatalf("band %s missing", name)
		}
		if g.Mode() != mode {
			t.Fatalf("band %s mode = %v, want %v", name, g.Mode(), mode)
		}
	}
}
