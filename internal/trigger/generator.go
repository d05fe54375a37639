package trigger

import (
	"time"

	"github.com/sound2osc/sound2osc/internal/dsp"
	"github.com/sound2osc/sound2osc/internal/osc"
)

// Mode selects how a band derives its level from the scaled spectrum.
type Mode int

const (
	// Bandpass takes the maximum level around a center frequency.
	Bandpass Mode = iota
	// Envelope takes the maximum level over the whole spectrum.
	Envelope
	// Silence fires when the envelope level drops below the threshold.
	Silence
)

// Default detection parameters for a fresh band.
const (
	DefaultThreshold = 0.5
	DefaultWidth     = 0.1
)

// Generator is one configured trigger band: it derives a level from each
// scaled spectrum, compares it against the threshold and drives its debounce
// filter. Bands are created once at startup and live for the whole process.
type Generator struct {
	name    string
	mode    Mode
	midFreq float64
	width   float64

	threshold    float64
	currentLevel float64

	sender Sender
	params *OscParameters
	filter *Filter
}

// NewGenerator creates a band. midFreq is only meaningful in Bandpass mode.
func NewGenerator(name string, sender Sender, mode Mode, midFreq float64) *Generator {
	params := NewOscParameters()
	params.SetLabel(name)
	return &Generator{
		name:      name,
		mode:      mode,
		midFreq:   midFreq,
		width:     DefaultWidth,
		threshold: DefaultThreshold,
		sender:    sender,
		params:    params,
		filter:    NewFilter(sender, params),
	}
}

// Name returns the fixed band name.
func (g *Generator) Name() string { return g.name }

// Mode returns the detection mode.
func (g *Generator) Mode() Mode { return g.mode }

// Filter returns the band's debounce filter.
func (g *Generator) Filter() *Filter { return g.filter }

// Params returns the band's OSC message templates.
func (g *Generator) Params() *OscParameters { return g.params }

// Threshold returns the detection threshold in [0,1].
func (g *Generator) Threshold() float64 { return g.threshold }

// SetThreshold sets the detection threshold, clamped to [0,1].
func (g *Generator) SetThreshold(v float64) { g.threshold = clamp01(v) }

// MidFreq returns the bandpass center frequency in Hz.
func (g *Generator) MidFreq() float64 { return g.midFreq }

// SetMidFreq sets the bandpass center frequency, clamped to a usable range.
func (g *Generator) SetMidFreq(hz float64) {
	if hz < 10 {
		hz = 10
	}
	if hz > 22050 {
		hz = 22050
	}
	g.midFreq = hz
}

// Width returns the relative bandpass width.
func (g *Generator) Width() float64 { return g.width }

// SetWidth sets the relative bandpass width, clamped to [0,1].
func (g *Generator) SetWidth(v float64) { g.width = clamp01(v) }

// CurrentLevel returns the level seen on the last Check call.
func (g *Generator) CurrentLevel() float64 { return g.currentLevel }

// Active reports whether the band output is currently on.
func (g *Generator) Active() bool { return g.filter.Active() }

// Check evaluates the band against spectrum once. It drives the debounce
// filter, emits the level message while active, and returns whether the
// signal condition is currently met. forceRelease drops the output
// immediately regardless of signal.
func (g *Generator) Check(spectrum *dsp.ScaledSpectrum, forceRelease bool, now time.Time) bool {
	switch g.mode {
	case Bandpass:
		g.currentLevel = spectrum.MaxLevelInBand(g.midFreq, g.width)
	default:
		g.currentLevel = spectrum.MaxLevel()
	}

	present := g.currentLevel >= g.threshold
	if g.mode == Silence {
		present = g.currentLevel < g.threshold
	}

	if forceRelease {
		g.filter.ForceRelease()
		return present
	}

	if present {
		g.filter.TriggerOn(now)
	} else {
		g.filter.TriggerOff(now)
	}
	g.filter.Tick(now)

	if g.filter.Active() {
		g.sendLevel()
	}
	return present
}

// sendLevel sends the remapped current level on the configured path. The
// transport suppresses repeats of an unchanged value.
func (g *Generator) sendLevel() {
	path := g.params.LevelMessage()
	if path == "" || g.filter.Mute() || g.sender == nil {
		return
	}
	value := g.params.RemapLevel(g.currentLevel)
	_ = g.sender.Send(osc.NewMessage(path, float32(value)), false)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
