// Package trigger implements per-band level-crossing detection with
// debounced on/off state machines and OSC message templates.
package trigger

import "strings"

// OscParameters holds the user-configurable OSC message templates of one
// band: what to send on activation, on release, and (optionally) every tick
// while active, plus the level value range for the level message.
type OscParameters struct {
	onMessage     string
	offMessage    string
	levelMessage  string
	label         string
	minLevelValue float64
	maxLevelValue float64
}

// NewOscParameters returns empty templates with a [0,1] level range.
func NewOscParameters() *OscParameters {
	return &OscParameters{maxLevelValue: 1}
}

// OnMessage returns the activation message template.
func (p *OscParameters) OnMessage() string { return p.onMessage }

// SetOnMessage sets the activation message template.
func (p *OscParameters) SetOnMessage(msg string) { p.onMessage = msg }

// OffMessage returns the release message template.
func (p *OscParameters) OffMessage() string { return p.offMessage }

// SetOffMessage sets the release message template.
func (p *OscParameters) SetOffMessage(msg string) { p.offMessage = msg }

// LevelMessage returns the level message path template. A trailing '=' is
// stripped; the remapped level is appended as the single argument.
func (p *OscParameters) LevelMessage() string { return p.levelMessage }

// SetLevelMessage sets the level message path template.
func (p *OscParameters) SetLevelMessage(msg string) {
	p.levelMessage = strings.TrimSuffix(msg, "=")
}

// Label returns the user-facing band label.
func (p *OscParameters) Label() string { return p.label }

// SetLabel sets the user-facing band label.
func (p *OscParameters) SetLabel(label string) { p.label = label }

// LevelRange returns the [min,max] range the level is remapped into.
func (p *OscParameters) LevelRange() (minVal, maxVal float64) {
	return p.minLevelValue, p.maxLevelValue
}

// SetLevelRange sets the level remap range.
func (p *OscParameters) SetLevelRange(minVal, maxVal float64) {
	p.minLevelValue = minVal
	p.maxLevelValue = maxVal
}

// RemapLevel maps a normalized level in [0,1] into the configured range.
func (p *OscParameters) RemapLevel(level float64) float64 {
	return p.minLevelValue + (p.maxLevelValue-p.minLevelValue)*level
}
