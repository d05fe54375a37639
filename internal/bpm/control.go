package bpm

import (
	"strconv"
	"strings"
	"time"

	"github.com/sound2osc/sound2osc/internal/osc"
)

// Sender is the transport handle the controller sends through. The engine
// owns the actual connection.
type Sender interface {
	Send(msg *osc.Message, forced bool) error
	SendCommand(command string, forced bool) error
}

// bpmAddress carries the current estimate to listeners on every change.
const bpmAddress = "/sound2osc/out/bpm"

// Controller publishes the tempo over OSC: the BPM value whenever it
// changes, and an optional beat-on/beat-off command pair pulsed once per
// beat. The placeholder <BPM> in a command is replaced with the rounded
// estimate, so consoles can ingest e.g. "/eos/user/0/cmd/BPM <BPM>#".
type Controller struct {
	detector *Detector
	tap      *TapTempo
	sender   Sender

	mute       bool
	autoDetect bool

	onCommand  string
	offCommand string

	lastSent float64
	nextBeat time.Time
	offAt    time.Time
	beatOn   bool
}

// NewController wires a detector and tap source to a transport handle.
// Auto detection starts enabled.
func NewController(detector *Detector, tap *TapTempo, sender Sender) *Controller {
	return &Controller{
		detector:   detector,
		tap:        tap,
		sender:     sender,
		autoDetect: true,
	}
}

// BPM returns the effective tempo: the detector's while auto detection is
// on, the tapped one otherwise.
func (c *Controller) BPM() float64 {
	if c.autoDetect {
		return c.detector.BPM()
	}
	return c.tap.BPM()
}

// Mute reports whether OSC output is suppressed.
func (c *Controller) Mute() bool { return c.mute }

// SetMute suppresses or resumes OSC output. Detection keeps running while
// muted.
func (c *Controller) SetMute(mute bool) { c.mute = mute }

// AutoDetect reports whether the detector (true) or tap tempo (false) is
// the active source.
func (c *Controller) AutoDetect() bool { return c.autoDetect }

// SetAutoDetect switches between automatic detection and tap tempo.
// Re-enabling detection starts from a clean history.
func (c *Controller) SetAutoDetect(enabled bool) {
	if enabled && !c.autoDetect {
		c.detector.ResetCache()
	}
	c.autoDetect = enabled
}

// OnCommand returns the beat-on command template.
func (c *Controller) OnCommand() string { return c.onCommand }

// SetOnCommand sets the command sent at each beat start.
func (c *Controller) SetOnCommand(cmd string) { c.onCommand = cmd }

// OffCommand returns the beat-off command template.
func (c *Controller) OffCommand() string { return c.offCommand }

// SetOffCommand sets the command sent half a beat after each beat start.
func (c *Controller) SetOffCommand(cmd string) { c.offCommand = cmd }

// Tap registers a manual tap and, when tap tempo is the active source,
// publishes the new value.
func (c *Controller) Tap(now time.Time) {
	c.tap.Tap(now)
	if !c.autoDetect {
		c.publish(now)
	}
}

// Process runs one tick: advances the detector when it is the active
// source, publishes value changes, and pulses the beat commands.
func (c *Controller) Process(now time.Time) {
	if c.autoDetect {
		c.detector.Process(now)
	}
	c.publish(now)
	c.pulse(now)
}

// publish sends the BPM value when it changed since the last send.
func (c *Controller) publish(now time.Time) {
	bpm := c.BPM()
	if bpm == 0 || bpm == c.lastSent {
		return
	}
	c.lastSent = bpm
	if c.mute || c.sender == nil {
		return
	}
	c.sender.Send(osc.NewMessage(bpmAddress, float32(bpm)), false)
}

// Republish force-sends the current BPM regardless of the last sent value.
// Used after the console reconnects and starts from a blank state.
func (c *Controller) Republish() {
	bpm := c.BPM()
	if bpm == 0 {
		return
	}
	c.lastSent = bpm
	if c.mute || c.sender == nil {
		return
	}
	c.sender.Send(osc.NewMessage(bpmAddress, float32(bpm)), true)
}

// pulse emits the beat-on command at each beat boundary and the beat-off
// command half a period later.
func (c *Controller) pulse(now time.Time) {
	bpm := c.BPM()
	if bpm == 0 {
		c.nextBeat = time.Time{}
		return
	}
	period := time.Duration(float64(time.Minute) / bpm)

	if c.nextBeat.IsZero() {
		c.nextBeat = now.Add(period)
		return
	}
	if c.beatOn && !now.Before(c.offAt) {
		c.beatOn = false
		c.sendCommand(c.offCommand, bpm)
	}
	if !now.Before(c.nextBeat) {
		c.beatOn = true
		c.offAt = c.nextBeat.Add(period / 2)
		// Step forward instead of rescheduling from now to keep phase.
		c.nextBeat = c.nextBeat.Add(period)
		if c.nextBeat.Before(now) {
			c.nextBeat = now.Add(period)
		}
		c.sendCommand(c.onCommand, bpm)
	}
}

func (c *Controller) sendCommand(template string, bpm float64) {
	if template == "" || c.mute || c.sender == nil {
		return
	}
	cmd := strings.ReplaceAll(template, "<BPM>", strconv.Itoa(int(bpm+0.5)))
	c.sender.SendCommand(cmd, true)
}
