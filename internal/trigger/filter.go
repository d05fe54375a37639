package trigger

import (
	"time"

	"github.com/sound2osc/sound2osc/internal/osc"
)

// Sender is the slice of the OSC transport the trigger engine needs. The
// transport is owned by the engine; filters hold a non-owning reference.
type Sender interface {
	Send(msg *osc.Message, forced bool) error
	SendCommand(cmd string, forced bool) error
}

// State is the debounce state of a Filter.
type State int

const (
	// Idle: output off, no timer pending.
	Idle State = iota
	// PendingOn: signal present, waiting out the on-delay.
	PendingOn
	// Active: output on.
	Active
	// PendingOff: signal absent, waiting out the off-delay.
	PendingOff
)

func (s State) String() string {
	switch s {
	case PendingOn:
		return "pending-on"
	case Active:
		return "active"
	case PendingOff:
		return "pending-off"
	default:
		return "idle"
	}
}

// Filter debounces a boolean signal with on-delay, off-delay and max-hold
// times. Timers are explicit deadlines checked once per tick on the analysis
// thread; a running timer is never re-armed by a repeated edge. Output
// transitions are edge-triggered.
type Filter struct {
	onDelay  float64
	offDelay float64
	maxHold  float64

	state           State
	deadline        time.Time // on-delay or off-delay deadline
	maxHoldDeadline time.Time // armed on activation when maxHold > 0

	mute   bool
	sender Sender
	params *OscParameters

	// onEdge is notified after every emitted on/off transition.
	onEdge func(active bool)
}

// NewFilter creates an idle filter sending through sender (may be nil for
// detached use in tests) with templates from params.
func NewFilter(sender Sender, params *OscParameters) *Filter {
	return &Filter{sender: sender, params: params}
}

// SetEdgeFunc registers a callback invoked after each on/off emission.
func (f *Filter) SetEdgeFunc(fn func(active bool)) {
	f.onEdge = fn
}

// SetMute suppresses outgoing OSC without altering the state machine.
func (f *Filter) SetMute(mute bool) { f.mute = mute }

// Mute reports whether OSC output is suppressed.
func (f *Filter) Mute() bool { return f.mute }

// OnDelay returns the on-delay in seconds.
func (f *Filter) OnDelay() float64 { return f.onDelay }

// SetOnDelay sets the on-delay in seconds (clamped to >= 0).
func (f *Filter) SetOnDelay(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	f.onDelay = seconds
}

// OffDelay returns the off-delay in seconds.
func (f *Filter) OffDelay() float64 { return f.offDelay }

// SetOffDelay sets the off-delay in seconds (clamped to >= 0).
func (f *Filter) SetOffDelay(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	f.offDelay = seconds
}

// MaxHold returns the maximum hold time in seconds (0 = unlimited).
func (f *Filter) MaxHold() float64 { return f.maxHold }

// SetMaxHold sets the maximum hold time in seconds (clamped to >= 0).
func (f *Filter) SetMaxHold(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	f.maxHold = seconds
}

// State returns the current debounce state.
func (f *Filter) State() State { return f.state }

// Active reports whether the output is on.
func (f *Filter) Active() bool {
	return f.state == Active || f.state == PendingOff
}

// TriggerOn handles a "signal present" observation. A fresh edge from Idle
// arms the on-delay; a repeated observation while PendingOn or Active is
// ignored, and one during PendingOff cancels the pending release.
func (f *Filter) TriggerOn(now time.Time) {
	switch f.state {
	case Idle:
		f.state = PendingOn
		f.deadline = now.Add(durationOf(f.onDelay))
	case PendingOff:
		// Release canceled, output stays on. No re-emit.
		f.state = Active
		f.deadline = time.Time{}
	}
}

// TriggerOff handles a "signal absent" observation. It cancels a pending
// on-delay, arms the off-delay from Active, and is ignored otherwise.
func (f *Filter) TriggerOff(now time.Time) {
	switch f.state {
	case PendingOn:
		f.state = Idle
		f.deadline = time.Time{}
	case Active:
		f.state = PendingOff
		f.deadline = now.Add(durationOf(f.offDelay))
	}
}

// Tick fires any elapsed deadline. Called once per analysis tick after
// TriggerOn/TriggerOff.
func (f *Filter) Tick(now time.Time) {
	switch f.state {
	case PendingOn:
		if !now.Before(f.deadline) {
			f.state = Active
			f.deadline = time.Time{}
			if f.maxHold > 0 {
				f.maxHoldDeadline = now.Add(durationOf(f.maxHold))
			}
			f.sendOn()
		}
	case Active:
		if !f.maxHoldDeadline.IsZero() && !now.Before(f.maxHoldDeadline) {
			f.release()
		}
	case PendingOff:
		// Whichever of off-delay and max-hold elapses first releases.
		if !now.Before(f.deadline) {
			f.release()
		} else if !f.maxHoldDeadline.IsZero() && !now.Before(f.maxHoldDeadline) {
			f.release()
		}
	}
}

// ForceRelease immediately drops the output. An off-event is emitted only if
// the output was on; a pending on-delay is simply canceled. Used during
// shutdown and preset changes.
func (f *Filter) ForceRelease() {
	wasOn := f.Active()
	f.state = Idle
	f.deadline = time.Time{}
	f.maxHoldDeadline = time.Time{}
	if wasOn {
		f.sendOff()
	}
}

func (f *Filter) release() {
	f.state = Idle
	f.deadline = time.Time{}
	f.maxHoldDeadline = time.Time{}
	f.sendOff()
}

func (f *Filter) sendOn() {
	if msg := f.params.OnMessage(); msg != "" && !f.mute && f.sender != nil {
		_ = f.sender.SendCommand(msg, false)
	}
	if f.onEdge != nil {
		f.onEdge(true)
	}
}

func (f *Filter) sendOff() {
	if msg := f.params.OffMessage(); msg != "" && !f.mute && f.sender != nil {
		_ = f.sender.SendCommand(msg, false)
	}
	if f.onEdge != nil {
		f.onEdge(false)
	}
}

func durationOf(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
