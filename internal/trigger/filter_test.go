package trigger

import (
	"testing"
	"time"

	"github.com/sound2osc/sound2osc/internal/osc"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(m *osc.Message, forced bool) error {
	f.sent = append(f.sent, m.String())
	return nil
}

func (f *fakeSender) SendCommand(cmd string, forced bool) error {
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSender) count(msg string) int {
	n := 0
	for _, s := range f.sent {
		if s == msg {
			n++
		}
	}
	return n
}

func newTestFilter() (*Filter, *fakeSender) {
	sender := &fakeSender{}
	params := NewOscParameters()
	params.SetOnMessage("/band/on=1")
	params.SetOffMessage("/band/off=1")
	return NewFilter(sender, params), sender
}

func TestFilterOnDelayDebounce(t *testing.T) {
	f, sender := newTestFilter()
	f.SetOnDelay(0.1)
	now := time.Unix(0, 0)

	f.TriggerOn(now)
	f.Tick(now)
	if f.Active() {
		t.Fatal("active before on-delay elapsed")
	}

	// Signal keeps being present; the running timer must not re-arm.
	now = now.Add(50 * time.Millisecond)
	f.TriggerOn(now)
	f.Tick(now)
	if f.Active() {
		t.Fatal("active before on-delay elapsed")
	}

	now = now.Add(60 * time.Millisecond) // 110 ms after the first edge
	f.TriggerOn(now)
	f.Tick(now)
	if !f.Active() {
		t.Fatal("not active after on-delay elapsed; timer was likely re-armed")
	}
	if got := sender.count("/band/on=1"); got != 1 {
		t.Fatalf("on-message count=%d want=1", got)
	}
}

func TestFilterSignalDropCancelsOnDelay(t *testing.T) {
	f, sender := newTestFilter()
	f.SetOnDelay(0.1)
	now := time.Unix(0, 0)

	f.TriggerOn(now)
	f.Tick(now)
	now = now.Add(50 * time.Millisecond)
	f.TriggerOff(now)
	f.Tick(now)
	if f.State() != Idle {
		t.Fatalf("state=%v want=idle after signal dropped inside on-delay", f.State())
	}

	now = now.Add(time.Second)
	f.Tick(now)
	if len(sender.sent) != 0 {
		t.Fatalf("unexpected emissions %v", sender.sent)
	}
}

func TestFilterOffDelayAndCancel(t *testing.T) {
	f, sender := newTestFilter()
	f.SetOffDelay(0.1)
	now := time.Unix(0, 0)

	f.TriggerOn(now)
	f.Tick(now) // zero on-delay activates immediately
	if !f.Active() {
		t.Fatal("expected immediate activation with zero on-delay")
	}

	// Signal drops: pending off.
	now = now.Add(10 * time.Millisecond)
	f.TriggerOff(now)
	f.Tick(now)
	if f.State() != PendingOff {
		t.Fatalf("state=%v want=pending-off", f.State())
	}

	// Signal returns within the off-delay: release canceled, no off-message,
	// no second on-message.
	now = now.Add(50 * time.Millisecond)
	f.TriggerOn(now)
	f.Tick(now)
	if f.State() != Active {
		t.Fatalf("state=%v want=active", f.State())
	}

	now = now.Add(time.Second)
	f.TriggerOn(now)
	f.Tick(now)
	if got := sender.count("/band/off=1"); got != 0 {
		t.Fatalf("off-message count=%d want=0 after canceled release", got)
	}
	if got := sender.count("/band/on=1"); got != 1 {
		t.Fatalf("on-message count=%d want=1", got)
	}

	// Now let the release complete.
	f.TriggerOff(now)
	f.Tick(now)
	now = now.Add(110 * time.Millisecond)
	f.TriggerOff(now)
	f.Tick(now)
	if f.State() != Idle {
		t.Fatalf("state=%v want=idle", f.State())
	}
	if got := sender.count("/band/off=1"); got != 1 {
		t.Fatalf("off-message count=%d want=1", got)
	}
}

func TestFilterMaxHoldForcesRelease(t *testing.T) {
	f, sender := newTestFilter()
	f.SetMaxHold(0.2)
	now := time.Unix(0, 0)

	f.TriggerOn(now)
	f.Tick(now)
	if !f.Active() {
		t.Fatal("expected activation")
	}

	// Signal stays present past max-hold.
	for i := 0; i < 12; i++ {
		now = now.Add(20 * time.Millisecond)
		f.TriggerOn(now)
		f.Tick(now)
	}
	if f.State() != Idle && f.State() != PendingOn && f.State() != Active {
		t.Fatalf("unexpected state %v", f.State())
	}
	if got := sender.count("/band/off=1"); got != 1 {
		t.Fatalf("off-message count=%d want=1 from max-hold", got)
	}
	// The still-present signal started a fresh cycle, so a second on-message
	// is allowed but requires a new activation.
	if got := sender.count("/band/on=1"); got != 2 {
		t.Fatalf("on-message count=%d want=2 (initial + post-max-hold cycle)", got)
	}
}

func TestFilterMaxHoldRequiresNewOnDelayCycle(t *testing.T) {
	f, sender := newTestFilter()
	f.SetMaxHold(0.1)
	f.SetOnDelay(0.05)
	now := time.Unix(0, 0)

	f.TriggerOn(now)
	f.Tick(now)
	now = now.Add(60 * time.Millisecond)
	f.TriggerOn(now)
	f.Tick(now)
	if !f.Active() {
		t.Fatal("expected activation after on-delay")
	}

	// Max-hold elapses at t=160ms.
	now = now.Add(110 * time.Millisecond)
	f.TriggerOn(now)
	f.Tick(now)
	if f.Active() {
		t.Fatal("expected max-hold release")
	}
	if got := sender.count("/band/on=1"); got != 1 {
		t.Fatalf("on-message count=%d want=1 right after max-hold", got)
	}

	// A fresh edge starts a new PendingOn cycle; activation only after a
	// full fresh on-delay.
	now = now.Add(30 * time.Millisecond)
	f.TriggerOn(now)
	f.Tick(now)
	if f.Active() {
		t.Fatal("activated before the fresh on-delay elapsed")
	}
	now = now.Add(60 * time.Millisecond)
	f.TriggerOn(now)
	f.Tick(now)
	if !f.Active() {
		t.Fatal("expected re-activation after fresh on-delay")
	}
}

func TestFilterForceRelease(t *testing.T) {
	f, sender := newTestFilter()
	now := time.Unix(0, 0)

	// Pending on-delay: canceled without emission.
	f.SetOnDelay(1)
	f.TriggerOn(now)
	f.Tick(now)
	f.ForceRelease()
	if f.State() != Idle || len(sender.sent) != 0 {
		t.Fatalf("state=%v sent=%v", f.State(), sender.sent)
	}

	// Active: off-message emitted.
	f.SetOnDelay(0)
	f.TriggerOn(now)
	f.Tick(now)
	f.ForceRelease()
	if got := sender.count("/band/off=1"); got != 1 {
		t.Fatalf("off-message count=%d want=1", got)
	}
}

func TestFilterMuteSuppressesOscNotState(t *testing.T) {
	f, sender := newTestFilter()
	f.SetMute(true)
	now := time.Unix(0, 0)

	f.TriggerOn(now)
	f.Tick(now)
	if !f.Active() {
		t.Fatal("mute must not block the state machine")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("muted band sent %v", sender.sent)
	}
}

func TestFilterEdgeCallback(t *testing.T) {
	f, _ := newTestFilter()
	var edges []bool
	f.SetEdgeFunc(func(active bool) { edges = append(edges, active) })
	now := time.Unix(0, 0)

	f.TriggerOn(now)
	f.Tick(now)
	f.TriggerOff(now)
	f.Tick(now)
	if len(edges) != 2 || !edges[0] || edges[1] {
		t.Fatalf("edges=%v want=[true false]", edges)
	}
}
