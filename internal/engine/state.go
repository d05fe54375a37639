package engine

import (
	"github.com/sound2osc/sound2osc/internal/trigger"
)

// State is the persistable engine configuration. It round-trips losslessly
// through ToState/FromState and marshals cleanly to JSON for preset files.
type State struct {
	LowSolo  bool          `json:"lowSolo"`
	Spectrum SpectrumState `json:"spectrum"`
	BPM      BPMState      `json:"bpm"`
	Bands    []BandState   `json:"bands"`
}

// SpectrumState holds the scaling pipeline settings.
type SpectrumState struct {
	Gain        float64 `json:"gain"`
	Compression float64 `json:"compression"`
	Decibel     bool    `json:"decibel"`
	AGC         bool    `json:"agc"`
}

// BPMState holds the tempo detection settings.
type BPMState struct {
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Mute       bool    `json:"mute"`
	AutoDetect bool    `json:"autoDetect"`
	OnCommand  string  `json:"onCommand"`
	OffCommand string  `json:"offCommand"`
}

// BandState holds one trigger band's configuration.
type BandState struct {
	Name         string  `json:"name"`
	Mute         bool    `json:"mute"`
	Threshold    float64 `json:"threshold"`
	MidFreq      float64 `json:"midFreq"`
	Width        float64 `json:"width"`
	OnDelay      float64 `json:"onDelay"`
	OffDelay     float64 `json:"offDelay"`
	MaxHold      float64 `json:"maxHold"`
	OnMessage    string  `json:"onMessage"`
	OffMessage   string  `json:"offMessage"`
	LevelMessage string  `json:"levelMessage"`
	Label        string  `json:"label"`
	LevelMin     float64 `json:"levelMin"`
	LevelMax     float64 `json:"levelMax"`
}

// ToState snapshots the current configuration.
func (e *Engine) ToState() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	spectrum := e.analyzer.Spectrum()
	s := State{
		LowSolo: e.lowSolo,
		Spectrum: SpectrumState{
			Gain:        spectrum.Gain(),
			Compression: spectrum.Compression(),
			Decibel:     spectrum.DecibelConversion(),
			AGC:         spectrum.AGCEnabled(),
		},
		BPM: BPMState{
			Min:        e.detector.MinBPM(),
			Max:        e.detector.MaxBPM(),
			Mute:       e.beat.Mute(),
			AutoDetect: e.beat.AutoDetect(),
			OnCommand:  e.beat.OnCommand(),
			OffCommand: e.beat.OffCommand(),
		},
	}
	for _, g := range e.bands {
		s.Bands = append(s.Bands, bandState(g))
	}
	return s
}

func bandState(g *trigger.Generator) BandState {
	levelMin, levelMax := g.Params().LevelRange()
	return BandState{
		Name:         g.Name(),
		Mute:         g.Filter().Mute(),
		Threshold:    g.Threshold(),
		MidFreq:      g.MidFreq(),
		Width:        g.Width(),
		OnDelay:      g.Filter().OnDelay(),
		OffDelay:     g.Filter().OffDelay(),
		MaxHold:      g.Filter().MaxHold(),
		OnMessage:    g.Params().OnMessage(),
		OffMessage:   g.Params().OffMessage(),
		LevelMessage: g.Params().LevelMessage(),
		Label:        g.Params().Label(),
		LevelMin:     levelMin,
		LevelMax:     levelMax,
	}
}

// FromState applies a previously captured configuration. Band entries with
// unknown names are ignored; out-of-range values go through the same
// clamping as interactive changes.
func (e *Engine) FromState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lowSolo = s.LowSolo

	spectrum := e.analyzer.Spectrum()
	spectrum.SetGain(s.Spectrum.Gain)
	spectrum.SetCompression(s.Spectrum.Compression)
	spectrum.SetDecibelConversion(s.Spectrum.Decibel)
	spectrum.SetAGCEnabled(s.Spectrum.AGC)

	e.detector.SetRange(s.BPM.Min, s.BPM.Max)
	e.tap.SetRange(s.BPM.Min, s.BPM.Max)
	e.beat.SetMute(s.BPM.Mute)
	e.beat.SetAutoDetect(s.BPM.AutoDetect)
	e.beat.SetOnCommand(s.BPM.OnCommand)
	e.beat.SetOffCommand(s.BPM.OffCommand)

	for _, b := range s.Bands {
		g, ok := e.byName[b.Name]
		if !ok {
			continue
		}
		g.Filter().SetMute(b.Mute)
		g.SetThreshold(b.Threshold)
		if g.Mode() == trigger.Bandpass {
			g.SetMidFreq(b.MidFreq)
		}
		g.SetWidth(b.Width)
		g.Filter().SetOnDelay(b.OnDelay)
		g.Filter().SetOffDelay(b.OffDelay)
		g.Filter().SetMaxHold(b.MaxHold)
		g.Params().SetOnMessage(b.OnMessage)
		g.Params().SetOffMessage(b.OffMessage)
		g.Params().SetLevelMessage(b.LevelMessage)
		g.Params().SetLabel(b.Label)
		g.Params().SetLevelRange(b.LevelMin, b.LevelMax)
	}
}
