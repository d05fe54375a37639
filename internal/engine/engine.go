// Package engine wires the capture buffer, spectral analyzer, trigger bands,
// beat detector and OSC transport together and drives them from a single
// analysis goroutine.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/sound2osc/sound2osc/internal/audio"
	"github.com/sound2osc/sound2osc/internal/bpm"
	"github.com/sound2osc/sound2osc/internal/dsp"
	"github.com/sound2osc/sound2osc/internal/osc"
	"github.com/sound2osc/sound2osc/internal/trigger"
)

// Fixed band set. Bands are created once at startup and reconfigured in
// place, never destroyed.
const (
	BandBass     = "bass"
	BandLoMid    = "loMid"
	BandHiMid    = "hiMid"
	BandHigh     = "high"
	BandEnvelope = "envelope"
	BandSilence  = "silence"
)

// BandNames lists the fixed bands in display order.
var BandNames = []string{BandBass, BandLoMid, BandHiMid, BandHigh, BandEnvelope, BandSilence}

const (
	tickRate       = 44.0
	tickInterval   = time.Second / 44
	statusInterval = 5 * time.Second

	defaultSampleRate = 44100
	windowSize        = 4096
)

// Observer receives typed change notifications from the engine. All
// callbacks run on the analysis goroutine and must not call back into the
// engine. Nil fields are skipped.
type Observer struct {
	SpectrumUpdated func(levels []float64)
	BandActive      func(name string, active bool)
	BPMChanged      func(value float64)
	MessageReceived func(msg *osc.Message)
}

// Config configures a new Engine. Zero values pick the defaults.
type Config struct {
	SampleRate float64 // defaults to 44100
	DeviceName string  // substring match, empty picks the best input
	Logger     *log.Logger
}

// Engine owns the whole pipeline. The OSC transport is owned here and
// handed to bands and the beat controller as a non-owning send handle.
type Engine struct {
	mu sync.Mutex

	logger     *log.Logger
	sampleRate float64
	deviceName string

	ring     *audio.Ring
	capture  *audio.Capture
	analyzer *dsp.Analyzer

	net *osc.NetworkManager

	bands   []*trigger.Generator
	byName  map[string]*trigger.Generator
	lowSolo bool

	detector *bpm.Detector
	tap      *bpm.TapTempo
	beat     *bpm.Controller
	lastBPM  float64

	observers    []Observer
	forceRelease bool

	status Status
}

// New creates a fully wired engine. The audio device is not opened yet;
// call Start for that.
func New(cfg Config) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	ring := audio.NewRing(audio.DefaultRingSize)

	e := &Engine{
		logger:     cfg.Logger,
		sampleRate: cfg.SampleRate,
		deviceName: cfg.DeviceName,
		ring:       ring,
		analyzer:   dsp.NewAnalyzer(ring, cfg.SampleRate, windowSize),
		net:        osc.NewNetworkManager(cfg.Logger),
		byName:     make(map[string]*trigger.Generator),
		detector:   bpm.NewDetector(ring, tickRate),
		tap:        bpm.NewTapTempo(bpm.DefaultMinBPM, bpm.DefaultMaxBPM),
	}
	e.beat = bpm.NewController(e.detector, e.tap, e.net)
	e.net.SetMessageHandler(e.handleIncoming)
	e.net.SetConnectedFunc(e.dumpState)

	for _, b := range []struct {
		name    string
		mode    trigger.Mode
		midFreq float64
	}{
		{BandBass, trigger.Bandpass, 80},
		{BandLoMid, trigger.Bandpass, 400},
		{BandHiMid, trigger.Bandpass, 1000},
		{BandHigh, trigger.Bandpass, 5000},
		{BandEnvelope, trigger.Envelope, 0},
		{BandSilence, trigger.Silence, 0},
	} {
		g := trigger.NewGenerator(b.name, e.net, b.mode, b.midFreq)
		name := b.name
		g.Filter().SetEdgeFunc(func(active bool) {
			e.notifyBand(name, active)
		})
		e.bands = append(e.bands, g)
		e.byName[b.name] = g
	}
	return e
}

// Network returns the owned OSC transport for connection configuration.
func (e *Engine) Network() *osc.NetworkManager { return e.net }

// Band returns the named trigger band, nil if unknown.
func (e *Engine) Band(name string) *trigger.Generator {
	return e.byName[name]
}

// Bands returns the fixed bands in display order.
func (e *Engine) Bands() []*trigger.Generator { return e.bands }

// Spectrum returns the analyzer's scaled spectrum for configuration.
func (e *Engine) Spectrum() *dsp.ScaledSpectrum { return e.analyzer.Spectrum() }

// Beat returns the BPM controller.
func (e *Engine) Beat() *bpm.Controller { return e.beat }

// Detector returns the automatic tempo detector.
func (e *Engine) Detector() *bpm.Detector { return e.detector }

// AddObserver registers a change listener. Not safe to call while Run is
// active.
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// LowSolo reports whether everything above the bass region is suppressed.
func (e *Engine) LowSolo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lowSolo
}

// SetLowSolo toggles bass-only analysis.
func (e *Engine) SetLowSolo(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lowSolo = enabled
}

// Tap feeds one manual tempo tap.
func (e *Engine) Tap() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.beat.Tap(time.Now())
}

// ForceRelease releases all active bands on the next analysis tick.
func (e *Engine) ForceRelease() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceRelease = true
}

// ActiveInputName returns the open capture device name, empty when no
// device could be opened. The pipeline stays inert but alive without one.
func (e *Engine) ActiveInputName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.capture == nil {
		return ""
	}
	return e.capture.ActiveInputName()
}

// Start opens the audio input. A capture failure is logged and tolerated:
// the spectrum stays silent and triggers stay inert.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.capture != nil {
		return nil
	}
	capture, err := audio.NewCapture(e.ring, audio.Config{
		DeviceName: e.deviceName,
		SampleRate: e.sampleRate,
	})
	if err != nil {
		e.logger.Printf("audio input unavailable: %v", err)
		return nil
	}
	e.capture = capture
	return nil
}

// Run drives the analysis loop until ctx is canceled: one tick for
// spectrum + triggers, one for beat detection, and a slow status tick.
// The ticks never overlap. On exit all bands are force-released and the
// transport is closed.
func (e *Engine) Run(ctx context.Context) error {
	spectral := time.NewTicker(tickInterval)
	defer spectral.Stop()
	beatTick := time.NewTicker(tickInterval)
	defer beatTick.Stop()
	status := time.NewTicker(statusInterval)
	defer status.Stop()

	defer e.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-spectral.C:
			e.analysisTick(now)
		case now := <-beatTick.C:
			e.beatTickAt(now)
		case <-status.C:
			e.statusTick()
		}
	}
}

// Close releases the audio device. Run's shutdown calls it too.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.capture != nil {
		e.capture.Close()
		e.capture = nil
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	for _, g := range e.bands {
		g.Check(e.analyzer.Spectrum(), true, time.Now())
	}
	e.mu.Unlock()
	e.Close()
	e.net.Close()
}

// analysisTick runs one spectral analysis pass and evaluates every band.
func (e *Engine) analysisTick(now time.Time) {
	e.mu.Lock()
	spectrum := e.analyzer.Analyze(e.lowSolo)
	release := e.forceRelease
	e.forceRelease = false
	for _, g := range e.bands {
		g.Check(spectrum, release, now)
	}
	e.updateStatusLocked(spectrum)
	levels := e.status.Spectrum
	e.mu.Unlock()

	for _, o := range e.observers {
		if o.SpectrumUpdated != nil {
			o.SpectrumUpdated(levels)
		}
	}
}

// beatTickAt advances tempo detection and publishes changes.
func (e *Engine) beatTickAt(now time.Time) {
	e.mu.Lock()
	e.beat.Process(now)
	value := e.beat.BPM()
	changed := value != e.lastBPM
	e.lastBPM = value
	e.mu.Unlock()

	if !changed {
		return
	}
	for _, o := range e.observers {
		if o.BPMChanged != nil {
			o.BPMChanged(value)
		}
	}
}

// statusTick retries a dropped TCP connection and logs a heartbeat line.
func (e *Engine) statusTick() {
	e.net.EnsureConnection()

	e.mu.Lock()
	input := ""
	if e.capture != nil {
		input = e.capture.ActiveInputName()
	}
	value := e.beat.BPM()
	stale := e.detector.IsStale(time.Now())
	e.mu.Unlock()

	suffix := ""
	if stale {
		suffix = " (stale)"
	}
	e.logger.Printf("BPM=%.1f%s, Audio=%q, Connected=%v", value, suffix, input, e.net.IsConnected())
}

func (e *Engine) notifyBand(name string, active bool) {
	for _, o := range e.observers {
		if o.BandActive != nil {
			o.BandActive(name, active)
		}
	}
}

// handleIncoming runs on a receive goroutine; it only logs and forwards.
func (e *Engine) handleIncoming(msg *osc.Message) {
	for _, o := range e.observers {
		if o.MessageReceived != nil {
			o.MessageReceived(msg)
		}
	}
}

// Status is a point-in-time snapshot for diagnostics consumers.
type Status struct {
	Spectrum  []float64    `json:"spectrum"`
	Bands     []BandStatus `json:"bands"`
	BPM       float64      `json:"bpm"`
	BPMStale  bool         `json:"bpmStale"`
	Input     string       `json:"input"`
	Connected bool         `json:"connected"`
}

// BandStatus describes one trigger band for diagnostics.
type BandStatus struct {
	Name      string  `json:"name"`
	Active    bool    `json:"active"`
	Level     float64 `json:"level"`
	Threshold float64 `json:"threshold"`
}

// Status returns a copy of the latest snapshot. Safe from any goroutine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.status
	s.Spectrum = append([]float64(nil), e.status.Spectrum...)
	s.Bands = append([]BandStatus(nil), e.status.Bands...)
	s.BPM = e.beat.BPM()
	s.BPMStale = e.detector.IsStale(time.Now())
	if e.capture != nil {
		s.Input = e.capture.ActiveInputName()
	}
	s.Connected = e.net.IsConnected()
	return s
}

// updateStatusLocked refreshes the snapshot after an analysis pass.
func (e *Engine) updateStatusLocked(spectrum *dsp.ScaledSpectrum) {
	e.status.Spectrum = append(e.status.Spectrum[:0], spectrum.Normalized()...)
	e.status.Bands = e.status.Bands[:0]
	for _, g := range e.bands {
		e.status.Bands = append(e.status.Bands, BandStatus{
			Name:      g.Name(),
			Active:    g.Active(),
			Level:     g.CurrentLevel(),
			Threshold: g.Threshold(),
		})
	}
}

// MessageLog returns the transport's recent message log, newest first.
func (e *Engine) MessageLog() []osc.LogEntry {
	return e.net.MessageLog()
}

// dumpState pushes the current output state to a console that just came up,
// bypassing deduplication. Runs on the reconnect caller's goroutine.
func (e *Engine) dumpState() {
	_ = e.net.Send(osc.NewMessage("/sound2osc/out/enabled", int32(1)), true)
	e.mu.Lock()
	e.beat.Republish()
	e.mu.Unlock()
}

// SendTestMessage pushes a forced message through the transport, used by
// the CLI to verify console connectivity.
func (e *Engine) SendTestMessage() error {
	if err := e.net.Send(osc.NewMessage("/sound2osc/out/enabled", int32(1)), true); err != nil {
		return fmt.Errorf("test message: %w", err)
	}
	return nil
}
