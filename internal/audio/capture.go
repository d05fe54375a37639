package audio

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Capture wraps a PortAudio input stream and feeds downmixed mono samples
// into a Ring. The stream callback runs on the PortAudio thread and does
// nothing beyond the downmix-and-push.
type Capture struct {
	stream     *portaudio.Stream
	sampleRate float64
	channels   int
	device     *portaudio.DeviceInfo
	ring       *Ring
}

// Config controls how a Capture instance is created.
type Config struct {
	DeviceName string
	Channels   int
	SampleRate float64 // 0 uses the device default
}

// NewCapture opens a PortAudio input stream on the named device (substring
// match, best available input when empty) and starts pushing into ring.
func NewCapture(ring *Ring, cfg Config) (*Capture, error) {
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}

	device, err := findDevice(cfg.DeviceName)
	if err != nil {
		return nil, err
	}
	channels := cfg.Channels
	if device.MaxInputChannels < channels {
		channels = device.MaxInputChannels
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = device.DefaultSampleRate
	}

	capture := &Capture{
		sampleRate: sampleRate,
		channels:   channels,
		device:     device,
		ring:       ring,
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      capture.sampleRate,
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}, capture.process)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	capture.stream = stream

	if err := capture.stream.Start(); err != nil {
		_ = capture.stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return capture, nil
}

// Close stops and closes the underlying PortAudio stream.
func (c *Capture) Close() error {
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Stop(); err != nil && !errorsIsInvalidStreamState(err) {
		return err
	}
	return c.stream.Close()
}

// SampleRate returns the stream sample rate.
func (c *Capture) SampleRate() float64 {
	return c.sampleRate
}

// ActiveInputName returns the name of the open input device.
func (c *Capture) ActiveInputName() string {
	if c.device == nil {
		return ""
	}
	return c.device.Name
}

func (c *Capture) process(in []float32) {
	c.ring.Push(in, c.channels)
}

// errorsIsInvalidStreamState checks if the provided error stems from stopping an already stopped stream.
func errorsIsInvalidStreamState(err error) bool {
	if err == nil {
		return false
	}
	const invalidStateMsg = "PaErrorCode -9986"
	return strings.Contains(err.Error(), invalidStateMsg)
}
