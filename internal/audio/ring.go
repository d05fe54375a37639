package audio

import "sync"

// DefaultRingSize holds about four analysis windows at the default window
// size of 4096 samples.
const DefaultRingSize = 16384

// Ring is a fixed-capacity circular store of mono samples. It is written by
// the capture callback and read by the analysis loop; a mutex keeps snapshots
// tear-free. Once full, the oldest samples are overwritten so readers always
// see the most recent audio.
type Ring struct {
	mu     sync.Mutex
	buf    []float64
	pos    int
	filled int
}

// NewRing creates a ring buffer holding capacity mono samples.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{buf: make([]float64, capacity)}
}

// Capacity returns the fixed sample capacity.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// Push downmixes interleaved frames to mono (arithmetic mean across channels)
// and appends them. The write never blocks longer than the snapshot copy of a
// concurrent reader and performs no allocation.
func (r *Ring) Push(samples []float32, channels int) {
	if channels <= 0 {
		channels = 1
	}
	frames := len(samples) / channels
	if frames == 0 {
		return
	}

	r.mu.Lock()
	for f := 0; f < frames; f++ {
		sum := float32(0)
		base := f * channels
		for ch := 0; ch < channels; ch++ {
			sum += samples[base+ch]
		}
		r.buf[r.pos] = float64(sum) / float64(channels)
		r.pos++
		if r.pos == len(r.buf) {
			r.pos = 0
		}
	}
	r.filled += frames
	if r.filled > len(r.buf) {
		r.filled = len(r.buf)
	}
	r.mu.Unlock()
}

// PushMono appends already-mono float64 samples. Used by tests and synthetic
// feeds.
func (r *Ring) PushMono(samples []float64) {
	r.mu.Lock()
	for _, s := range samples {
		r.buf[r.pos] = s
		r.pos++
		if r.pos == len(r.buf) {
			r.pos = 0
		}
	}
	r.filled += len(samples)
	if r.filled > len(r.buf) {
		r.filled = len(r.buf)
	}
	r.mu.Unlock()
}

// Snapshot copies the most recent count samples into dst in chronological
// order and returns it. If fewer samples have ever been written, the front of
// dst is zero-padded. dst is allocated when nil or too small.
func (r *Ring) Snapshot(dst []float64, count int) []float64 {
	if count > len(r.buf) {
		count = len(r.buf)
	}
	if cap(dst) < count {
		dst = make([]float64, count)
	}
	dst = dst[:count]

	r.mu.Lock()
	avail := r.filled
	if avail > count {
		avail = count
	}
	pad := count - avail
	for i := 0; i < pad; i++ {
		dst[i] = 0
	}
	start := r.pos - avail
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < avail; i++ {
		idx := start + i
		if idx >= len(r.buf) {
			idx -= len(r.buf)
		}
		dst[pad+i] = r.buf[idx]
	}
	r.mu.Unlock()
	return dst
}

// Reset clears the buffer contents and fill state.
func (r *Ring) Reset() {
	r.mu.Lock()
	for i := range r.buf {
		r.buf[i] = 0
	}
	r.pos = 0
	r.filled = 0
	r.mu.Unlock()
}
