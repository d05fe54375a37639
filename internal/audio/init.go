package audio

import (
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio keeps process-wide state, so the library is brought up and torn
// down exactly once no matter how many captures the process opens.
var (
	initOnce sync.Once
	termOnce sync.Once
	initErr  error
)

// Initialize starts the PortAudio runtime. Repeat calls return the result of
// the first attempt.
func Initialize() error {
	initOnce.Do(func() {
		initErr = portaudio.Initialize()
	})
	return initErr
}

// Terminate releases the PortAudio runtime. A no-op when Initialize failed
// or was never called successfully.
func Terminate() {
	if initErr != nil {
		return
	}
	termOnce.Do(func() {
		_ = portaudio.Terminate()
	})
}
