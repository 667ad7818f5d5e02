package shutdown

import (
	"os"
	"sync"
	"syscall"

	"diffusion_backend/core"
)

// SignalCounter escalates repeated termination signals. The first one
// starts a graceful shutdown; reaching forceAfter calls onForce.
type SignalCounter struct {
	mu         sync.Mutex
	count      int
	forceAfter int
	onForce    func(os.Signal)
}

func NewSignalCounter(forceAfter int, onForce func(os.Signal)) *SignalCounter {
	return &SignalCounter{forceAfter: forceAfter, onForce: onForce}
}

// Increment records sig and returns the new count. onForce runs under the
// counter's lock and is expected to exit the process.
func (s *SignalCounter) Increment(sig os.Signal) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	if s.count >= s.forceAfter && s.onForce != nil {
		s.onForce(sig)
	}
	return s.count
}

func (s *SignalCounter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// ExitCodeFor maps a termination signal to the conventional 128+n code.
func ExitCodeFor(sig os.Signal) int {
	switch sig {
	case os.Interrupt:
		return core.ExitCodeSIGINT
	case syscall.SIGTERM:
		return core.ExitCodeSIGTERM
	default:
		return core.ExitCodeError
	}
}
