package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// spinnerInterval is the time between frames.
const spinnerInterval = 100 * time.Millisecond

// Spinner displays a progress animation. A nil *Spinner is a no-op, so
// callers that are quiet need no branches.
type Spinner struct {
	w       io.Writer
	message string
	frames  []string

	once    sync.Once
	done    chan struct{}
	stopped chan struct{}
}

// NewSpinner creates a new spinner.
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		w:       w,
		message: message,
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start starts the spinner animation.
func (s *Spinner) Start() {
	if s == nil {
		return
	}
	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(spinnerInterval)
		defer ticker.Stop()

		for i := 0; ; i++ {
			fmt.Fprintf(s.w, "\r%s %s", s.frames[i%len(s.frames)], s.message)
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop stops the spinner and clears the line.
func (s *Spinner) Stop() {
	s.finish("\r\033[K")
}

// Success stops the spinner with a success message.
func (s *Spinner) Success(message string) {
	s.finish(fmt.Sprintf("\r\033[K✓ %s\n", message))
}

// Fail stops the spinner with a failure message.
func (s *Spinner) Fail(message string) {
	s.finish(fmt.Sprintf("\r\033[K✗ %s\n", message))
}

// finish stops the animation once and writes last after the final frame.
// Calls after the first do nothing.
func (s *Spinner) finish(last string) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.done)
		select {
		case <-s.stopped:
		case <-time.After(time.Second):
		}
		fmt.Fprint(s.w, last)
	})
}
