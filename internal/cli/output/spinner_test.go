package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_Success(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "Joining")
	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Success("synced")

	out := buf.String()
	if !strings.Contains(out, "Joining") {
		t.Errorf("output = %q, want the message", out)
	}
	if !strings.HasSuffix(out, "✓ synced\n") {
		t.Errorf("output = %q, want the success line last", out)
	}
}

func TestSpinner_StopTwice(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "Joining")
	s.Start()
	s.Fail("refused")
	s.Stop()

	if got := strings.Count(buf.String(), "✗ refused"); got != 1 {
		t.Errorf("failure line written %d times", got)
	}
}

func TestSpinner_Nil(t *testing.T) {
	var s *Spinner
	s.Start()
	s.Success("done")
	s.Stop()
}
