package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

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

func TestTracker_Summary(t *testing.T) {
	var out syncBuffer
	p := New(&out, 3, "Restoring")
	p.Increment()
	p.Increment()
	p.Fail()
	p.Finish()
	p.Finish()

	s := out.String()
	assert.True(t, strings.HasSuffix(strings.TrimRight(s, " \n"), "1 failed)"), s)
	assert.Contains(t, s, "✗ Restoring (3 files")
	assert.Equal(t, 1, strings.Count(s, "\n"))
}

func TestTracker_RendersWhileRunning(t *testing.T) {
	var out syncBuffer
	p := New(&out, 0, "Storing")
	p.Increment()
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Storing [1 files]")
	}, 2*time.Second, 20*time.Millisecond)
	p.Finish()
	assert.Contains(t, out.String(), "✓ Storing (1 files")
}
