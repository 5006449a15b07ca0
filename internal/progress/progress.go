package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Tracker renders a single-line spinner with a file counter until Finish.
// With total 0 only the count is shown.
type Tracker struct {
	out       io.Writer
	total     int
	current   int
	failed    int
	message   string
	mu        sync.Mutex
	startTime time.Time
	done      chan struct{}
	exited    chan struct{}
	once      sync.Once
}

func New(out io.Writer, total int, message string) *Tracker {
	p := &Tracker{
		out:       out,
		total:     total,
		message:   message,
		startTime: time.Now(),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	go p.render()
	return p
}

func (p *Tracker) render() {
	defer close(p.exited)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	spinner := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	frame := 0

	for {
		select {
		case <-p.done:
			p.mu.Lock()
			elapsed := time.Since(p.startTime)
			mark := "✓"
			if p.failed > 0 {
				mark = "✗"
			}
			fmt.Fprintf(p.out, "\r%s %s (%d files, %s%s)          \n",
				mark, p.message, p.current, elapsed.Round(time.Millisecond), p.failedSuffix())
			p.mu.Unlock()
			return

		case <-ticker.C:
			p.mu.Lock()
			if p.total > 0 {
				percent := float64(p.current) / float64(p.total) * 100
				fmt.Fprintf(p.out, "\r%s %s [%d/%d] %.0f%%  ",
					spinner[frame%len(spinner)],
					p.message,
					p.current,
					p.total,
					percent)
			} else {
				fmt.Fprintf(p.out, "\r%s %s [%d files]  ",
					spinner[frame%len(spinner)],
					p.message,
					p.current)
			}
			p.mu.Unlock()
			frame++
		}
	}
}

// caller holds p.mu
func (p *Tracker) failedSuffix() string {
	if p.failed == 0 {
		return ""
	}
	return fmt.Sprintf(", %d failed", p.failed)
}

func (p *Tracker) Increment() {
	p.mu.Lock()
	p.current++
	p.mu.Unlock()
}

// Fail counts a processed file that did not succeed.
func (p *Tracker) Fail() {
	p.mu.Lock()
	p.current++
	p.failed++
	p.mu.Unlock()
}

// Finish prints the summary line and returns once it is written. It is safe
// to call more than once.
func (p *Tracker) Finish() {
	p.once.Do(func() { close(p.done) })
	<-p.exited
}
