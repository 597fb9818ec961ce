package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback defines the interface for progress reporting during
// batch recognition.
type ProgressCallback interface {
	OnStart(total int)
	OnProgress(current, total int)
	OnComplete()
	OnError(index int, err error)
}

type noopProgress struct{}

func (noopProgress) OnStart(int)         {}
func (noopProgress) OnProgress(int, int) {}
func (noopProgress) OnComplete()         {}
func (noopProgress) OnError(int, error)  {}

func progressOrNoop(cb ProgressCallback) ProgressCallback {
	if cb == nil {
		return noopProgress{}
	}
	return cb
}

// ConsoleProgress draws a progress bar.
type ConsoleProgress struct {
	w        io.Writer
	prefix   string
	width    int
	interval time.Duration

	mu    sync.Mutex
	start time.Time
	last  time.Time
}

// NewConsoleProgress creates a bar writing to w (stderr when nil).
func NewConsoleProgress(w io.Writer, prefix string) *ConsoleProgress {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleProgress{w: w, prefix: prefix, width: 40, interval: 100 * time.Millisecond}
}

// SetInterval sets the minimum time between two redraws.
func (c *ConsoleProgress) SetInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.interval = d
	}
}

func (c *ConsoleProgress) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
	c.last = time.Time{}
	_, _ = fmt.Fprintf(c.w, "%s0/%d\n", c.prefix, total)
}

func (c *ConsoleProgress) OnProgress(current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if total == 0 || (now.Sub(c.last) < c.interval && current < total) {
		return
	}
	c.last = now

	filled := c.width * current / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	line := fmt.Sprintf("\r%s[%s] %d/%d", c.prefix, bar, current, total)
	if elapsed := now.Sub(c.start); elapsed > 0 && current > 0 {
		line += fmt.Sprintf(" %.1f/s", float64(current)/elapsed.Seconds())
	}
	_, _ = fmt.Fprint(c.w, line)
}

func (c *ConsoleProgress) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, "\n%sdone in %v\n", c.prefix, time.Since(c.start).Round(time.Millisecond))
}

func (c *ConsoleProgress) OnError(index int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, "\n%sphoto %d failed: %v\n", c.prefix, index, err)
}

// LogProgress reports progress through slog every Every items.
type LogProgress struct {
	Logger *slog.Logger
	Every  int

	mu    sync.Mutex
	start time.Time
	last  int
}

func (l *LogProgress) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l *LogProgress) OnStart(total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.start = time.Now()
	l.last = 0
	l.logger().Info("Batch started", "total", total)
}

func (l *LogProgress) OnProgress(current, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	every := max(l.Every, 1)
	if current-l.last < every && current != total {
		return
	}
	l.last = current
	l.logger().Info("Batch progress", "current", current, "total", total, "elapsed", time.Since(l.start).Round(time.Millisecond))
}

func (l *LogProgress) OnComplete() {
	l.logger().Info("Batch completed", "elapsed", time.Since(l.start).Round(time.Millisecond))
}

func (l *LogProgress) OnError(index int, err error) {
	l.logger().Warn("Photo failed", "index", index, "error", err)
}
