// Package common holds timing and memory helpers for benchmarks.
package common

import (
	"fmt"
	"strings"
	"time"
)

// Lap is a named split recorded by a Timer.
type Lap struct {
	Label    string
	Duration time.Duration
}

// Timer measures a duration with optional named laps.
type Timer struct {
	name     string
	start    time.Time
	lapStart time.Time
	laps     []Lap
	duration time.Duration
}

// NewTimer creates a started, unnamed timer.
func NewTimer() *Timer { return NewNamedTimer("") }

// NewNamedTimer creates a started timer.
func NewNamedTimer(name string) *Timer {
	now := time.Now()
	return &Timer{name: name, start: now, lapStart: now}
}

// Lap records the time since the previous lap (or the start).
func (t *Timer) Lap(label string) time.Duration {
	now := time.Now()
	d := now.Sub(t.lapStart)
	t.lapStart = now
	t.laps = append(t.laps, Lap{Label: label, Duration: d})
	return d
}

// Laps returns the recorded laps in order.
func (t *Timer) Laps() []Lap { return append([]Lap(nil), t.laps...) }

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration { return t.duration }

// Name returns the timer name (empty string if unnamed).
func (t *Timer) Name() string { return t.name }

// String renders the duration and the laps.
func (t *Timer) String() string {
	var sb strings.Builder
	if t.name != "" {
		sb.WriteString(t.name + ": ")
	}
	sb.WriteString(t.duration.String())
	for _, l := range t.laps {
		fmt.Fprintf(&sb, " [%s %v]", l.Label, l.Duration)
	}
	return sb.String()
}
