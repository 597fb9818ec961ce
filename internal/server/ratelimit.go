package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces per-client request rates over sliding windows and
// daily quotas on request count and uploaded bytes. Zero limits are off.
type RateLimiter struct {
	mu sync.Mutex

	perMinute  int
	perHour    int
	perDay     int
	dataPerDay int64
	now        func() time.Time
	clients    map[string]*clientUsage
}

type clientUsage struct {
	recent    []time.Time // request times within the last hour, oldest first
	day       time.Time   // midnight of the day the counters below belong to
	today     int
	dataToday int64
}

// Usage is a snapshot of a client's consumption.
type Usage struct {
	LastMinute int
	LastHour   int
	Today      int
	DataToday  int64
}

// NewRateLimiter creates a limiter with the given limits.
func NewRateLimiter(perMinute, perHour, perDay int, dataPerDay int64) *RateLimiter {
	return &RateLimiter{
		perMinute:  perMinute,
		perHour:    perHour,
		perDay:     perDay,
		dataPerDay: dataPerDay,
		now:        time.Now,
		clients:    make(map[string]*clientUsage),
	}
}

// Allow records a request of size bytes from client, or returns a
// *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) Allow(client string, size int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.usage(client, now)

	if rl.perMinute > 0 {
		if n, oldest := u.since(now.Add(-time.Minute)); n >= rl.perMinute {
			return &RateLimitError{Type: "minute", Limit: rl.perMinute, RetryAfter: oldest.Add(time.Minute).Sub(now)}
		}
	}
	if rl.perHour > 0 {
		if n, oldest := u.since(now.Add(-time.Hour)); n >= rl.perHour {
			return &RateLimitError{Type: "hour", Limit: rl.perHour, RetryAfter: oldest.Add(time.Hour).Sub(now)}
		}
	}
	resets := u.day.AddDate(0, 0, 1)
	if rl.perDay > 0 && u.today >= rl.perDay {
		return &QuotaExceededError{Type: "requests", Limit: int64(rl.perDay), Used: int64(u.today), Resets: resets}
	}
	if rl.dataPerDay > 0 && u.dataToday+size > rl.dataPerDay {
		return &QuotaExceededError{Type: "data", Limit: rl.dataPerDay, Used: u.dataToday, Resets: resets}
	}

	u.recent = append(u.recent, now)
	u.today++
	u.dataToday += size
	return nil
}

// Usage returns the current consumption of client.
func (rl *RateLimiter) Usage(client string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	u, ok := rl.clients[client]
	if !ok {
		return Usage{}
	}
	minute, _ := u.since(now.Add(-time.Minute))
	hour, _ := u.since(now.Add(-time.Hour))
	return Usage{LastMinute: minute, LastHour: hour, Today: u.today, DataToday: u.dataToday}
}

// usage returns the client's record with expired entries dropped.
func (rl *RateLimiter) usage(client string, now time.Time) *clientUsage {
	day := midnight(now)
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{day: day}
		rl.clients[client] = u
	}
	if !u.day.Equal(day) {
		u.day, u.today, u.dataToday = day, 0, 0
	}
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(u.recent) && !u.recent[i].After(cutoff) {
		i++
	}
	u.recent = u.recent[i:]
	return u
}

// since counts requests after t and returns the oldest of them.
func (u *clientUsage) since(t time.Time) (int, time.Time) {
	for i, at := range u.recent {
		if at.After(t) {
			return len(u.recent) - i, at
		}
	}
	return 0, time.Time{}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a daily quota violation.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
