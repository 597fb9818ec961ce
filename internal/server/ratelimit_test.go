package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func limiterAt(c *clock, perMinute, perHour, perDay int, data int64) *RateLimiter {
	rl := NewRateLimiter(perMinute, perHour, perDay, data)
	rl.now = c.now
	return rl
}

func TestRateLimiterMinuteWindow(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	rl := limiterAt(c, 2, 0, 0, 0)

	require.NoError(t, rl.Allow("a", 0))
	c.advance(20 * time.Second)
	require.NoError(t, rl.Allow("a", 0))

	err := rl.Allow("a", 0)
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "minute", rle.Type)
	assert.Equal(t, 40*time.Second, rle.RetryAfter)

	// other clients are independent
	require.NoError(t, rl.Allow("b", 0))

	// the first request leaves the window
	c.advance(41 * time.Second)
	require.NoError(t, rl.Allow("a", 0))
	assert.Equal(t, Usage{LastMinute: 2, LastHour: 3, Today: 3}, rl.Usage("a"))
}

func TestRateLimiterHourWindow(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	rl := limiterAt(c, 0, 3, 0, 0)
	for range 3 {
		require.NoError(t, rl.Allow("a", 0))
		c.advance(10 * time.Minute)
	}
	var rle *RateLimitError
	require.ErrorAs(t, rl.Allow("a", 0), &rle)
	assert.Equal(t, "hour", rle.Type)
	assert.Equal(t, 30*time.Minute, rle.RetryAfter)

	c.advance(30 * time.Minute)
	require.NoError(t, rl.Allow("a", 0))
}

func TestRateLimiterDailyQuotas(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)}
	rl := limiterAt(c, 0, 0, 2, 100)

	require.NoError(t, rl.Allow("a", 60))
	var qe *QuotaExceededError
	require.ErrorAs(t, rl.Allow("a", 50), &qe)
	assert.Equal(t, "data", qe.Type)
	assert.Equal(t, int64(60), qe.Used)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), qe.Resets)

	require.NoError(t, rl.Allow("a", 40))
	require.ErrorAs(t, rl.Allow("a", 0), &qe)
	assert.Equal(t, "requests", qe.Type)

	c.advance(2 * time.Hour)
	require.NoError(t, rl.Allow("a", 100))
	assert.Equal(t, 1, rl.Usage("a").Today)
}

func TestRateLimiterUnknownClient(t *testing.T) {
	assert.Equal(t, Usage{}, NewRateLimiter(1, 1, 1, 1).Usage("nobody"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, remote: "1.1.1.1:80", want: "10.0.0.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 10.0.0.3 "}, remote: "1.1.1.1:80", want: "10.0.0.3"},
		{name: "remote addr", remote: "192.168.1.5:4321", want: "192.168.1.5"},
		{name: "remote without port", remote: "192.168.1.6", want: "192.168.1.6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}

func TestHandleRateLimitError(t *testing.T) {
	f := newFixture(t, fakeAligner{}, nil)

	rec := httptest.NewRecorder()
	f.srv.handleRateLimitError(rec, &QuotaExceededError{Type: "data", Limit: 10, Used: 8, Resets: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "data", rec.Header().Get("X-Quota-Type"))
	assert.Equal(t, "8", rec.Header().Get("X-Quota-Used"))
	assert.Equal(t, "quota_exceeded", decode[ErrorResponse](t, rec).Code)

	rec = httptest.NewRecorder()
	f.srv.handleRateLimitError(rec, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
