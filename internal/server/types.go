// Package server exposes document recognition over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/queue"
	"github.com/MeKo-Tech/docrec/internal/service"
)

// Config holds server configuration.
type Config struct {
	Host               string          `mapstructure:"host" yaml:"host" json:"host"`
	Port               int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin         string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB        int64           `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec         int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeoutSec int             `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec" json:"shutdown_timeout_sec"`
	RateLimit          RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig bounds the requests a single client may make. Zero
// limits are not enforced.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int64 `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "localhost",
		Port:               8080,
		CORSOrigin:         "*",
		MaxUploadMB:        20,
		TimeoutSec:         60,
		ShutdownTimeoutSec: 10,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
		},
	}
}

// Validate checks ports, sizes and timeouts.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in [1,65535], got %d", c.Port)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.TimeoutSec < 0 {
		return fmt.Errorf("timeout_sec must not be negative, got %d", c.TimeoutSec)
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Enqueuer hands a recognition to the background queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.RecognizePayload) (string, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	cfg     Config
	svc     *service.Service
	pipe    *pipeline.Pipeline
	jobs    Enqueuer
	limiter *RateLimiter
	logger  *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithQueue enables POST /jobs.
func WithQueue(q Enqueuer) Option { return func(s *Server) { s.jobs = q } }

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithRateLimiter replaces the limiter built from the configuration.
func WithRateLimiter(rl *RateLimiter) Option { return func(s *Server) { s.limiter = rl } }

// NewServer creates a server around svc. The synchronous pipeline behind
// svc.Runner serves the alignment and regex endpoints.
func NewServer(cfg Config, svc *service.Service, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if svc == nil || svc.Runner == nil {
		return nil, fmt.Errorf("server: recognition service is required")
	}
	s := &Server{cfg: cfg, svc: svc, logger: slog.Default()}
	switch r := svc.Runner.(type) {
	case *pipeline.Pipeline:
		s.pipe = r
	case *pipeline.AsyncPipeline:
		s.pipe = r.Pipeline()
	}
	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.RequestsPerHour,
			cfg.RateLimit.MaxRequestsPerDay, cfg.RateLimit.MaxDataPerDayMB*1024*1024)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the recognition pipeline.
func (s *Server) Close() error { return s.svc.Runner.Close() }

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("GET /templates", s.corsMiddleware(s.templatesHandler))
	mux.HandleFunc("POST /recognize", s.corsMiddleware(s.rateLimitMiddleware(s.recognizeHandler)))
	mux.HandleFunc("POST /align", s.corsMiddleware(s.rateLimitMiddleware(s.alignHandler)))
	mux.HandleFunc("POST /passport", s.corsMiddleware(s.rateLimitMiddleware(s.passportHandler)))
	mux.HandleFunc("POST /driver-license", s.corsMiddleware(s.rateLimitMiddleware(s.driverLicenseHandler)))
	mux.HandleFunc("POST /jobs", s.corsMiddleware(s.rateLimitMiddleware(s.enqueueHandler)))
	mux.HandleFunc("GET /records", s.corsMiddleware(s.recordsHandler))
	mux.HandleFunc("GET /records/{id}", s.corsMiddleware(s.recordHandler))
	mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(http.ResponseWriter, *http.Request) {}))
	mux.HandleFunc("GET /ws/recognize", s.recognizeWebSocketHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.TimeoutSec <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), time.Duration(s.cfg.TimeoutSec)*time.Second)
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Time      string `json:"time"`
	Templates int    `json:"templates"`
	Store     bool   `json:"store"`
	Queue     bool   `json:"queue"`
}

// TemplateInfo describes a registered template.
type TemplateInfo struct {
	Name    string       `json:"name"`
	Width   int          `json:"width"`
	Height  int          `json:"height"`
	Regions []RegionInfo `json:"regions"`
}

// RegionInfo describes one template region.
type RegionInfo struct {
	Name string     `json:"name"`
	Type string     `json:"type"`
	Box  [4]float64 `json:"box"`
}

// TemplatesResponse is returned by GET /templates.
type TemplatesResponse struct {
	Templates []TemplateInfo `json:"templates"`
	Count     int            `json:"count"`
}

// ScanResult is the outcome for one image of an uploaded PDF.
type ScanResult struct {
	Label  string          `json:"label"`
	Result *service.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// RecognizeResponse is returned by POST /recognize.
type RecognizeResponse struct {
	Success bool            `json:"success"`
	Result  *service.Result `json:"result,omitempty"`
	Scans   []ScanResult    `json:"scans,omitempty"`
}

// JobResponse is returned by POST /jobs.
type JobResponse struct {
	JobID    string `json:"job_id"`
	Template string `json:"template"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Matches *int   `json:"matches,omitempty"`
}
