package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return NewLoaderWith(viper.New())
}

func TestNewLoader(t *testing.T) {
	if l := NewLoader(); l == nil || l.v == nil {
		t.Fatal("NewLoader() returned an unusable loader")
	}
}

func TestLoadWithNoConfigFile(t *testing.T) {
	cfg, err := newTestLoader(t).Load("")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Pipeline.JPEGQuality != 95 {
		t.Errorf("JPEGQuality = %d, want 95", cfg.Pipeline.JPEGQuality)
	}
	if cfg.Queue.Timeout != 5*time.Minute {
		t.Errorf("Queue.Timeout = %v, want 5m", cfg.Queue.Timeout)
	}
}

func TestLoadFromSearchPath(t *testing.T) {
	l := newTestLoader(t)
	content := "log_level: debug\nserver:\n  port: 9090\nocr:\n  engine: tesseract\n  languages: [rus, eng]\n"
	if err := os.WriteFile("docrec.yaml", []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := l.Load("")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Server.Port != 9090 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if !slices.Equal(cfg.OCR.Languages, []string{"rus", "eng"}) {
		t.Errorf("Languages = %v", cfg.OCR.Languages)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("unset key lost its default: Host = %q", cfg.Server.Host)
	}
	if filepath.Base(l.ConfigFileUsed()) != "docrec.yaml" {
		t.Errorf("ConfigFileUsed() = %q", l.ConfigFileUsed())
	}
}

func TestLoadExplicitFile(t *testing.T) {
	l := newTestLoader(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("store:\n  cache_ttl: 10m\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := l.Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Store.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v, want 10m", cfg.Store.CacheTTL)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := newTestLoader(t).Load("nope.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidFile(t *testing.T) {
	l := newTestLoader(t)
	if err := os.WriteFile("docrec.yaml", []byte("log_level: loud\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Load(""); err == nil {
		t.Fatal("expected validation error")
	}
	cfg, err := l.LoadWithoutValidation("")
	if err != nil {
		t.Fatalf("LoadWithoutValidation() unexpected error: %v", err)
	}
	if cfg.LogLevel != "loud" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	l := newTestLoader(t)
	t.Setenv("DOCREC_SERVER_PORT", "7070")
	t.Setenv("DOCREC_OCR_ENGINE", "file")
	t.Setenv("DOCREC_PIPELINE_ALIGN_SEED", "42")
	t.Setenv("DOCREC_TEMPLATES_DIR", "/srv/templates")

	cfg, err := l.LoadWithoutValidation("")
	if err != nil {
		t.Fatalf("LoadWithoutValidation() unexpected error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.OCR.Engine != "file" {
		t.Errorf("OCR.Engine = %q, want file", cfg.OCR.Engine)
	}
	if cfg.Pipeline.Align.Seed != 42 {
		t.Errorf("Align.Seed = %d, want 42", cfg.Pipeline.Align.Seed)
	}
	if cfg.TemplatesDir != "/srv/templates" {
		t.Errorf("TemplatesDir = %q", cfg.TemplatesDir)
	}
}

func TestGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docrec.yaml")
	if err := Generate(path); err != nil {
		t.Fatalf("Generate() unexpected error: %v", err)
	}
	cfg, err := NewLoaderWith(viper.New()).Load(path)
	if err != nil {
		t.Fatalf("generated file does not load: %v", err)
	}
	if cfg.Server.Port != DefaultConfig().Server.Port {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
}

func TestKeys(t *testing.T) {
	l := newTestLoader(t)
	if _, err := l.LoadWithoutValidation(""); err != nil {
		t.Fatal(err)
	}
	keys := l.Keys()
	for _, want := range []string{"log_level", "server.port", "pipeline.align.backend", "queue.redis_url"} {
		if !slices.Contains(keys, want) {
			t.Errorf("Keys() missing %q", want)
		}
	}
	if !slices.IsSorted(keys) {
		t.Error("Keys() not sorted")
	}
}

func TestSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := SearchPaths()
	if paths[0] != "." || paths[len(paths)-1] != "/etc/docrec" {
		t.Errorf("SearchPaths() = %v", paths)
	}
	if !slices.Contains(paths, filepath.Join("/xdg", "docrec")) {
		t.Errorf("SearchPaths() ignores XDG_CONFIG_HOME: %v", paths)
	}
}
