// Package support holds the godog step definitions of the CLI suite.
package support

import (
	"fmt"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/MeKo-Tech/docrec/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand string
	LastOutput  string
	LastError   error

	// Fixture
	TempDir string
	Fixture testutil.CardFixture

	// HTTP state
	Server             *httptest.Server
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a context with its own temporary directory.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "docrec-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{TempDir: tempDir, LastHTTPHeaders: map[string]string{}}, nil
}

// Cleanup stops the server and removes the temporary directory.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.Server != nil {
		testCtx.Server.Close()
		testCtx.Server = nil
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil {
		return fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err)
	}
	return nil
}

// expand replaces fixture placeholders in a step argument.
func (testCtx *TestContext) expand(s string) string {
	return strings.NewReplacer(
		"{photo}", testCtx.Fixture.Photo,
		"{photos}", dirOf(testCtx.Fixture.Photo),
		"{templates}", testCtx.Fixture.TemplatesDir,
		"{layout}", testCtx.Fixture.Layout,
		"{tmp}", testCtx.TempDir,
	).Replace(s)
}

func dirOf(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[:i]
	}
	return "."
}
