package support

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/server"
	"github.com/MeKo-Tech/docrec/internal/service"
	"github.com/MeKo-Tech/docrec/internal/store"
	"github.com/MeKo-Tech/docrec/internal/template"
)

// RegisterServerSteps registers the HTTP API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the recognition server is running$`, testCtx.theRecognitionServerIsRunning)
	sc.Step(`^I request "([^"]*)"$`, testCtx.iRequest)
	sc.Step(`^I upload the photo to "([^"]*)"$`, testCtx.iUploadThePhotoTo)
	sc.Step(`^I upload the photo to "([^"]*)" with "([^"]*)" set to "([^"]*)"$`, testCtx.iUploadThePhotoWith)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^the response header "([^"]*)" should be set$`, testCtx.theResponseHeaderShouldBeSet)
}

// theRecognitionServerIsRunning starts the API over the fixture
// templates. Every OCR call answers with the recorded response.
func (testCtx *TestContext) theRecognitionServerIsRunning() error {
	reg, err := template.LoadRegistry(testCtx.Fixture.TemplatesDir)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	resp, err := ocr.LoadResponse(testCtx.Fixture.Response)
	if err != nil {
		return err
	}
	recorded := ocr.BackendFunc(func(context.Context, ocr.Image) (*ocr.Response, error) {
		return resp, nil
	})
	p, err := pipeline.NewBuilder().WithOCR(recorded).Build()
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	svc := &service.Service{Runner: p, Templates: reg, Store: store.NewMemory()}
	srv, err := server.NewServer(server.DefaultConfig(), svc)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	testCtx.Server = httptest.NewServer(srv.Handler())
	return nil
}

func (testCtx *TestContext) iRequest(path string) error {
	if testCtx.Server == nil {
		return fmt.Errorf("server is not running")
	}
	resp, err := http.Get(testCtx.Server.URL + path) //nolint:noctx // test request
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) iUploadThePhotoTo(path string) error {
	return testCtx.upload(path, nil)
}

func (testCtx *TestContext) iUploadThePhotoWith(path, field, value string) error {
	return testCtx.upload(path, map[string]string{field: value})
}

func (testCtx *TestContext) upload(path string, fields map[string]string) error {
	if testCtx.Server == nil {
		return fmt.Errorf("server is not running")
	}
	data, err := os.ReadFile(testCtx.Fixture.Photo)
	if err != nil {
		return err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(testCtx.Fixture.Photo))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := http.Post(testCtx.Server.URL+path, mw.FormDataContentType(), &body) //nolint:noctx // test request
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) recordResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = map[string]string{}
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(code string) error {
	want, _ := strconv.Atoi(code)
	if testCtx.LastHTTPStatusCode != want {
		return fmt.Errorf("status = %d, want %d\nBody: %s", testCtx.LastHTTPStatusCode, want, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain %q\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseJSONFieldShouldBe(path, want string) error {
	return jsonFieldEquals(testCtx.LastHTTPResponse, path, want)
}

func (testCtx *TestContext) theResponseHeaderShouldBeSet(name string) error {
	if testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)] == "" {
		return fmt.Errorf("header %s is not set", name)
	}
	return nil
}
