package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/testutil"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

// execute runs a fresh command tree in an isolated working directory.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := GetRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return dir
}

func cardFixture(t *testing.T) testutil.CardFixture {
	t.Helper()
	f, err := testutil.WriteCardFixture(isolate(t))
	require.NoError(t, err)
	return f
}

// fileOCR are the flags selecting recorded responses for the fixture.
func fileOCR(f testutil.CardFixture) []string {
	return []string{"--templates-dir", f.TemplatesDir, "--ocr-engine", "file"}
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "docrec dev")
	assert.Contains(t, out, "commit:")
}

func TestHelpListsCommands(t *testing.T) {
	isolate(t)
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"recognize", "align", "extract", "passport", "driver-license", "batch", "serve", "worker", "template", "config", "benchmark"} {
		assert.Contains(t, out, name)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	isolate(t)
	_, err := execute(t, "template", "list", "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestTemplateListAndShow(t *testing.T) {
	f := cardFixture(t)

	out, err := execute(t, "template", "list", "--templates-dir", f.TemplatesDir)
	require.NoError(t, err)
	assert.Contains(t, out, "driver_license")
	assert.Contains(t, out, "617x366")

	out, err = execute(t, "template", "show", "driver_license", "--templates-dir", f.TemplatesDir)
	require.NoError(t, err)
	var info templateInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "driver_license", info.Name)
	assert.Len(t, info.Regions, 4)

	// a layout path works without a templates directory
	out, err = execute(t, "template", "show", f.Layout)
	require.NoError(t, err)
	assert.Contains(t, out, `"code"`)

	_, err = execute(t, "template", "show", "passport", "--templates-dir", f.TemplatesDir)
	assert.Error(t, err)
}

func TestTemplateValidate(t *testing.T) {
	f := cardFixture(t)
	bad := filepath.Join(filepath.Dir(f.Layout), "broken.yml")
	require.NoError(t, os.WriteFile(bad, []byte("name: broken\npath: missing.png\nsize: {width: 10, height: 10}\nregions: []\n"), 0o600))

	out, err := execute(t, "template", "validate", f.Layout)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	out, err = execute(t, "template", "validate", f.Layout, bad)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestRecognizeWithRecordedResponse(t *testing.T) {
	f := cardFixture(t)

	out, err := execute(t, append(fileOCR(f), "recognize", "--template", "driver_license", f.Photo)...)
	require.NoError(t, err)

	var res struct {
		Source   string         `json:"source"`
		Template string         `json:"template"`
		Fields   map[string]any `json:"fields"`
		Align    struct {
			Inliers int `json:"inliers"`
		} `json:"align"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "card.png", res.Source)
	assert.Equal(t, "driver_license", res.Template)
	assert.Equal(t, "САМВЕЛ", res.Fields["name"])
	assert.InDelta(t, 2322803756, res.Fields["code"], 0)
	assert.Equal(t, "ХАНТЫ-МАНСИЙСКИЙ", res.Fields["abode"])
	assert.GreaterOrEqual(t, res.Align.Inliers, 4)
}

func TestRecognizeTextFormatToFile(t *testing.T) {
	f := cardFixture(t)
	outFile := filepath.Join(t.TempDir(), "result.txt")

	_, err := execute(t, append(fileOCR(f), "recognize", "-t", f.Layout, "-f", "text", "-o", outFile, f.Photo)...)
	require.NoError(t, err)
	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "card.png (driver_license)")
	assert.Contains(t, string(data), "code: 2322803756")
}

func TestRecognizeErrors(t *testing.T) {
	f := cardFixture(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no template", []string{"recognize", f.Photo}, "template is required"},
		{"unknown template", []string{"recognize", "-t", "passport", f.Photo}, "passport"},
		{"missing photo", []string{"recognize", "-t", "driver_license", "nope.jpg"}, "input file not found"},
		{"bad format", []string{"recognize", "-t", "driver_license", "-f", "xml", f.Photo}, "unsupported format"},
		{"no arguments", []string{"recognize"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append(fileOCR(f), tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExtractRecordedResponse(t *testing.T) {
	f := cardFixture(t)

	out, err := execute(t, "extract", f.Layout, f.Response)
	require.NoError(t, err)
	var res struct {
		Template string         `json:"template"`
		Fields   map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "driver_license", res.Template)
	assert.Equal(t, "САМВЕЛ", res.Fields["name"])
	assert.InDelta(t, 2322803756, res.Fields["code"], 0)
	assert.Equal(t, "1980-07-01", res.Fields["birthday"])

	out, err = execute(t, "extract", "--templates-dir", f.TemplatesDir, "-f", "text", "driver_license", f.Response)
	require.NoError(t, err)
	assert.Contains(t, out, "abode: ХАНТЫ-МАНСИЙСКИЙ")
}

func TestExtractSeparatorAndLatin(t *testing.T) {
	f := cardFixture(t)
	box := func(text string, x0, y0, x1, y1 float64) ocr.TextAnnotation {
		return ocr.TextAnnotation{Text: text, Vertices: []utils.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}}
	}
	respPath := filepath.Join(t.TempDir(), "latin.json")
	require.NoError(t, ocr.SaveResponse(respPath, &ocr.Response{Annotations: []ocr.TextAnnotation{
		box("SAMVEL", 250, 115, 300, 128),
		box("ХАНТЫ", 260, 284, 320, 298),
		box("МАНСИЙСКИЙ", 330, 284, 420, 298),
	}}))

	out, err := execute(t, "extract", f.Layout, respPath)
	require.NoError(t, err)
	var res struct {
		Fields map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "", res.Fields["name"])
	assert.Equal(t, "ХАНТЫ МАНСИЙСКИЙ", res.Fields["abode"])
	assert.Nil(t, res.Fields["code"])

	out, err = execute(t, "extract", "--keep-latin", "--separator", "-", f.Layout, respPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "SAMVEL", res.Fields["name"])
	assert.Equal(t, "ХАНТЫ-МАНСИЙСКИЙ", res.Fields["abode"])

	_, err = execute(t, "extract", f.Layout, "missing.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read response")
}

func TestDriverLicenseTemplateMode(t *testing.T) {
	f := cardFixture(t)
	out, err := execute(t, append(fileOCR(f), "driver-license", f.Photo)...)
	require.NoError(t, err)

	var dl map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &dl))
	assert.Equal(t, "Самвел", dl["name"])
	assert.Equal(t, "1980-07-01", dl["birthday"])
	assert.InDelta(t, 2322803756, dl["code"], 0)
	assert.Nil(t, dl["patronymic"])

	out, err = execute(t, append(fileOCR(f), "license", "--no-normalize", f.Photo)...)
	require.NoError(t, err)
	assert.Contains(t, out, "САМВЕЛ")
}

func TestDriverLicenseRegexMode(t *testing.T) {
	f := cardFixture(t)
	out, err := execute(t, append(fileOCR(f), "driver-license", "--mode", "regex", f.Photo)...)
	require.NoError(t, err)

	var dl map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &dl))
	assert.InDelta(t, 2322803756, dl["code"], 0)
	assert.Nil(t, dl["name"])

	_, err = execute(t, append(fileOCR(f), "driver-license", "--mode", "magic", f.Photo)...)
	assert.ErrorContains(t, err, "unknown mode")
}

func TestPassport(t *testing.T) {
	f := cardFixture(t)
	out, err := execute(t, append(fileOCR(f), "passport", f.Photo)...)
	require.NoError(t, err)

	var p map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "23 22", p["serial_number"])
	assert.Equal(t, "803756", p["number"])
}

func TestAlignWritesImage(t *testing.T) {
	f := cardFixture(t)
	aligned := filepath.Join(t.TempDir(), "aligned.png")

	out, err := execute(t, "align", "--templates-dir", f.TemplatesDir, "-t", "driver_license", "-o", aligned, f.Photo)
	require.NoError(t, err)
	assert.Contains(t, out, "inliers")
	assert.True(t, testutil.FileExists(aligned))
}

func TestBatchCSV(t *testing.T) {
	f := cardFixture(t)
	out, err := execute(t, append(fileOCR(f), "batch", "-t", "driver_license", "-f", "csv", "-q", "-w", "2", filepath.Dir(f.Photo))...)
	require.NoError(t, err)
	assert.Contains(t, out, "card.png")
	assert.Contains(t, out, "2322803756")
}

func TestBenchmarkAlignOnly(t *testing.T) {
	f := cardFixture(t)
	out, err := execute(t, "benchmark", "--templates-dir", f.TemplatesDir, "-t", "driver_license", "-n", "2", f.Photo)
	require.NoError(t, err)
	assert.Contains(t, out, "setup:")
	assert.Contains(t, out, "align: 2 iterations")

	_, err = execute(t, "benchmark", "--templates-dir", f.TemplatesDir, "-t", "driver_license", "-n", "0", f.Photo)
	assert.ErrorContains(t, err, "iterations must be positive")
}

func TestConfigGenerateAndShow(t *testing.T) {
	dir := isolate(t)

	out, err := execute(t, "config", "generate")
	require.NoError(t, err)
	assert.Contains(t, out, "docrec.yaml")
	assert.True(t, testutil.FileExists(filepath.Join(dir, "docrec.yaml")))

	t.Setenv("DOCREC_SERVER_PORT", "9191")
	_, err = execute(t, "config", "show", "--password", "x")
	require.Error(t, err, "show has no --password flag")

	out, err = execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# from ")
	assert.Contains(t, out, "port: 9191")
}

func TestEnvFile(t *testing.T) {
	dir := isolate(t)
	env := filepath.Join(dir, "custom.env")
	require.NoError(t, os.WriteFile(env, []byte("DOCREC_LOG_LEVEL=loud\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("DOCREC_LOG_LEVEL") })

	_, err := execute(t, "--env-file", env, "config", "paths")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
