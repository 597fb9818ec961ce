package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/docrec/cmd/docrec/cmd"
	"github.com/MeKo-Tech/docrec/internal/testutil"
)

// RegisterCommandSteps registers fixture, command and output steps.
func (testCtx *TestContext) RegisterCommandSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a driver license template and a photo of it$`, testCtx.aDriverLicenseFixture)
	sc.Step(`^the file "([^"]*)" contains "([^"]*)"$`, testCtx.theFileContains)
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
}

func (testCtx *TestContext) aDriverLicenseFixture() error {
	f, err := testutil.WriteCardFixture(testCtx.TempDir)
	if err != nil {
		return fmt.Errorf("failed to write fixture: %w", err)
	}
	testCtx.Fixture = f
	return nil
}

func (testCtx *TestContext) theFileContains(name, content string) error {
	return os.WriteFile(testCtx.expand(name), []byte(strings.ReplaceAll(content, `\n`, "\n")), 0o600)
}

// iRunCommand executes a docrec command line in process.
func (testCtx *TestContext) iRunCommand(command string) error {
	args := strings.Fields(testCtx.expand(command))
	if len(args) == 0 || args[0] != "docrec" {
		return fmt.Errorf("only docrec commands are supported: %q", command)
	}
	root := cmd.GetRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args[1:])

	testCtx.LastCommand = command
	testCtx.LastError = root.Execute()
	testCtx.LastOutput = out.String()
	if testCtx.LastError != nil {
		testCtx.LastOutput += errOut.String()
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("command %q failed: %w\nOutput: %s", testCtx.LastCommand, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastError == nil {
		return fmt.Errorf("command %q succeeded unexpectedly\nOutput: %s", testCtx.LastCommand, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	if !json.Valid([]byte(strings.TrimSpace(testCtx.LastOutput))) {
		return fmt.Errorf("output is not valid JSON: %s", testCtx.LastOutput)
	}
	return nil
}

// theJSONFieldShouldBe checks a dotted path (e.g. fields.code) of the
// JSON output against the string form of its value.
func (testCtx *TestContext) theJSONFieldShouldBe(path, want string) error {
	return jsonFieldEquals(testCtx.LastOutput, path, want)
}

func jsonFieldEquals(doc, path, want string) error {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(doc)), &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	for _, key := range strings.Split(path, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: %q is not inside an object", path, key)
		}
		if v, ok = m[key]; !ok {
			return fmt.Errorf("%s: key %q not found", path, key)
		}
	}
	var got string
	switch x := v.(type) {
	case nil:
		got = "null"
	case float64:
		got = fmt.Sprintf("%.0f", x)
		if float64(int64(x)) != x {
			got = fmt.Sprint(x)
		}
	default:
		got = fmt.Sprint(x)
	}
	if got != want {
		return fmt.Errorf("%s = %q, want %q", path, got, want)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldMention(text string) error {
	if testCtx.LastError == nil {
		return errors.New("expected an error, got none")
	}
	if !strings.Contains(testCtx.LastError.Error(), text) {
		return fmt.Errorf("error %q does not mention %q", testCtx.LastError, text)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	if !testutil.FileExists(testCtx.expand(name)) {
		return fmt.Errorf("file %s does not exist", testCtx.expand(name))
	}
	return nil
}
