package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"

	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/executor"
	"github.com/dibtr/grid-runner/pkg/report"
	"github.com/dibtr/grid-runner/pkg/suite"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// runApp runs the CLI with args and returns what it printed.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := NewApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"grid-runner", "--no-ansi"}, args...))
	return out.String(), err
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// fakeGrid serves one Appium session, s-1, whose screen has no elements.
func fakeGrid(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + strings.TrimPrefix(r.URL.Path, "/wd/hub") {
		case "GET /status":
			writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"ready": true, "message": "ok"}})
		case "POST /session":
			writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"sessionId": "s-1", "capabilities": map[string]interface{}{}}})
		case "POST /session/s-1/elements":
			writeJSON(w, map[string]interface{}{"value": []interface{}{}})
		case "GET /session/s-1/source":
			writeJSON(w, map[string]interface{}{"value": "<AppiumAUT/>"})
		default:
			writeJSON(w, map[string]interface{}{"value": nil})
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func gridSettings(t *testing.T, dir, gridURL string) string {
	t.Helper()
	return writeFile(t, dir, "settings.yaml", `
environment:
  location: grid
  local:
    grid:
      location: `+gridURL+`
wait:
  timeout: 100ms
  poll: 10ms
`)
}

func TestResolveOutputDir_Default(t *testing.T) {
	dir, err := resolveOutputDir("", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(dir, "reports/") {
		t.Errorf("expected dir to start with reports/, got %s", dir)
	}
	parts := strings.Split(dir, "/")
	if len(parts) != 2 {
		t.Errorf("expected reports/<timestamp>, got %s", dir)
	}
}

func TestResolveOutputDir_CustomOutput(t *testing.T) {
	dir, err := resolveOutputDir("./my-reports", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(dir, "my-reports/") {
		t.Errorf("expected dir to start with my-reports/, got %s", dir)
	}
}

func TestResolveOutputDir_Flatten(t *testing.T) {
	dir, err := resolveOutputDir("./my-reports/", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != "my-reports" {
		t.Errorf("expected my-reports, got %s", dir)
	}
}

func TestResolveOutputDir_FlattenWithoutOutput(t *testing.T) {
	if _, err := resolveOutputDir("", true); err == nil {
		t.Error("expected error when --flatten is used without --output")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms       int64
		expected string
	}{
		{0, "0ms"},
		{500, "500ms"},
		{999, "999ms"},
		{1000, "1.0s"},
		{2126, "2.1s"},
		{59999, "60.0s"},
		{60000, "1m 0s"},
		{90000, "1m 30s"},
		{125000, "2m 5s"},
	}

	for _, tc := range tests {
		result := formatDuration(tc.ms)
		if result != tc.expected {
			t.Errorf("formatDuration(%d) = %q, expected %q", tc.ms, result, tc.expected)
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	flagNames := make(map[string]bool)
	for _, f := range GlobalFlags {
		for _, name := range f.Names() {
			flagNames[name] = true
		}
	}

	for _, name := range []string{"config", "log-file", "verbose", "no-ansi"} {
		if !flagNames[name] {
			t.Errorf("expected flag %q to be defined", name)
		}
	}
}

func TestRunCommand_NoArgs(t *testing.T) {
	_, err := runApp(t, "run")
	if err == nil || !strings.Contains(err.Error(), "expected one suite file") {
		t.Errorf("expected missing suite error, got %v", err)
	}
}

func TestRunCommand_FlattenWithoutOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := gridSettings(t, dir, "http://127.0.0.1:4723/wd/hub")
	path := writeFile(t, dir, "suite.yaml", `
scenarios:
  - name: one
    steps:
      - pause: 10ms
`)

	_, err := runApp(t, "--config", cfg, "run", "--flatten", path)
	if err == nil || !strings.Contains(err.Error(), "--flatten requires --output") {
		t.Errorf("expected flatten error, got %v", err)
	}
}

func TestRunCommand_InvalidSuite(t *testing.T) {
	dir := t.TempDir()
	cfg := gridSettings(t, dir, "http://127.0.0.1:4723/wd/hub")
	path := writeFile(t, dir, "suite.yaml", `
scenarios:
  - name: one
    steps:
      - fly: away
`)

	_, err := runApp(t, "--config", cfg, "run", path)
	var perr *suite.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *suite.ParseError, got %v", err)
	}
	if !strings.Contains(perr.Message, "unknown step type") {
		t.Errorf("Message = %q", perr.Message)
	}
}

func TestRunCommand_MissingGridURL(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "settings.yaml", "environment:\n  location: grid\n")
	path := writeFile(t, dir, "suite.yaml", `
scenarios:
  - name: one
    steps:
      - pause: 10ms
`)

	_, err := runApp(t, "--config", cfg, "run", path)
	if !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestLoadSettings_ExplicitConfigMustExist(t *testing.T) {
	_, err := runApp(t, "--config", filepath.Join(t.TempDir(), "missing.properties"), "caps")
	if !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestRunCommand_EndToEnd(t *testing.T) {
	grid := fakeGrid(t)
	dir := t.TempDir()
	cfg := gridSettings(t, dir, grid.URL+"/wd/hub")
	path := writeFile(t, dir, "suite.yaml", `
name: smoke
scenarios:
  - name: pauses
    steps:
      - pause: 10ms
  - name: finds nothing
    steps:
      - assertPresent: login
`)
	outDir := filepath.Join(dir, "out")

	out, err := runApp(t, "--config", cfg, "run", "--output", outDir, "--flatten", path)
	if !errors.Is(err, errScenariosFailed) {
		t.Fatalf("expected errScenariosFailed, got %v\n%s", err, out)
	}

	for _, want := range []string{"[1/2]", "✓ pauses", "✗ finds nothing", "assertPresent", "1/2", "report.json"} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}

	data, err := os.ReadFile(filepath.Join(outDir, "report.json"))
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var idx report.Index
	if err := json.Unmarshal(data, &idx); err != nil {
		t.Fatalf("invalid report: %v", err)
	}
	if idx.Status != report.StatusFailed {
		t.Errorf("report status = %q, want failed", idx.Status)
	}
}

func TestRunCommand_AllPassed(t *testing.T) {
	grid := fakeGrid(t)
	dir := t.TempDir()
	cfg := gridSettings(t, dir, grid.URL+"/wd/hub")
	path := writeFile(t, dir, "suite.yaml", `
scenarios:
  - name: a
    steps:
      - pause: 5ms
  - name: b
    steps:
      - pause: 5ms
`)

	out, err := runApp(t, "--config", cfg, "run", "--parallel", "2", "--output", filepath.Join(dir, "out"), path)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 scenarios passing") {
		t.Errorf("output missing pass count:\n%s", out)
	}
}

func TestCapsCommand_Mobile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "settings.yaml", `
mobile:
  appium:
    bundleId: com.example.demo
`)

	out, err := runApp(t, "--config", cfg, "caps", "--platform-version", "17.4", "--device-name", "iPhone 15", "--full-reset")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload struct {
		Capabilities struct {
			AlwaysMatch map[string]interface{} `json:"alwaysMatch"`
		} `json:"capabilities"`
		DesiredCapabilities map[string]interface{} `json:"desiredCapabilities"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}

	am := payload.Capabilities.AlwaysMatch
	if am["platformName"] != "iOS" {
		t.Errorf("platformName = %v", am["platformName"])
	}
	if am["appium:platformVersion"] != "17.4" || am["appium:deviceName"] != "iPhone 15" {
		t.Errorf("alwaysMatch = %v", am)
	}
	if am["appium:fullReset"] != true {
		t.Errorf("appium:fullReset = %v, want true", am["appium:fullReset"])
	}
	if payload.DesiredCapabilities["bundleId"] != "com.example.demo" {
		t.Errorf("desiredCapabilities = %v", payload.DesiredCapabilities)
	}
}

func TestCapsCommand_UnknownPlatform(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "settings.yaml", "web:\n  headless: true\n")

	if _, err := runApp(t, "--config", cfg, "caps", "--platform", "tv"); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestWaitGridCommand_Ready(t *testing.T) {
	grid := fakeGrid(t)
	dir := t.TempDir()
	cfg := gridSettings(t, dir, grid.URL+"/wd/hub")

	out, err := runApp(t, "--config", cfg, "wait-grid", "--timeout", "2s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "is ready") {
		t.Errorf("output = %q", out)
	}
}

func TestWaitGridCommand_Timeout(t *testing.T) {
	server := httptest.NewServer(httphelpers.HandlerWithStatus(http.StatusServiceUnavailable))
	defer server.Close()
	dir := t.TempDir()
	cfg := gridSettings(t, dir, server.URL)

	start := time.Now()
	_, err := runApp(t, "--config", cfg, "wait-grid", "--timeout", "300ms")
	if err == nil || !strings.Contains(err.Error(), "not ready") {
		t.Errorf("expected not ready error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("wait-grid took %v", elapsed)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &executor.RunResult{
		Status:   report.StatusFailed,
		Total:    3,
		Passed:   1,
		Failed:   1,
		Skipped:  1,
		Duration: 2500 * time.Millisecond,
		Scenarios: []executor.ScenarioResult{
			{Name: "login", Status: report.StatusPassed, StepsTotal: 3, StepsPassed: 3, Duration: time.Second},
			{Name: strings.Repeat("x", 50), Status: report.StatusFailed, StepsTotal: 4, StepsPassed: 1},
			{Name: "later", Status: report.StatusSkipped, StepsTotal: 2},
		},
	})

	out := buf.String()
	for _, want := range []string{"1 scenarios passing", "1 scenarios failing", "1 scenarios skipped",
		"✓ PASS", "✗ FAIL", "- SKIP", strings.Repeat("x", 39) + "...", "1/3", "2.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary does not contain %q:\n%s", want, out)
		}
	}
}

func TestPlatforms(t *testing.T) {
	s := &suite.Suite{Scenarios: []suite.Scenario{
		{Platform: core.PlatformWeb},
		{Platform: core.PlatformMobile},
		{Platform: core.PlatformWeb},
	}}

	got := platforms(s)
	if len(got) != 2 || got[0] != core.PlatformWeb || got[1] != core.PlatformMobile {
		t.Errorf("platforms() = %v", got)
	}
}
