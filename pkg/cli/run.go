package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/executor"
	"github.com/dibtr/grid-runner/pkg/logger"
	"github.com/dibtr/grid-runner/pkg/metrics"
	"github.com/dibtr/grid-runner/pkg/report"
	"github.com/dibtr/grid-runner/pkg/suite"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run the scenarios of a suite file",
	ArgsUsage: "<suite.yaml>",
	Description: `Run every scenario of a suite file. Each scenario gets its own session,
which is closed when the scenario ends, whatever its outcome.

Reports are generated in the output directory:
  - Default: ./reports/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

The exit code is 1 when any scenario failed or errored.

Examples:
  grid-runner run suite.yaml
  grid-runner run suite.yaml --parallel 4 --start-interval 2s
  grid-runner run suite.yaml --output ./my-reports --flatten
  grid-runner run suite.yaml --metrics-addr :9090`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "parallel",
			Usage: "Run up to N scenarios at once, each on its own session",
			Value: 1,
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory for reports (default: ./reports)",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder (requires --output)",
		},
		&cli.DurationFlag{
			Name:  "start-interval",
			Usage: "Minimum time between two session starts",
		},
		&cli.BoolFlag{
			Name:  "stop-on-fail",
			Usage: "Don't start new scenarios after one fails",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve Prometheus metrics on this address while running (e.g. :9090)",
		},
	},
	Action: runSuite,
}

func runSuite(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected one suite file, got %d arguments", c.NArg())
	}
	if c.Int("parallel") < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}

	settings, err := loadSettings(c)
	if err != nil {
		return err
	}
	if err := setupLogging(c, settings); err != nil {
		return err
	}
	defer logger.Close()

	s, err := suite.Load(c.Args().First())
	if err != nil {
		return err
	}
	for _, p := range platforms(s) {
		if err := settings.Validate(p); err != nil {
			return err
		}
	}

	outputDir, err := resolveOutputDir(c.String("output"), c.Bool("flatten"))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	if addr := c.String("metrics-addr"); addr != "" {
		stop, err := serveMetrics(addr)
		if err != nil {
			return err
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := outWriter(c)
	p := &progress{w: out, parallel: c.Int("parallel") > 1}
	runner := executor.New(executor.RunnerConfig{
		Settings:        settings,
		OutputDir:       outputDir,
		Parallelism:     c.Int("parallel"),
		StartInterval:   c.Duration("start-interval"),
		StopOnFail:      c.Bool("stop-on-fail"),
		RunnerVersion:   Version,
		OnScenarioStart: p.onScenarioStart,
		OnStepComplete:  p.onStepComplete,
		OnScenarioEnd:   p.onScenarioEnd,
	})

	result, err := runner.Run(ctx, s)
	if err != nil {
		return err
	}
	printSummary(out, result)
	fmt.Fprintf(out, "\n  Report: %s\n", result.ReportPath)

	if result.Status != report.StatusPassed {
		return errScenariosFailed
	}
	return nil
}

// platforms returns the distinct platforms used by s, in order of first use.
func platforms(s *suite.Suite) []core.Platform {
	var out []core.Platform
	seen := make(map[core.Platform]bool)
	for _, sc := range s.Scenarios {
		if !seen[sc.Platform] {
			seen[sc.Platform] = true
			out = append(out, sc.Platform)
		}
	}
	return out
}

// resolveOutputDir determines the output directory based on flags.
// - No --output: ./reports/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/ (error if --output not given)
func resolveOutputDir(output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = "./reports"
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}

// serveMetrics exposes /metrics on addr until the returned stop is called.
func serveMetrics(addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped: %v", err)
		}
	}()
	logger.Info("serving metrics on %s/metrics", ln.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// Slow step threshold
const slowThreshold = 5 * time.Second

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// progress prints live results. Callbacks arrive from several workers when
// running in parallel, so every line is written under mu and step lines carry
// the scenario name.
type progress struct {
	mu       sync.Mutex
	w        io.Writer
	parallel bool
}

func (p *progress) onScenarioStart(idx, total int, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\n  %s %s\n", cyan(fmt.Sprintf("[%d/%d]", idx+1, total)), bold(name))
	if !p.parallel {
		fmt.Fprintln(p.w, strings.Repeat("─", 60))
	}
}

func (p *progress) onStepComplete(scenario string, idx int, desc string, err error, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.parallel {
		desc = gray("["+scenario+"]") + " " + desc
	}
	dur := formatDuration(d.Milliseconds())
	switch {
	case err != nil:
		fmt.Fprintf(p.w, "    %s %s (%s)\n", red("✗"), desc, dur)
		fmt.Fprintf(p.w, "      %s %s\n", gray("╰─"), err)
	case d >= slowThreshold:
		fmt.Fprintf(p.w, "    %s %s %s\n", yellow("⚠"), desc, yellow("("+dur+")"))
	default:
		fmt.Fprintf(p.w, "    %s %s (%s)\n", green("✓"), desc, dur)
	}
}

func (p *progress) onScenarioEnd(res executor.ScenarioResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	symbol, _ := statusLabel(res.Status)
	fmt.Fprintf(p.w, "%s %s %s\n", symbol, res.Name, gray(formatDuration(res.Duration.Milliseconds())))
	if res.Err != nil && res.SessionID == "" {
		fmt.Fprintf(p.w, "  %s %s\n", gray("╰─"), res.Err)
	}
	if res.Teardown != nil {
		fmt.Fprintf(p.w, "  %s %s\n", yellow("teardown:"), res.Teardown)
	}
}

// statusLabel returns the colored one-character symbol and table label of s.
func statusLabel(s report.Status) (symbol, label string) {
	switch s {
	case report.StatusPassed:
		return green("✓"), green("✓ PASS")
	case report.StatusFailed:
		return red("✗"), red("✗ FAIL")
	case report.StatusErrored:
		return red("!"), red("! ERR ")
	default:
		return cyan("-"), cyan("- SKIP")
	}
}

func printSummary(w io.Writer, result *executor.RunResult) {
	totalSteps, passedSteps := 0, 0
	for _, sr := range result.Scenarios {
		totalSteps += sr.StepsTotal
		passedSteps += sr.StepsPassed
	}

	fmt.Fprintln(w)
	if result.Passed > 0 {
		fmt.Fprintf(w, "  %s (%s)\n", green(fmt.Sprintf("%d scenarios passing", result.Passed)),
			formatDuration(result.Duration.Milliseconds()))
	}
	if result.Failed > 0 {
		fmt.Fprintf(w, "  %s\n", red(fmt.Sprintf("%d scenarios failing", result.Failed)))
	}
	if result.Errored > 0 {
		fmt.Fprintf(w, "  %s\n", red(fmt.Sprintf("%d scenarios errored", result.Errored)))
	}
	if result.Skipped > 0 {
		fmt.Fprintf(w, "  %s\n", cyan(fmt.Sprintf("%d scenarios skipped", result.Skipped)))
	}
	fmt.Fprintln(w)

	tableWidth := 84
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
	fmt.Fprintf(w, "  %-42s %6s %7s %6s %10s\n", "Scenario", "Status", "Steps", "Pass", "Duration")
	fmt.Fprintln(w, strings.Repeat("─", tableWidth))

	for _, sr := range result.Scenarios {
		_, label := statusLabel(sr.Status)

		name := sr.Name
		if len(name) > 42 {
			name = name[:39] + "..."
		}

		fmt.Fprintf(w, "  %-42s %s %7d %6d %10s\n",
			name, label, sr.StepsTotal, sr.StepsPassed, formatDuration(sr.Duration.Milliseconds()))
	}

	fmt.Fprintln(w, strings.Repeat("─", tableWidth))
	// pad before coloring: escape codes count towards the width
	total := fmt.Sprintf("%6s", fmt.Sprintf("%d/%d", result.Passed, result.Total))
	if result.Status == report.StatusPassed {
		total = green(total)
	} else {
		total = red(total)
	}
	fmt.Fprintf(w, "  %s %s %7d %6d %10s\n",
		bold(fmt.Sprintf("%-42s", "TOTAL")), total, totalSteps, passedSteps, formatDuration(result.Duration.Milliseconds()))
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
