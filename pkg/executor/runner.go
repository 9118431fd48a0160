// Package executor runs suite scenarios, connecting sessions to reports.
// Every scenario runs on its own worker goroutine with its own session
// registry; workers share only the report writer and the failure recorder.
package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dibtr/grid-runner/pkg/config"
	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/logger"
	"github.com/dibtr/grid-runner/pkg/metrics"
	"github.com/dibtr/grid-runner/pkg/report"
	"github.com/dibtr/grid-runner/pkg/session"
	"github.com/dibtr/grid-runner/pkg/suite"
	"github.com/dibtr/grid-runner/pkg/testdata"
)

// TeardownTimeout bounds closing a session. It applies even when the run
// was cancelled so remote sessions are not leaked.
const TeardownTimeout = 30 * time.Second

// RunnerConfig configures the test runner.
type RunnerConfig struct {
	Settings      config.Settings
	OutputDir     string              // report.json and failure artifacts
	Parallelism   int                 // max concurrent scenarios (<= 1 = sequential)
	StartInterval time.Duration       // min spacing between session starts across workers
	StopOnFail    bool                // don't start new scenarios after a failure
	Artifacts     core.ArtifactConfig // zero value uses core.DefaultArtifactConfig
	RunnerVersion string

	// NewRegistry creates the session registry of one scenario;
	// defaults to session.NewRegistry(Settings)
	NewRegistry func() *session.Registry
	// Data generates the test data of one scenario; defaults to testdata.NewData
	Data func() testdata.Data

	// Live progress callbacks. They may be called from several workers at once.
	OnScenarioStart func(idx, total int, name string)
	OnStepComplete  func(scenario string, idx int, desc string, err error, d time.Duration)
	OnScenarioEnd   func(result ScenarioResult)
}

// RunResult contains the outcome of a test run.
type RunResult struct {
	Status     report.Status
	Total      int
	Passed     int
	Failed     int
	Errored    int
	Skipped    int
	Duration   time.Duration // wall clock
	Scenarios  []ScenarioResult
	ReportPath string
}

// ScenarioResult contains the outcome of a single scenario.
type ScenarioResult struct {
	Index       int
	Name        string
	Status      report.Status
	SessionID   string // remote session id, empty when the session never started
	Duration    time.Duration
	Err         error
	StepsTotal  int
	StepsPassed int
	Attachments []core.Attachment
	// Teardown is the informational session close error; it never
	// changes Status.
	Teardown error
}

// Runner orchestrates scenario execution.
type Runner struct {
	config   RunnerConfig
	writer   *report.IndexWriter
	recorder *report.Recorder
}

// New creates a new Runner.
func New(cfg RunnerConfig) *Runner {
	if cfg.NewRegistry == nil {
		settings := cfg.Settings
		cfg.NewRegistry = func() *session.Registry { return session.NewRegistry(settings) }
	}
	if cfg.Data == nil {
		cfg.Data = testdata.NewData
	}
	if cfg.Artifacts == (core.ArtifactConfig{}) {
		cfg.Artifacts = core.DefaultArtifactConfig()
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Runner{config: cfg}
}

// executeScenario runs one scenario start to finish and records its outcome.
func (r *Runner) executeScenario(ctx context.Context, idx int, sc suite.Scenario) ScenarioResult {
	log := logger.With(zap.String("scenario", sc.Name), zap.String("platform", string(sc.Platform)))
	result := ScenarioResult{Index: idx, Name: sc.Name, StepsTotal: len(sc.Steps)}

	start := time.Now()
	r.update(idx, report.ScenarioUpdate{Status: report.StatusRunning, StartTime: &start})

	reg := r.config.NewRegistry()
	sess, err := reg.Start(ctx, sc.Params())
	var d core.Driver
	if err == nil {
		result.SessionID = sess.RemoteID()
		d = sess.Driver
		result.StepsPassed, err = r.runSteps(session.NewContext(ctx, sess), sess, sc)
	}

	if err != nil {
		// artifacts of an interrupted scenario are still captured
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), TeardownTimeout)
		attachments, recErr := r.recorder.RecordFailure(recCtx, sc.Name, d, err)
		cancel()
		if recErr != nil {
			log.Warn("failure artifacts incomplete", zap.Error(recErr))
		}
		result.Attachments = attachments
	}

	if sess != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), TeardownTimeout)
		result.Teardown = reg.Stop(stopCtx)
		cancel()
	}

	end := time.Now()
	result.Err = err
	result.Duration = end.Sub(start)
	result.Status = report.FromStep(core.StatusOf(err))
	metrics.ScenarioResults.WithLabelValues(string(result.Status)).Inc()

	if err != nil {
		log.Error("scenario finished", zap.String("status", string(result.Status)),
			zap.String("category", core.CategoryOf(err).String()), zap.Duration("duration", result.Duration), zap.Error(err))
	} else {
		log.Info("scenario finished", zap.String("status", string(result.Status)), zap.Duration("duration", result.Duration))
	}

	r.update(idx, report.ScenarioUpdate{
		Status:      result.Status,
		SessionID:   result.SessionID,
		StartTime:   &start,
		EndTime:     &end,
		Err:         err,
		Attachments: result.Attachments,
	})
	return result
}

// runSteps opens the scenario URL, then runs each step in order, stopping at
// the first failure. It returns the number of steps that passed.
func (r *Runner) runSteps(ctx context.Context, sess *session.Session, sc suite.Scenario) (int, error) {
	data := r.config.Data()
	if sc.URL != "" {
		if err := sess.Page.Navigate(ctx, suite.Expand(sc.URL, data)); err != nil {
			return 0, fmt.Errorf("open %s: %w", sc.URL, err)
		}
	}

	for i, st := range sc.Steps {
		st = st.Expand(data)
		start := time.Now()
		err := st.Run(ctx, sess)
		if r.config.OnStepComplete != nil {
			r.config.OnStepComplete(sc.Name, i, st.String(), err, time.Since(start))
		}
		if err != nil {
			return i, fmt.Errorf("step %d (%s): %w", i+1, st, err)
		}
	}
	return len(sc.Steps), nil
}

// skip records a scenario that never ran.
func (r *Runner) skip(idx int, sc suite.Scenario, reason error) ScenarioResult {
	logger.With(zap.String("scenario", sc.Name)).Info("scenario skipped", zap.Error(reason))
	metrics.ScenarioResults.WithLabelValues(string(report.StatusSkipped)).Inc()
	r.update(idx, report.ScenarioUpdate{Status: report.StatusSkipped, Err: reason})
	return ScenarioResult{Index: idx, Name: sc.Name, Status: report.StatusSkipped, Err: reason, StepsTotal: len(sc.Steps)}
}

// update writes a scenario change; report write failures don't stop the run.
func (r *Runner) update(idx int, u report.ScenarioUpdate) {
	if err := r.writer.UpdateScenario(idx, u); err != nil {
		logger.Warn("report update failed: %v", err)
	}
}

var (
	errRunStopped   = errors.New("run stopped after a failure")
	errRunCancelled = errors.New("run cancelled")
)

func entries(s *suite.Suite) []report.ScenarioEntry {
	out := make([]report.ScenarioEntry, len(s.Scenarios))
	for i, sc := range s.Scenarios {
		out[i] = report.ScenarioEntry{Name: sc.Name, Platform: sc.Platform, Device: sc.DeviceName}
	}
	return out
}

func artifactsDir(outputDir string) string {
	return filepath.Join(outputDir, "artifacts")
}

// buildRunResult aggregates scenario results into a run result.
func buildRunResult(results []ScenarioResult, wallClock time.Duration) *RunResult {
	res := &RunResult{Total: len(results), Scenarios: results, Duration: wallClock}
	for _, sr := range results {
		switch sr.Status {
		case report.StatusPassed:
			res.Passed++
		case report.StatusFailed:
			res.Failed++
		case report.StatusErrored:
			res.Errored++
		case report.StatusSkipped:
			res.Skipped++
		}
	}
	if res.Failed > 0 || res.Errored > 0 {
		res.Status = report.StatusFailed
	} else {
		res.Status = report.StatusPassed
	}
	return res
}
