package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dibtr/grid-runner/pkg/logger"
	"github.com/dibtr/grid-runner/pkg/report"
	"github.com/dibtr/grid-runner/pkg/suite"
)

// Run executes all scenarios of s and writes report.json under OutputDir.
// At most Parallelism scenarios run at once; session starts are spaced by
// StartInterval. A cancelled ctx aborts running scenarios and skips the rest.
func (r *Runner) Run(ctx context.Context, s *suite.Suite) (*RunResult, error) {
	if s == nil || len(s.Scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios to run")
	}

	r.writer = report.NewIndexWriter(r.config.OutputDir, report.RunnerInfo{
		Version:  r.config.RunnerVersion,
		Location: r.config.Settings.Location(),
		Parallel: r.config.Parallelism,
	}, entries(s))
	r.recorder = report.NewRecorder(artifactsDir(r.config.OutputDir))
	r.recorder.Config = r.config.Artifacts

	if err := r.writer.Start(); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	logger.Info("running %d scenario(s) with parallelism %d", len(s.Scenarios), r.config.Parallelism)
	startTime := time.Now()

	var limiter *rate.Limiter
	if r.config.StartInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(r.config.StartInterval), 1)
	}

	results := make([]ScenarioResult, len(s.Scenarios))
	var stopped atomic.Bool
	total := len(s.Scenarios)

	g := new(errgroup.Group)
	g.SetLimit(r.config.Parallelism)
	for i, sc := range s.Scenarios {
		g.Go(func() error {
			// Each worker writes only its own slot
			switch {
			case ctx.Err() != nil:
				results[i] = r.skip(i, sc, errRunCancelled)
				return nil
			case stopped.Load():
				results[i] = r.skip(i, sc, errRunStopped)
				return nil
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					results[i] = r.skip(i, sc, errRunCancelled)
					return nil
				}
			}

			if r.config.OnScenarioStart != nil {
				r.config.OnScenarioStart(i, total, sc.Name)
			}
			res := r.executeScenario(ctx, i, sc)
			results[i] = res
			if r.config.OnScenarioEnd != nil {
				r.config.OnScenarioEnd(res)
			}
			if r.config.StopOnFail && res.Status != report.StatusPassed {
				stopped.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := r.writer.End(); err != nil {
		logger.Warn("final report write failed: %v", err)
	}

	res := buildRunResult(results, time.Since(startTime))
	res.ReportPath = r.writer.Path()
	return res, nil
}
