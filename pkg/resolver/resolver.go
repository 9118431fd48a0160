// Package resolver implements polling element resolution: repeatedly query the
// driver for a locator until a displayed match appears or the wait times out.
//
// A wait that times out fails between Timeout and Timeout+PollInterval after it
// started: sleeps are capped at the time left before the deadline, and one
// final lookup runs at the deadline. Lookup errors while polling (stale
// elements, transient transport failures) are remembered but never end the
// wait early. Context cancellation does, and is reported, not swallowed.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/logger"
	"github.com/dibtr/grid-runner/pkg/metrics"
)

// ErrStillVisible is returned by WaitGone when the element does not go away.
var ErrStillVisible = core.NewExecutionError(core.ErrCategoryTimeout, "element_still_visible", "element still visible")

// condition is evaluated once per poll. done ends the wait successfully.
type condition func(ctx context.Context) (done bool, err error)

// poll runs cond until it reports done, the policy deadline passes or ctx ends.
// When not done, err is the context error or the last lookup error (possibly nil).
func poll(ctx context.Context, policy core.WaitPolicy, cond condition) (elapsed time.Duration, done bool, err error) {
	start := time.Now()
	deadline := start.Add(policy.Timeout)
	var lastErr error

	for {
		ok, condErr := cond(ctx)
		if ok {
			return time.Since(start), true, nil
		}
		if condErr != nil {
			if ctx.Err() != nil {
				return time.Since(start), false, ctx.Err()
			}
			lastErr = condErr
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if err := ctx.Err(); err != nil {
				return time.Since(start), false, err
			}
			return time.Since(start), false, lastErr
		}
		wait := policy.PollInterval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Since(start), false, ctx.Err()
		case <-timer.C:
		}
	}
}

func notFound(loc core.Locator, policy core.WaitPolicy, elapsed time.Duration, cause error) *core.ElementNotFoundError {
	return &core.ElementNotFoundError{Locator: loc, Timeout: policy.Timeout, Elapsed: elapsed, Cause: cause}
}

func observe(elapsed time.Duration, err error) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeAborted
	default:
		outcome = metrics.OutcomeTimeout
	}
	metrics.ResolveDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// firstDisplayed returns the first displayed element matching loc.
func firstDisplayed(ctx context.Context, d core.Driver, loc core.Locator) (string, error) {
	ids, err := d.FindElements(ctx, loc)
	if err != nil {
		return "", err
	}
	var lastErr error
	for _, id := range ids {
		shown, err := d.IsDisplayed(ctx, id)
		if err != nil {
			lastErr = err
			continue
		}
		if shown {
			return id, nil
		}
	}
	return "", lastErr
}

// Resolve waits for the first displayed element matching loc.
// Zero policy fields take the 60s/500ms defaults.
func Resolve(ctx context.Context, d core.Driver, loc core.Locator, policy core.WaitPolicy) (*core.Element, error) {
	policy = policy.WithDefaults()

	var found string
	elapsed, ok, cause := poll(ctx, policy, func(ctx context.Context) (bool, error) {
		id, err := firstDisplayed(ctx, d, loc)
		found = id
		return id != "", err
	})
	if !ok {
		err := notFound(loc, policy, elapsed, cause)
		observe(elapsed, cause)
		logger.Debug("resolve %s failed after %s: %v", loc, elapsed.Round(time.Millisecond), cause)
		return nil, err
	}

	observe(elapsed, nil)
	logger.Debug("resolved %s to %s in %s", loc, found, elapsed.Round(time.Millisecond))
	return &core.Element{ID: found, Locator: loc}, nil
}

// ResolveAll waits until loc matches at least one element and returns all
// matches, displayed or not.
func ResolveAll(ctx context.Context, d core.Driver, loc core.Locator, policy core.WaitPolicy) ([]*core.Element, error) {
	policy = policy.WithDefaults()

	var ids []string
	elapsed, ok, cause := poll(ctx, policy, func(ctx context.Context) (bool, error) {
		var err error
		ids, err = d.FindElements(ctx, loc)
		return err == nil && len(ids) > 0, err
	})
	observe(elapsed, cause)
	if !ok {
		return nil, notFound(loc, policy, elapsed, cause)
	}

	elements := make([]*core.Element, len(ids))
	for i, id := range ids {
		elements[i] = &core.Element{ID: id, Locator: loc}
	}
	return elements, nil
}

// IsPresent reports whether a displayed match appears within timeout.
// Every failure, including an interrupted wait, is reported as false.
func IsPresent(ctx context.Context, d core.Driver, loc core.Locator, timeout time.Duration) bool {
	_, err := Resolve(ctx, d, loc, core.WaitPolicy{Timeout: timeout})
	return err == nil
}

// WaitGone waits until loc has no displayed match.
func WaitGone(ctx context.Context, d core.Driver, loc core.Locator, policy core.WaitPolicy) error {
	policy = policy.WithDefaults()

	elapsed, ok, cause := poll(ctx, policy, func(ctx context.Context) (bool, error) {
		id, err := firstDisplayed(ctx, d, loc)
		if err != nil {
			return false, err
		}
		return id == "", nil
	})
	if ok {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrStillVisible.
		WithMessage(fmt.Sprintf("element still visible: %s after %s", loc, elapsed.Round(time.Millisecond))).
		WithCause(cause)
}
