// Package session owns the lifecycle of a worker's automation session.
//
// Each worker creates its own Registry; a registry holds at most one live
// session and walks the state machine
//
//	Uninitialized -> Starting -> Active -> Stopping -> Terminated
//
// A terminated registry may start a new session, so a scenario can run a
// mobile session and then a web session on the same worker. Registries are
// not shared between goroutines.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dibtr/grid-runner/pkg/capability"
	"github.com/dibtr/grid-runner/pkg/config"
	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/logger"
	"github.com/dibtr/grid-runner/pkg/metrics"
	"github.com/dibtr/grid-runner/pkg/page"
	"github.com/dibtr/grid-runner/pkg/platform"
)

// Params selects the platform and device of a new session.
type Params struct {
	Platform        core.Platform
	PlatformVersion string
	DeviceName      string
	FullReset       bool
}

// Session is a live automation session owned by one worker.
type Session struct {
	ID           string // correlates log lines of the owning worker
	Platform     core.Platform
	Capabilities *capability.Set
	Driver       core.Driver
	Page         *page.Page
	StartedAt    time.Time
}

// RemoteID returns the endpoint's session id.
func (s *Session) RemoteID() string { return s.Driver.SessionID() }

// Selector picks the configurator for a platform.
type Selector func(settings config.Settings, p core.Platform) (platform.Configurator, error)

// Registry is the per-worker session holder.
type Registry struct {
	settings config.Settings
	// Select defaults to platform.Select
	Select Selector

	state        core.SessionState
	current      *Session
	configurator platform.Configurator
}

// NewRegistry returns an uninitialized registry.
func NewRegistry(settings config.Settings) *Registry {
	return &Registry{settings: settings, Select: platform.Select}
}

// State returns the lifecycle state.
func (r *Registry) State() core.SessionState { return r.state }

// Current returns the live session, if any.
func (r *Registry) Current() (*Session, bool) {
	return r.current, r.current != nil
}

// Start opens a session. It fails with core.ErrSessionActive unless the
// registry is uninitialized or terminated. On failure the registry returns to
// Uninitialized and the error is a configuration or session error.
func (r *Registry) Start(ctx context.Context, p Params) (*Session, error) {
	if !r.state.CanStart() {
		return nil, core.ErrSessionActive.WithMessage(fmt.Sprintf("cannot start a %s session: registry is %s", p.Platform, r.state))
	}
	r.state = core.SessionStarting

	id := uuid.NewString()
	log := logger.With(zap.String("session", id), zap.String("platform", string(p.Platform)))
	log.Info("starting session", zap.String("device", p.DeviceName), zap.String("platformVersion", p.PlatformVersion))

	sel := r.Select
	if sel == nil {
		sel = platform.Select
	}
	conf, err := sel(r.settings, p.Platform)
	if err != nil {
		return nil, r.startFailed(log, p.Platform, err)
	}
	h, err := conf.Open(ctx, platform.Params{
		PlatformVersion: p.PlatformVersion,
		DeviceName:      p.DeviceName,
		FullReset:       p.FullReset,
	})
	if err != nil {
		return nil, r.startFailed(log, p.Platform, err)
	}

	s := &Session{
		ID:           id,
		Platform:     p.Platform,
		Capabilities: h.Capabilities,
		Driver:       h.Driver,
		Page:         h.Page,
		StartedAt:    time.Now(),
	}
	s.Page.Bind(r.stateOf(s))

	r.current = s
	r.configurator = conf
	r.state = core.SessionActive
	metrics.SessionsStarted.WithLabelValues(string(p.Platform), metrics.OutcomeSuccess).Inc()
	metrics.SessionsActive.WithLabelValues(string(p.Platform)).Inc()
	log.Info("session active", zap.String("remoteId", s.RemoteID()), zap.Stringer("capabilities", s.Capabilities))
	return s, nil
}

// stateOf reports the registry state while s is its live session and
// Terminated once s has been stopped, even after the registry restarts.
func (r *Registry) stateOf(s *Session) func() core.SessionState {
	return func() core.SessionState {
		if r.current != s {
			return core.SessionTerminated
		}
		return r.state
	}
}

func (r *Registry) startFailed(log *zap.Logger, p core.Platform, err error) error {
	r.state = core.SessionUninitialized

	fields := []zap.Field{zap.Error(err)}
	var execErr *core.ExecutionError
	if errors.As(err, &execErr) {
		if caps, ok := execErr.Details["capabilities"]; ok {
			fields = append(fields, zap.Any("capabilities", caps))
		}
	}
	log.Error("session start failed", fields...)
	metrics.SessionsStarted.WithLabelValues(string(p), outcome(err)).Inc()
	return err
}

func outcome(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return metrics.OutcomeAborted
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeFailure
	}
}

// Stop closes the live session and moves the registry to Terminated. Without
// a live session it does nothing and returns nil. Teardown failures are
// logged and returned as a *core.TeardownError; they are informational and
// never change a scenario's result.
func (r *Registry) Stop(ctx context.Context) error {
	if !r.state.CanStop() {
		return nil
	}
	r.state = core.SessionStopping

	s := r.current
	log := logger.With(zap.String("session", s.ID), zap.String("platform", string(s.Platform)))
	log.Info("stopping session", zap.Duration("age", time.Since(s.StartedAt)))

	err := r.configurator.Close(ctx, s.Driver)

	r.current = nil
	r.configurator = nil
	r.state = core.SessionTerminated
	metrics.SessionsActive.WithLabelValues(string(s.Platform)).Dec()

	if err != nil {
		metrics.TeardownErrors.Inc()
		log.Warn("session teardown incomplete", zap.Error(err))
		return err
	}
	log.Info("session terminated")
	return nil
}

type contextKey struct{}

// NewContext returns a context carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored by NewContext.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
