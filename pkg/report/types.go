// Package report records what a run produced: a report.json index of scenario
// results and the failure artifacts (screenshot plus a text note) captured
// when a scenario fails. Rendering HTML or Allure output is left to external
// tools reading report.json.
package report

import (
	"time"

	"github.com/dibtr/grid-runner/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusErrored Status = "errored"
	StatusSkipped Status = "skipped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusSkipped:
		return true
	default:
		return false
	}
}

// FromStep converts a core status.
func FromStep(s core.StepStatus) Status {
	switch s {
	case core.StatusRunning:
		return StatusRunning
	case core.StatusPassed:
		return StatusPassed
	case core.StatusFailed:
		return StatusFailed
	case core.StatusErrored:
		return StatusErrored
	case core.StatusSkipped:
		return StatusSkipped
	default:
		return StatusPending
	}
}

// Index is the report.json document.
type Index struct {
	Version     string          `json:"version"`
	UpdateSeq   uint64          `json:"updateSeq"`
	Status      Status          `json:"status"`
	StartTime   time.Time       `json:"startTime"`
	EndTime     *time.Time      `json:"endTime,omitempty"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Runner      RunnerInfo      `json:"runner"`
	Summary     Summary         `json:"summary"`
	Scenarios   []ScenarioEntry `json:"scenarios"`
}

// RunnerInfo describes the run environment.
type RunnerInfo struct {
	Version  string `json:"version"`
	Location string `json:"location"` // localhost, grid, remote
	Parallel int    `json:"parallel"`
}

// Summary contains aggregated counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	Skipped int `json:"skipped"`
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// ScenarioEntry is the index entry for a scenario.
type ScenarioEntry struct {
	Index       int               `json:"index"` // position in the suite
	Name        string            `json:"name"`
	Platform    core.Platform     `json:"platform"`
	Device      string            `json:"device,omitempty"`
	SessionID   string            `json:"sessionId,omitempty"`
	Status      Status            `json:"status"`
	StartTime   *time.Time        `json:"startTime,omitempty"`
	EndTime     *time.Time        `json:"endTime,omitempty"`
	Duration    *int64            `json:"duration,omitempty"` // milliseconds
	Error       *string           `json:"error,omitempty"`
	Category    string            `json:"category,omitempty"`
	Attachments []core.Attachment `json:"attachments,omitempty"`
}

// ScenarioUpdate changes one scenario entry.
type ScenarioUpdate struct {
	Status      Status
	SessionID   string
	StartTime   *time.Time
	EndTime     *time.Time
	Err         error
	Attachments []core.Attachment
}
