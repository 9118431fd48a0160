package report

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/logger"
)

// IndexWriter provides thread-safe updates to the report index.
// Workers update their own scenario entries concurrently; every update
// rewrites report.json.
type IndexWriter struct {
	mu    sync.Mutex
	path  string
	index *Index
}

// NewIndexWriter creates a writer for <outputDir>/report.json with one
// pending entry per scenario.
func NewIndexWriter(outputDir string, runner RunnerInfo, scenarios []ScenarioEntry) *IndexWriter {
	entries := make([]ScenarioEntry, len(scenarios))
	for i, s := range scenarios {
		s.Index = i
		if s.Status == "" {
			s.Status = StatusPending
		}
		entries[i] = s
	}
	return &IndexWriter{
		path: filepath.Join(outputDir, "report.json"),
		index: &Index{
			Version:   Version,
			Status:    StatusPending,
			Runner:    runner,
			Scenarios: entries,
		},
	}
}

// Path returns the report.json location.
func (w *IndexWriter) Path() string { return w.path }

// Start marks the run as started.
func (w *IndexWriter) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.index.Status = StatusRunning
	w.index.StartTime = time.Now()
	return w.flushLocked()
}

// UpdateScenario applies update to the entry at index i.
func (w *IndexWriter) UpdateScenario(i int, update ScenarioUpdate) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if i < 0 || i >= len(w.index.Scenarios) {
		return nil
	}
	s := &w.index.Scenarios[i]
	s.Status = update.Status
	if update.SessionID != "" {
		s.SessionID = update.SessionID
	}
	if update.StartTime != nil {
		s.StartTime = update.StartTime
	}
	if update.EndTime != nil {
		s.EndTime = update.EndTime
	}
	if s.StartTime != nil && s.EndTime != nil {
		ms := s.EndTime.Sub(*s.StartTime).Milliseconds()
		s.Duration = &ms
	}
	if update.Err != nil {
		msg := update.Err.Error()
		s.Error = &msg
		s.Category = core.CategoryOf(update.Err).String()
	}
	if len(update.Attachments) > 0 {
		s.Attachments = append(s.Attachments, update.Attachments...)
	}
	return w.flushLocked()
}

// End marks the run as complete.
func (w *IndexWriter) End() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.EndTime = &now
	w.index.Status = w.computeRunStatus()
	return w.flushLocked()
}

// Index returns a copy of the current index.
func (w *IndexWriter) Index() Index {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := *w.index
	idx.Scenarios = append([]ScenarioEntry(nil), w.index.Scenarios...)
	return idx
}

// flushLocked flushes while holding the lock.
func (w *IndexWriter) flushLocked() error {
	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = w.computeSummary()

	if err := atomicWriteJSON(w.path, w.index); err != nil {
		logger.Error("write %s: %v", w.path, err)
		return err
	}
	return nil
}

// computeSummary calculates summary from scenario statuses.
func (w *IndexWriter) computeSummary() Summary {
	var s Summary
	for _, e := range w.index.Scenarios {
		s.Total++
		switch e.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusErrored:
			s.Errored++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
		case StatusPending:
			s.Pending++
		}
	}
	return s
}

// computeRunStatus determines overall run status from scenarios.
func (w *IndexWriter) computeRunStatus() Status {
	hasFailure := false
	allComplete := true

	for _, e := range w.index.Scenarios {
		if e.Status == StatusFailed || e.Status == StatusErrored {
			hasFailure = true
		}
		if !e.Status.IsTerminal() {
			allComplete = false
		}
	}

	if !allComplete {
		return StatusRunning
	}
	if hasFailure {
		return StatusFailed
	}
	return StatusPassed
}
