package report

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/logger"
)

// timestampLayout renders MM-dd-yyyy_HH-mm-ss.
const timestampLayout = "01-02-2006_15-04-05"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Recorder saves failure artifacts under Dir.
type Recorder struct {
	Dir    string
	Config core.ArtifactConfig
	// Now is the clock used in file names; defaults to time.Now
	Now func() time.Time

	mu   sync.Mutex
	used map[string]int
}

// NewRecorder returns a recorder with the default artifact config.
func NewRecorder(dir string) *Recorder {
	return &Recorder{Dir: dir, Config: core.DefaultArtifactConfig(), Now: time.Now}
}

// baseName returns failImage-<name>_<MM-dd-yyyy_HH-mm-ss>_. A name already
// handed out by r gets a counter suffix, so same-named scenarios failing in
// the same second keep separate files.
func (r *Recorder) baseName(name string) string {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	safe := strings.Trim(unsafeName.ReplaceAllString(name, "_"), "._")
	if safe == "" {
		safe = "scenario"
	}
	base := fmt.Sprintf("failImage-%s_%s_", safe, now().Format(timestampLayout))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used == nil {
		r.used = make(map[string]int)
	}
	r.used[base]++
	if n := r.used[base]; n > 1 {
		return base + strconv.Itoa(n)
	}
	return base
}

// RecordFailure captures a screenshot (and optionally the page source) from d
// and writes a note describing cause. A nil cause records nothing unless the
// config captures on success. Capture problems are logged and the
// remaining artifacts are still written. Paths in the returned attachments
// are relative to Dir.
func (r *Recorder) RecordFailure(ctx context.Context, name string, d core.Driver, cause error) ([]core.Attachment, error) {
	if !r.Config.ShouldCapture(core.StatusOf(cause)) {
		return nil, nil
	}
	base := r.baseName(name)
	var out []core.Attachment

	if d != nil && r.Config.Screenshot {
		png, err := d.Screenshot(ctx)
		if err != nil {
			logger.Warn("screenshot for %s: %v", name, err)
		} else {
			a := core.NewScreenshotAttachment(base+".png", png)
			if err := r.write(a); err != nil {
				return out, err
			}
			out = append(out, a)
		}
	}
	if d != nil && r.Config.PageSource {
		src, err := d.Source(ctx)
		if err != nil {
			logger.Warn("page source for %s: %v", name, err)
		} else {
			a := core.NewSourceAttachment(base+".xml", []byte(src))
			if err := r.write(a); err != nil {
				return out, err
			}
			out = append(out, a)
		}
	}

	note := core.NewNoteAttachment(base+".txt", r.note(name, d, cause))
	if err := r.write(note); err != nil {
		return out, err
	}
	return append(out, note), nil
}

func (r *Recorder) note(name string, d core.Driver, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	if d != nil {
		fmt.Fprintf(&b, "session: %s\n", d.SessionID())
	}
	if cause != nil {
		fmt.Fprintf(&b, "status: %s\n", core.StatusOf(cause))
		fmt.Fprintf(&b, "category: %s\n", core.CategoryOf(cause))
		fmt.Fprintf(&b, "error: %v\n", cause)
	}
	return b.String()
}

func (r *Recorder) write(a core.Attachment) error {
	if err := atomicWrite(filepath.Join(r.Dir, a.Path), a.Body); err != nil {
		return fmt.Errorf("write %s: %w", a.Path, err)
	}
	return nil
}
