// Package core provides the shared types of grid-runner: the driver handle
// contract, locators, wait policies, lifecycle states and the error taxonomy.
package core

// Attachment represents a debug artifact captured for a failed scenario
type Attachment struct {
	Name        string `json:"name"`        // Descriptive name: screenshot, source, note
	ContentType string `json:"contentType"` // MIME type: image/png, text/plain
	Path        string `json:"path"`        // File path relative to output directory
	Body        []byte `json:"-"`           // In-memory content (not serialized to JSON)
}

// Common attachment names
const (
	AttachmentScreenshot = "screenshot"
	AttachmentSource     = "source"
	AttachmentNote       = "note"
)

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeXML  = "application/xml"
	ContentTypeText = "text/plain"
)

// NewScreenshotAttachment creates a screenshot attachment
func NewScreenshotAttachment(path string, data []byte) Attachment {
	return Attachment{
		Name:        AttachmentScreenshot,
		ContentType: ContentTypePNG,
		Path:        path,
		Body:        data,
	}
}

// NewSourceAttachment creates a page source attachment
func NewSourceAttachment(path string, data []byte) Attachment {
	return Attachment{
		Name:        AttachmentSource,
		ContentType: ContentTypeXML,
		Path:        path,
		Body:        data,
	}
}

// NewNoteAttachment creates a text note attachment
func NewNoteAttachment(path, note string) Attachment {
	return Attachment{
		Name:        AttachmentNote,
		ContentType: ContentTypeText,
		Path:        path,
		Body:        []byte(note),
	}
}

// ArtifactConfig controls when and what artifacts are captured
type ArtifactConfig struct {
	// When to capture
	CaptureOnFailure bool `yaml:"captureOnFailure" json:"captureOnFailure"` // Default: true
	CaptureOnSuccess bool `yaml:"captureOnSuccess" json:"captureOnSuccess"` // Default: false

	// What to capture
	Screenshot bool `yaml:"screenshot" json:"screenshot"` // Default: true
	PageSource bool `yaml:"pageSource" json:"pageSource"` // Default: false
}

// DefaultArtifactConfig returns sensible defaults for artifact capture
func DefaultArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		CaptureOnFailure: true,
		CaptureOnSuccess: false,
		Screenshot:       true,
		PageSource:       false,
	}
}

// ShouldCapture returns true if artifacts should be captured for the given status
func (c ArtifactConfig) ShouldCapture(status StepStatus) bool {
	switch status {
	case StatusFailed, StatusErrored:
		return c.CaptureOnFailure
	case StatusPassed:
		return c.CaptureOnSuccess
	default:
		return false
	}
}
