package document

import (
	"errors"
	"fmt"
	"time"
)

// Status is the processing state of a Document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ContentTypePDF is the only format eligible for direct text extraction.
const ContentTypePDF = "application/pdf"

// Extraction methods recorded on a document once raw text is known.
const (
	MethodDirect = "direct"
	MethodOCR    = "ocr"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrInvariant = errors.New("document invariant violated")
)

// Document is the unit of work moved through the pipeline.
type Document struct {
	ID               string     `json:"id"`
	Filename         string     `json:"filename"`
	SourcePath       string     `json:"file_path"`
	ContentType      string     `json:"content_type"`
	Status           Status     `json:"status"`
	RawText          *string    `json:"raw_ocr_text,omitempty"`
	FormattedText    *string    `json:"beautified_text,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	ExtractionMethod string     `json:"extraction_method,omitempty"`
	PageCount        int        `json:"page_count,omitempty"`
	CreatedAt        time.Time  `json:"upload_timestamp"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// New returns a pending document.
func New(id, filename, sourcePath, contentType string, now time.Time) Document {
	return Document{
		ID:          id,
		Filename:    filename,
		SourcePath:  sourcePath,
		ContentType: contentType,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsPDF reports whether the declared content type allows direct extraction.
func (d Document) IsPDF() bool { return d.ContentType == ContentTypePDF }

// Validate checks the record-level invariants.
func (d Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvariant)
	}
	switch d.Status {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvariant, d.Status)
	}
	if d.Status == StatusCompleted && (d.RawText == nil || d.FormattedText == nil) {
		return fmt.Errorf("%w: completed without raw and formatted text", ErrInvariant)
	}
	if d.Status == StatusFailed && d.ErrorMessage == nil {
		return fmt.Errorf("%w: failed without error message", ErrInvariant)
	}
	if d.FormattedText != nil && d.RawText == nil {
		return fmt.Errorf("%w: formatted text without raw text", ErrInvariant)
	}
	return nil
}

// CheckUpdate verifies that next is a legal successor of prev: immutable
// fields unchanged, status never regressing and raw text never overwritten.
func CheckUpdate(prev, next Document) error {
	if prev.ID != next.ID || prev.SourcePath != next.SourcePath || prev.ContentType != next.ContentType {
		return fmt.Errorf("%w: immutable field changed", ErrInvariant)
	}
	if next.Status.rank() < prev.Status.rank() {
		return fmt.Errorf("%w: status regressed %s -> %s", ErrInvariant, prev.Status, next.Status)
	}
	if prev.Status.Terminal() && next.Status != prev.Status {
		return fmt.Errorf("%w: terminal status %s changed", ErrInvariant, prev.Status)
	}
	if prev.RawText != nil && (next.RawText == nil || *next.RawText != *prev.RawText) {
		return fmt.Errorf("%w: raw text overwritten", ErrInvariant)
	}
	return next.Validate()
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// Ptr is a small helper for the optional text fields.
func Ptr(s string) *string { return &s }
