package extract

import "fmt"

// Kind classifies an extraction failure.
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindCorruptInput      Kind = "corrupt_input"
	KindOCRUnavailable    Kind = "ocr_unavailable"
	KindOCRFailed         Kind = "ocr_failed"
)

// Error is a per-file extraction failure. It never aborts a batch.
type Error struct {
	Kind   Kind
	Format Format
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extract %s: %s", e.Format, e.Kind)
	}
	return fmt.Sprintf("extract %s: %s: %v", e.Format, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is a caller-facing description.
func (e *Error) Message() string {
	switch e.Kind {
	case KindUnsupportedFormat:
		return "unsupported file format"
	case KindCorruptInput:
		return fmt.Sprintf("file could not be read as %s", e.Format)
	case KindOCRUnavailable:
		return "text recognition is not available on this server"
	default:
		return "text recognition failed"
	}
}

func fail(kind Kind, format Format, err error) *Error {
	return &Error{Kind: kind, Format: format, Err: err}
}
