package parser

import "fmt"

// ExtractionError reports that a plugin could not produce a statement from a
// document. Plugins may return it directly; the extraction driver wraps any
// other error or panic into one.
type ExtractionError struct {
	Plugin   string
	Document string
	Reason   string
	Err      error
}

func (e *ExtractionError) Error() string {
	msg := "extraction failed"
	if e.Plugin != "" {
		msg += " in plugin " + e.Plugin
	}
	if e.Document != "" {
		msg += " for " + e.Document
	}
	return msg + ": " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Errorf returns an ExtractionError with a formatted reason.
func Errorf(format string, args ...any) *ExtractionError {
	return &ExtractionError{Reason: fmt.Sprintf(format, args...)}
}
