package merge

import "fmt"

// MissingFieldError reports that even the degraded construction pass could
// not produce a record, because a required field was absent from every
// evidence source. Raw carries the merged mapping so callers can surface
// what the evidence actually contained.
type MissingFieldError struct {
	// Field is the required field that was never populated.
	Field string
	// Raw is the merged evidence mapping as it went into construction.
	Raw map[string]interface{}

	err error
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("no evidence source produced %q: %v", e.Field, e.err)
}

func (e *MissingFieldError) Unwrap() error { return e.err }
