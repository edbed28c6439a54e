// Package recovery defines the error policy consulted when evidence
// inspection, record validation or overlay rendering hits a bad item:
// fail the run, retry a degraded construction, or skip the item and keep
// a count of what was lost.
package recovery

import "context"

// Strategy decides how the pipeline reacts to a recoverable error.
type Strategy interface {
	OnError(ctx context.Context, err error, point Point) Action
}

// Point identifies where in the pipeline an error surfaced.
type Point struct {
	// Stage is the pipeline stage: StageEvidence, StageValidate,
	// StageOverlay or StageExtension.
	Stage string
	// Key is the field key or rule name involved, when known.
	Key string
	// Index is the item position within a list, -1 when not applicable.
	Index int
}

const (
	StageEvidence  = "evidence"
	StageValidate  = "validate"
	StageOverlay   = "overlay"
	StageExtension = "extension"
)

// Action is the strategy's verdict.
type Action int

const (
	// ActionFail aborts the current image.
	ActionFail Action = iota
	// ActionRetry re-runs record construction keeping declared fields only.
	ActionRetry
	// ActionSkip drops the offending item and continues.
	ActionSkip
)
