package recovery

import (
	"context"
	"fmt"
	"sync"
)

// Strict fails on the first error at any stage.
type Strict struct{}

func NewStrict() *Strict { return &Strict{} }

func (s *Strict) OnError(_ context.Context, _ error, _ Point) Action {
	return ActionFail
}

// Lenient is the default policy: validation failures get one degraded
// retry, bad evidence and geometry items are skipped. Every decision is
// recorded so callers can report how much was lost. Safe for concurrent
// use.
type Lenient struct {
	mu      sync.Mutex
	errs    []error
	skipped int
}

func NewLenient() *Lenient { return &Lenient{} }

func (l *Lenient) OnError(_ context.Context, err error, point Point) Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, fmt.Errorf("%s %s[%d]: %w", point.Stage, point.Key, point.Index, err))
	if point.Stage == StageValidate {
		return ActionRetry
	}
	l.skipped++
	return ActionSkip
}

// Errs returns a copy of every error seen so far.
func (l *Lenient) Errs() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]error, len(l.errs))
	copy(out, l.errs)
	return out
}

// Skipped returns how many items were dropped.
func (l *Lenient) Skipped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skipped
}
