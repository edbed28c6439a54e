package extractor

import (
	"strings"

	"github.com/wudi/labelkit/observability"
)

// Extractor pulls product fields out of freeform recognized text. Built-in
// rules cover the label phrases that appear on retail packaging; callers can
// append their own rules. All rules follow first-match-wins per key, so
// later lines never overwrite a field that was already extracted.
type Extractor struct {
	rules []Rule
	log   observability.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRules appends custom rules evaluated after the built-in set.
func WithRules(rules ...Rule) Option {
	return func(e *Extractor) { e.rules = append(e.rules, rules...) }
}

// WithLogger sets the logger used for rule failures.
func WithLogger(log observability.Logger) Option {
	return func(e *Extractor) {
		if log != nil {
			e.log = log
		}
	}
}

// New creates an extractor with the built-in rule set.
func New(opts ...Option) *Extractor {
	e := &Extractor{log: observability.NopLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats reports what one extraction pass did.
type Stats struct {
	// Lines is the number of logical lines inspected.
	Lines int
	// Matches is the number of keys stored.
	Matches int
	// SkippedRows counts nutrition table rows that failed to parse.
	SkippedRows int
	// RuleErrors counts custom rules disabled after a failure.
	RuleErrors int
}

// Extract runs every rule over the logical lines of text and collects the
// first match per key. It never fails: text that matches nothing yields an
// empty mapping. Malformed markdown, stray table rows, and failing custom
// rules only affect the returned Stats.
func (e *Extractor) Extract(text string) (map[string]interface{}, Stats) {
	fields := make(map[string]interface{})
	var stats Stats

	disabled := make([]bool, len(e.rules))
	for _, line := range Lines(text) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		stats.Lines++
		applyBuiltin(line, fields, &stats)
		for i, rule := range e.rules {
			if disabled[i] {
				continue
			}
			key, value, err := rule.Apply(line)
			if err != nil {
				disabled[i] = true
				stats.RuleErrors++
				e.log.Warn("extraction rule failed",
					observability.String("rule", rule.Name()),
					observability.Error("error", err))
				continue
			}
			if key == "" || value == nil {
				continue
			}
			store(fields, &stats, key, value)
		}
	}

	if _, ok := fields["nutrition_facts"]; !ok {
		rows, skipped := nutritionRows(text)
		stats.SkippedRows += skipped
		if len(rows) > 0 {
			store(fields, &stats, "nutrition_facts", rows)
		}
	}
	return fields, stats
}

func store(fields map[string]interface{}, stats *Stats, key string, value interface{}) {
	if _, ok := fields[key]; ok {
		return
	}
	fields[key] = value
	stats.Matches++
}
