// Package merge reconciles the evidence slots of an OCR response into one
// validated product record. Evidence is consulted in decreasing order of
// reliability: the structured document annotation wins, box-annotation
// key/values fill the remaining gaps, and heuristic extraction from the
// recognized text covers whatever is still absent. Construction is strict
// first; when the strategy allows it, a failed pass is retried keeping
// declared fields only, so one stray key never sinks an otherwise good
// record.
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wudi/labelkit/extractor"
	"github.com/wudi/labelkit/observability"
	"github.com/wudi/labelkit/ocr"
	"github.com/wudi/labelkit/recovery"
	"github.com/wudi/labelkit/schema"
)

// Evidence slot names recorded in Diagnostics.Sources.
const (
	SourceAnnotation = "annotation"
	SourceBoxes      = "boxes"
	SourceText       = "text"
)

// Merger merges evidence and validates the result. Safe for concurrent use.
type Merger struct {
	rules    []extractor.Rule
	ex       *extractor.Extractor
	strategy recovery.Strategy
	log      observability.Logger
}

// Option configures a Merger.
type Option func(*Merger)

// WithRules appends custom extraction rules applied to the text slot.
func WithRules(rules ...extractor.Rule) Option {
	return func(m *Merger) { m.rules = append(m.rules, rules...) }
}

// WithStrategy sets the error policy. The default is recovery.NewLenient.
func WithStrategy(s recovery.Strategy) Option {
	return func(m *Merger) {
		if s != nil {
			m.strategy = s
		}
	}
}

// WithLogger sets the logger for degraded passes and discarded evidence.
func WithLogger(log observability.Logger) Option {
	return func(m *Merger) {
		if log != nil {
			m.log = log
		}
	}
}

// New creates a Merger.
func New(opts ...Option) *Merger {
	m := &Merger{
		strategy: recovery.NewLenient(),
		log:      observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ex = extractor.New(extractor.WithRules(m.rules...), extractor.WithLogger(m.log))
	return m
}

// Diagnostics describes one merge pass: which declared keys made it into
// the record, which input keys were discarded, and which evidence slot
// each merged key came from.
type Diagnostics struct {
	// Populated lists the declared field keys present in the final record,
	// in registry order.
	Populated []string
	// Dropped lists input keys discarded during construction.
	Dropped []string
	// Sources maps each merged key to SourceAnnotation, SourceBoxes or
	// SourceText.
	Sources map[string]string
	// Fallback is set when strict construction failed and the record was
	// rebuilt from declared fields only.
	Fallback bool
	// Extraction carries the text extractor's counters when the text slot
	// was consulted.
	Extraction extractor.Stats
}

// Merge builds a validated product record from the response's evidence.
// When validation fails the strategy decides between failing and one
// lenient rebuild; if even the rebuild cannot produce the required product
// name, the returned error is a *MissingFieldError carrying the raw merged
// mapping for debugging.
func (m *Merger) Merge(ctx context.Context, version schema.Version, resp *ocr.Response) (*schema.Product, Diagnostics, error) {
	diag := Diagnostics{Sources: make(map[string]string)}
	if resp == nil {
		resp = &ocr.Response{}
	}

	fields := make(map[string]interface{})
	if resp.HasDocumentAnnotation() {
		ann, err := decodeStructured(resp.DocumentAnnotation)
		if err != nil {
			point := recovery.Point{Stage: recovery.StageEvidence, Key: "document_annotation", Index: -1}
			if m.strategy.OnError(ctx, err, point) == recovery.ActionFail {
				return nil, diag, fmt.Errorf("document annotation: %w", err)
			}
			m.log.Warn("unusable document annotation", observability.Error("error", err))
		}
		for k, v := range ann {
			if v == nil {
				continue
			}
			fields[k] = v
			diag.Sources[k] = SourceAnnotation
		}
	}

	for k, v := range resp.BoxFields {
		if v == nil {
			continue
		}
		if _, ok := fields[k]; ok {
			continue
		}
		fields[k] = v
		diag.Sources[k] = SourceBoxes
	}
	for _, a := range resp.BoxAnnotations {
		if a.Key == "" || a.Value == nil {
			continue
		}
		if _, ok := fields[a.Key]; ok {
			continue
		}
		fields[a.Key] = a.Value
		diag.Sources[a.Key] = SourceBoxes
	}

	if text := resp.Markdown(); strings.TrimSpace(text) != "" {
		extracted, stats := m.ex.Extract(text)
		diag.Extraction = stats
		for k, v := range extracted {
			if _, ok := fields[k]; ok {
				continue
			}
			fields[k] = v
			diag.Sources[k] = SourceText
		}
	}

	product, report, err := schema.Build(version, fields)
	if err != nil {
		point := recovery.Point{Stage: recovery.StageValidate, Index: -1}
		if m.strategy.OnError(ctx, err, point) != recovery.ActionRetry {
			return nil, diag, fmt.Errorf("record construction: %w", err)
		}
		diag.Fallback = true
		m.log.Warn("strict construction failed, keeping declared fields only",
			observability.Error("error", err))
		product, report, err = schema.BuildLenient(version, fields)
	}
	if report != nil {
		diag.Populated = report.Populated
		diag.Dropped = report.Dropped
	}
	if err != nil {
		return nil, diag, &MissingFieldError{Field: "product_name", Raw: fields, err: err}
	}

	m.log.Debug("record merged",
		observability.String("version", version.String()),
		observability.Int(observability.MetricFieldsMerged, len(diag.Populated)))
	return product, diag, nil
}

// decodeStructured unwraps the document annotation into a flat field
// mapping. Providers that return the full annotation envelope have their
// product_details descended into, so envelope keys like image_id never
// reach the record.
func decodeStructured(raw json.RawMessage) (map[string]interface{}, error) {
	raw = ocr.DecodeAnnotation(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var outer map[string]interface{}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("annotation is not a JSON object: %w", err)
	}
	if details, ok := outer["product_details"]; ok {
		inner, _ := details.(map[string]interface{})
		return inner, nil
	}
	return outer, nil
}
