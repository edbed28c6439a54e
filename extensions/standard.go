package extensions

import (
	"context"
	"strings"
	"sync"

	"github.com/wudi/labelkit/schema"
)

// EvidenceInspector records which evidence slots each OCR response filled.
// Reports accumulate on the instance, one per processed image.
type EvidenceInspector struct {
	mu      sync.Mutex
	reports []EvidenceReport
}

// EvidenceReport summarizes one response's evidence.
type EvidenceReport struct {
	Path          string
	HasAnnotation bool
	RegionEntries int
	Pages         int
	MarkdownBytes int
}

func NewEvidenceInspector() *EvidenceInspector { return &EvidenceInspector{} }

func (i *EvidenceInspector) Name() string  { return "evidence-inspector" }
func (i *EvidenceInspector) Phase() Phase  { return PhaseInspect }
func (i *EvidenceInspector) Priority() int { return 100 }

func (i *EvidenceInspector) Execute(ctx context.Context, state *State) error {
	report := EvidenceReport{Path: state.Path}
	if resp := state.Response; resp != nil {
		report.HasAnnotation = resp.HasDocumentAnnotation()
		report.RegionEntries = len(resp.BoxAnnotations) + len(resp.BoxFields)
		report.Pages = len(resp.Pages)
		report.MarkdownBytes = len(resp.Markdown())
	}
	i.mu.Lock()
	i.reports = append(i.reports, report)
	i.mu.Unlock()
	return nil
}

// Reports returns a copy of everything inspected so far.
func (i *EvidenceInspector) Reports() []EvidenceReport {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]EvidenceReport(nil), i.reports...)
}

// ListSanitizer trims and deduplicates the claim-like text lists of the
// final record. OCR output frequently repeats certifications that appear
// on several package faces.
type ListSanitizer struct{}

func NewListSanitizer() *ListSanitizer { return &ListSanitizer{} }

func (s *ListSanitizer) Name() string  { return "list-sanitizer" }
func (s *ListSanitizer) Phase() Phase  { return PhaseFinalize }
func (s *ListSanitizer) Priority() int { return 100 }

func (s *ListSanitizer) Execute(ctx context.Context, state *State) error {
	if state.Annotation == nil || state.Annotation.ProductDetails == nil {
		return nil
	}
	p := state.Annotation.ProductDetails
	p.Allergens = dedupeTexts(p.Allergens)
	p.Claims = dedupeTexts(p.Claims)
	p.Certifications = dedupeTexts(p.Certifications)
	return nil
}

func dedupeTexts(list []schema.Text) []schema.Text {
	if len(list) == 0 {
		return list
	}
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, t := range list {
		trimmed := schema.Text{EN: strings.TrimSpace(t.EN), AR: strings.TrimSpace(t.AR)}
		if trimmed.IsZero() {
			continue
		}
		key := strings.ToLower(trimmed.EN) + "\x00" + trimmed.AR
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, trimmed)
	}
	return out
}
