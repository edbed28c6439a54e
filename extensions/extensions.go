// Package extensions provides the phased hook registry the extraction
// pipeline consults around its core stages. Extensions observe or enrich
// one image's processing state; a failing extension is logged and counted,
// never fatal to the image.
package extensions

import (
	"context"
	"fmt"
	"sort"

	"github.com/wudi/labelkit/extractor"
	"github.com/wudi/labelkit/observability"
	"github.com/wudi/labelkit/ocr"
	"github.com/wudi/labelkit/schema"
)

// Phase fixes where in the pipeline an extension runs.
type Phase int

const (
	// PhaseInspect runs after OCR, on the raw evidence.
	PhaseInspect Phase = iota
	// PhaseExtract runs before merging and may contribute extraction rules.
	PhaseExtract
	// PhaseFinalize runs on the built annotation before it is returned.
	PhaseFinalize
)

func (p Phase) String() string { return []string{"Inspect", "Extract", "Finalize"}[p] }

// State is one image's processing state as extensions see it. Which members
// are populated depends on the phase: Response from PhaseInspect on,
// Annotation only in PhaseFinalize.
type State struct {
	// Path identifies the image being processed.
	Path string
	// Version is the active record schema version.
	Version schema.Version
	// Response is the raw OCR evidence.
	Response *ocr.Response
	// Rules collects extraction rules contributed during PhaseExtract.
	Rules []extractor.Rule
	// Annotation is the validated result, present in PhaseFinalize.
	Annotation *schema.Annotation
}

// Extension is one pipeline hook. Priority orders extensions within a
// phase, lowest first; order is stable for equal priorities.
type Extension interface {
	Name() string
	Phase() Phase
	Priority() int
	Execute(ctx context.Context, state *State) error
}

// Hub registers extensions and runs them phase by phase.
type Hub interface {
	Register(ext Extension) error
	Run(ctx context.Context, phase Phase, state *State) (failures int)
	Extensions(phase Phase) []Extension
}

// HubImpl is the standard Hub. Register during setup, run from any number
// of workers afterwards.
type HubImpl struct {
	exts map[Phase][]Extension
	log  observability.Logger
}

// NewHub creates an empty hub. A nil logger silences failure reports.
func NewHub(log observability.Logger) *HubImpl {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &HubImpl{exts: make(map[Phase][]Extension), log: log}
}

// Register adds an extension to its phase, keeping priority order.
func (h *HubImpl) Register(ext Extension) error {
	if ext == nil {
		return fmt.Errorf("extensions: nil extension")
	}
	ph := ext.Phase()
	if ph < PhaseInspect || ph > PhaseFinalize {
		return fmt.Errorf("extensions: %s has unknown phase %d", ext.Name(), ph)
	}
	h.exts[ph] = append(h.exts[ph], ext)
	sort.SliceStable(h.exts[ph], func(i, j int) bool {
		return h.exts[ph][i].Priority() < h.exts[ph][j].Priority()
	})
	return nil
}

// Run executes one phase over the state. Every registered extension runs;
// failures are logged and counted, never propagated.
func (h *HubImpl) Run(ctx context.Context, phase Phase, state *State) int {
	failures := 0
	for _, ext := range h.exts[phase] {
		if err := ext.Execute(ctx, state); err != nil {
			failures++
			h.log.Warn("extension failed",
				observability.String("extension", ext.Name()),
				observability.String("phase", phase.String()),
				observability.String("image", state.Path),
				observability.Error("error", err))
		}
	}
	if failures > 0 {
		h.log.Debug("phase finished with failures",
			observability.String("phase", phase.String()),
			observability.Int(observability.MetricRuleErrors, failures))
	}
	return failures
}

// Extensions returns the phase's extensions in execution order.
func (h *HubImpl) Extensions(phase Phase) []Extension {
	return append([]Extension(nil), h.exts[phase]...)
}
