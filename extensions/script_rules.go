package extensions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wudi/labelkit/scripting"
)

// ScriptRules contributes JavaScript extraction rules during PhaseExtract.
// Scripts are compiled once at construction; a script that cannot be read
// or compiled is a setup error, while a rule that fails at extraction time
// is disabled by the extractor without failing the image.
type ScriptRules struct {
	programs []scripting.Program
}

// NewScriptRules compiles the given rule files.
func NewScriptRules(engine scripting.Engine, files ...string) (*ScriptRules, error) {
	if engine == nil {
		engine = scripting.NewEngine()
	}
	sr := &ScriptRules{}
	for _, file := range files {
		source, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read rule script: %w", err)
		}
		program, err := engine.Compile(filepath.Base(file), string(source))
		if err != nil {
			return nil, err
		}
		sr.programs = append(sr.programs, program)
	}
	return sr, nil
}

// NewScriptRulesFromSource compiles one in-memory script, for callers that
// carry rules in configuration rather than files.
func NewScriptRulesFromSource(engine scripting.Engine, name, source string) (*ScriptRules, error) {
	if engine == nil {
		engine = scripting.NewEngine()
	}
	program, err := engine.Compile(name, source)
	if err != nil {
		return nil, err
	}
	return &ScriptRules{programs: []scripting.Program{program}}, nil
}

func (s *ScriptRules) Name() string  { return "script-rules" }
func (s *ScriptRules) Phase() Phase  { return PhaseExtract }
func (s *ScriptRules) Priority() int { return 100 }

// Execute appends one rule per compiled script, bound to the image's
// context so cancellation interrupts running scripts.
func (s *ScriptRules) Execute(ctx context.Context, state *State) error {
	for _, program := range s.programs {
		state.Rules = append(state.Rules, scripting.NewRule(ctx, program))
	}
	return nil
}
