package scripting

import "context"

// Rule adapts a compiled program to the extractor's rule contract
// (Name/Apply). The bound context lets a caller interrupt scripted rules
// for a whole extraction run.
type Rule struct {
	ctx     context.Context
	program Program
}

// NewRule binds a program to a context.
func NewRule(ctx context.Context, program Program) *Rule {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Rule{ctx: ctx, program: program}
}

func (r *Rule) Name() string { return r.program.Name() }

func (r *Rule) Apply(line string) (string, interface{}, error) {
	return r.program.Extract(r.ctx, line)
}
