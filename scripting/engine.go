// Package scripting embeds a JavaScript engine for user-supplied extraction
// rules. A rule script defines a single function, extract(line), returning
// either null (no match) or an object {key, value}; compiled scripts plug
// into the text extractor through the Rule adapter.
package scripting

import "context"

// Engine compiles rule scripts.
type Engine interface {
	// Compile parses and initializes a rule script. The returned program is
	// safe for concurrent use.
	Compile(name, source string) (Program, error)
}

// Program is a compiled rule script.
type Program interface {
	// Name identifies the script in logs and diagnostics.
	Name() string

	// Extract invokes the script's extract(line) function. A ("", nil, nil)
	// return means the line did not match. Errors (script exceptions,
	// malformed return values, interrupts) mark the rule inert upstream.
	Extract(ctx context.Context, line string) (key string, value interface{}, err error)
}
