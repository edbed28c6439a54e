package scripting

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// GojaEngine compiles rule scripts with the goja JavaScript runtime.
type GojaEngine struct{}

// NewEngine constructs a goja-backed engine.
func NewEngine() *GojaEngine { return &GojaEngine{} }

// Compile parses the script, runs its top level once, and captures the
// extract function it must define.
func (e *GojaEngine) Compile(name, source string) (Program, error) {
	compiled, err := goja.Compile(name, source, true)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	vm := goja.New()
	if _, err := vm.RunProgram(compiled); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}
	fn, ok := goja.AssertFunction(vm.Get("extract"))
	if !ok {
		return nil, fmt.Errorf("script %s does not define extract(line)", name)
	}
	return &gojaProgram{name: name, vm: vm, fn: fn}, nil
}

// gojaProgram serializes calls into its runtime: goja VMs are not safe for
// concurrent use, and one VM per script keeps script-level state (counters,
// caches) meaningful.
type gojaProgram struct {
	name string

	mu sync.Mutex
	vm *goja.Runtime
	fn goja.Callable
}

func (p *gojaProgram) Name() string { return p.name }

func (p *gojaProgram) Extract(ctx context.Context, line string) (string, interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	defer p.vm.ClearInterrupt()

	go func() {
		select {
		case <-ctx.Done():
			p.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := p.fn(goja.Undefined(), p.vm.ToValue(line))
	if err != nil {
		if interrupted, ok := err.(*goja.InterruptedError); ok {
			if cause := interrupted.Unwrap(); cause != nil {
				return "", nil, cause
			}
			return "", nil, context.Canceled
		}
		return "", nil, fmt.Errorf("script %s: %w", p.name, err)
	}
	return decodeMatch(p.name, val)
}

// decodeMatch interprets the script's return value: null and undefined mean
// no match, an object must carry a non-empty string key and a value.
func decodeMatch(name string, val goja.Value) (string, interface{}, error) {
	if val == nil || goja.IsNull(val) || goja.IsUndefined(val) {
		return "", nil, nil
	}
	exported := val.Export()
	m, ok := exported.(map[string]interface{})
	if !ok {
		return "", nil, fmt.Errorf("script %s: extract returned %T, want {key, value} or null", name, exported)
	}
	key, _ := m["key"].(string)
	if key == "" {
		return "", nil, fmt.Errorf("script %s: extract returned a match without a key", name)
	}
	value, ok := m["value"]
	if !ok || value == nil {
		return "", nil, fmt.Errorf("script %s: extract returned %q without a value", name, key)
	}
	return key, value, nil
}
