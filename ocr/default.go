package ocr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registryMu    sync.RWMutex
	registry      = map[string]Engine{}
	defaultEngine Engine = noopEngine{}
)

// Register makes an engine selectable by name. Registering a second engine
// under the same name replaces the first.
func Register(engine Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[engine.Name()] = engine
}

// Lookup returns the engine registered under name.
func Lookup(name string) (Engine, error) {
	registryMu.RLock()
	engine, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no ocr engine named %q (registered: %s)", name, strings.Join(Engines(), ", "))
	}
	return engine, nil
}

// Engines lists the registered engine names in sorted order.
func Engines() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultEngine returns the engine used when callers do not name one.
func DefaultEngine() Engine {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return defaultEngine
}

// SetDefaultEngine sets the engine used when callers do not name one.
func SetDefaultEngine(engine Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	defaultEngine = engine
}

type noopEngine struct{}

func (noopEngine) Name() string { return "noop" }

func (noopEngine) Process(ctx context.Context, req Request) (*Response, error) {
	return &Response{}, nil
}
