// Package featureflag provides the named boolean toggles that gate event
// handling.
package featureflag

import (
	"context"
	"sync"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// StaticProvider serves flags from configuration
type StaticProvider struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewStaticProvider creates a provider from a name to value map
func NewStaticProvider(flags map[string]bool) *StaticProvider {
	copied := make(map[string]bool, len(flags))
	for k, v := range flags {
		copied[k] = v
	}
	return &StaticProvider{flags: copied}
}

// IsEnabled reports the configured value; unknown flags are off
func (p *StaticProvider) IsEnabled(ctx context.Context, flag string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.flags[flag]
}

// Set changes a flag at runtime
func (p *StaticProvider) Set(flag string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flags[flag] = enabled
}
