package webhook

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SignatureVerifier decides whether a delivery really came from its provider.
type SignatureVerifier interface {
	Provider() string
	Verify(req *RequestContext) bool
}

// EventParser turns a decoded provider payload into a NormalizedPaymentEvent.
// Unsupported event types return ErrEventIgnored; malformed payloads return a
// *ParseError.
type EventParser interface {
	Provider() string
	Parse(payload map[string]any) (*NormalizedPaymentEvent, error)
}

type providerEntry struct {
	verifier SignatureVerifier
	parser   EventParser
}

// Registry maps provider names to their verifier and parser.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]providerEntry
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]providerEntry)}
}

// Register adds a provider. Verifier and parser must agree on the name.
func (r *Registry) Register(v SignatureVerifier, p EventParser) error {
	if v == nil || p == nil {
		return fmt.Errorf("verifier and parser are required")
	}
	name := normalizeProvider(v.Provider())
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if pn := normalizeProvider(p.Provider()); pn != name {
		return fmt.Errorf("verifier provider %q does not match parser provider %q", name, pn)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = providerEntry{verifier: v, parser: p}
	return nil
}

// MustRegister is Register for wiring code that cannot continue on error.
func (r *Registry) MustRegister(v SignatureVerifier, p EventParser) {
	if err := r.Register(v, p); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(provider string) (SignatureVerifier, EventParser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.providers[normalizeProvider(provider)]
	if !ok {
		return nil, nil, false
	}
	return e.verifier, e.parser, true
}

// Providers lists registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeProvider(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
