// Package instrument holds the interceptors for I/O performed inside traced tests:
// external commands and outgoing HTTP requests. Call sites go through a Registry
// instead of the raw primitives, so tracing can be switched on once at startup.
package instrument

import (
	"context"
	"net/http"
	"sync"
)

// Kind identifies an intercepted operation
type Kind string

const (
	// KindSubprocess intercepts external commands
	KindSubprocess Kind = "subprocess"

	// KindHTTP intercepts outgoing HTTP requests
	KindHTTP Kind = "http"
)

// Registry maps each operation kind to its active interceptor. Interceptors are
// installed at most once and stay for the lifetime of the registry.
type Registry struct {
	mu            sync.RWMutex
	baseRunner    Runner
	baseTransport http.RoundTripper
	runner        Runner
	transport     http.RoundTripper
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithBaseRunner sets the uninstrumented runner
func WithBaseRunner(r Runner) RegistryOption {
	return func(reg *Registry) {
		reg.baseRunner = r
	}
}

// WithBaseTransport sets the uninstrumented HTTP transport
func WithBaseTransport(rt http.RoundTripper) RegistryOption {
	return func(reg *Registry) {
		reg.baseTransport = rt
	}
}

// NewRegistry creates a Registry with nothing installed
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		baseRunner:    ExecRunner{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Default is the process-wide registry
var Default = NewRegistry()

// InstallRunner installs the subprocess interceptor. It returns false, leaving the
// registry unchanged, when one is already installed.
func (r *Registry) InstallRunner(runner Runner) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runner != nil {
		return false
	}
	r.runner = runner
	return true
}

// InstallTransport installs the HTTP interceptor. It returns false, leaving the
// registry unchanged, when one is already installed.
func (r *Registry) InstallTransport(rt http.RoundTripper) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transport != nil {
		return false
	}
	r.transport = rt
	return true
}

// Installed reports whether an interceptor is active for kind
func (r *Registry) Installed(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindSubprocess:
		return r.runner != nil
	case KindHTTP:
		return r.transport != nil
	default:
		return false
	}
}

// Kinds lists the operation kinds with an active interceptor, sorted by name
func (r *Registry) Kinds() []Kind {
	var kinds []Kind
	for _, k := range []Kind{KindHTTP, KindSubprocess} {
		if r.Installed(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// BaseRunner returns the uninstrumented runner
func (r *Registry) BaseRunner() Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseRunner
}

// BaseTransport returns the uninstrumented transport
func (r *Registry) BaseTransport() http.RoundTripper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseTransport
}

// Runner returns the active runner: the interceptor when installed, the base runner otherwise
func (r *Registry) Runner() Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.runner != nil {
		return r.runner
	}
	return r.baseRunner
}

// Transport returns the active transport: the interceptor when installed, the base transport otherwise
func (r *Registry) Transport() http.RoundTripper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.transport != nil {
		return r.transport
	}
	return r.baseTransport
}

// Client returns an HTTP client using the active transport
func (r *Registry) Client() *http.Client {
	return &http.Client{Transport: r.Transport()}
}

// Run runs a command through the default registry
func Run(ctx context.Context, argv []string, opts ...RunOption) (*Result, error) {
	return Default.Runner().Run(ctx, argv, opts...)
}

// HTTPClient returns an HTTP client using the default registry's transport
func HTTPClient() *http.Client {
	return Default.Client()
}
