package modules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
)

// DefaultTimeout bounds one custom promise module's evaluate call.
const DefaultTimeout = 30 * time.Second

// Registry loads custom promise modules and dispatches to them by the
// promise type each declares in its manifest. Only one module may
// claim a given promise type.
type Registry struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	timeout time.Duration

	byPromiseType map[string]*Manifest
	wasm          map[string][]byte
	bridges       map[string]*Bridge
}

// NewRegistry builds an empty Registry backed by its own wazero
// runtime.
func NewRegistry(ctx context.Context) (*Registry, error) {
	runtime, err := NewRuntime(ctx)
	if err != nil {
		return nil, err
	}
	return &Registry{
		runtime:       runtime,
		timeout:       DefaultTimeout,
		byPromiseType: make(map[string]*Manifest),
		wasm:          make(map[string][]byte),
		bridges:       make(map[string]*Bridge),
	}, nil
}

// Register adds a module to the registry. It does not instantiate the
// module yet; instantiation happens lazily on first use so a registry
// holding many modules doesn't pay the wazero compile cost for ones a
// given run never actuates.
func (r *Registry) Register(m *Manifest, wasm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byPromiseType[m.PromiseType]; ok {
		return fmt.Errorf("modules: promise type %q already claimed by %s", m.PromiseType, existing.Key())
	}
	r.byPromiseType[m.PromiseType] = m
	r.wasm[m.PromiseType] = wasm
	return nil
}

// Get returns the bridge to the module handling promiseType,
// instantiating it on first use.
func (r *Registry) Get(ctx context.Context, promiseType string) (*Bridge, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bridge, ok := r.bridges[promiseType]; ok {
		return bridge, true, nil
	}
	wasm, ok := r.wasm[promiseType]
	if !ok {
		return nil, false, nil
	}
	bridge, err := NewBridge(ctx, r.runtime, wasm, r.timeout)
	if err != nil {
		return nil, true, fmt.Errorf("modules: loading module for promise type %q: %w", promiseType, err)
	}
	r.bridges[promiseType] = bridge
	return bridge, true, nil
}

// PromiseTypes lists every promise type a registered module claims.
func (r *Registry) PromiseTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byPromiseType))
	for pt := range r.byPromiseType {
		out = append(out, pt)
	}
	return out
}

// Close releases every instantiated module and the underlying
// runtime.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, bridge := range r.bridges {
		if err := bridge.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.runtime.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
