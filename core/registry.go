package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// HookRegistry resolves hook-type strings to handlers. Resolution order is
// built-in, then lazily constructed, then externally supplied integration
// handlers. An unknown type is a permanent condition; retrying never makes
// it known.
type HookRegistry struct {
	mu           sync.RWMutex
	builtin      map[string]HookHandler
	constructors map[string]HandlerConstructor
	lazy         map[string]lazyHandler
	integrations IntegrationHandlerResolver
}

type lazyHandler struct {
	handler HookHandler
	err     error
}

func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		builtin:      make(map[string]HookHandler),
		constructors: make(map[string]HandlerConstructor),
		lazy:         make(map[string]lazyHandler),
	}
}

func (r *HookRegistry) Register(hookType string, handler HookHandler) error {
	if r == nil {
		return fmt.Errorf("core: hook registry is nil")
	}
	if handler == nil {
		return fmt.Errorf("core: hook handler is nil")
	}
	name := strings.TrimSpace(hookType)
	if name == "" {
		return fmt.Errorf("core: hook type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builtin[name]; exists {
		return fmt.Errorf("core: hook handler already registered: %s", name)
	}
	r.builtin[name] = handler
	return nil
}

// RegisterLazy defers handler construction to first use. The constructor
// runs at most once; its result, success or failure, is cached.
func (r *HookRegistry) RegisterLazy(hookType string, constructor HandlerConstructor) error {
	if r == nil {
		return fmt.Errorf("core: hook registry is nil")
	}
	if constructor == nil {
		return fmt.Errorf("core: hook constructor is nil")
	}
	name := strings.TrimSpace(hookType)
	if name == "" {
		return fmt.Errorf("core: hook type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builtin[name]; exists {
		return fmt.Errorf("core: hook handler already registered: %s", name)
	}
	if _, exists := r.constructors[name]; exists {
		return fmt.Errorf("core: hook constructor already registered: %s", name)
	}
	r.constructors[name] = constructor
	return nil
}

// SetIntegrationResolver installs the secondary registry owned by the
// integrations subsystem, consulted last.
func (r *HookRegistry) SetIntegrationResolver(resolver IntegrationHandlerResolver) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.integrations = resolver
	r.mu.Unlock()
}

func (r *HookRegistry) Get(hookType string) (HookHandler, error) {
	if r == nil {
		return nil, fmt.Errorf("core: hook registry is nil")
	}
	name := strings.TrimSpace(hookType)
	if name == "" {
		return nil, fmt.Errorf("%w: empty hook type", ErrUnknownHookType)
	}

	r.mu.RLock()
	if handler, ok := r.builtin[name]; ok {
		r.mu.RUnlock()
		return handler, nil
	}
	if cached, ok := r.lazy[name]; ok {
		r.mu.RUnlock()
		return cached.handler, cached.err
	}
	constructor, hasConstructor := r.constructors[name]
	integrations := r.integrations
	r.mu.RUnlock()

	if hasConstructor {
		return r.loadLazy(name, constructor)
	}
	if integrations != nil {
		if handler, ok := integrations.Resolve(name); ok && handler != nil {
			return handler, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownHookType, name)
}

func (r *HookRegistry) loadLazy(name string, constructor HandlerConstructor) (HookHandler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.lazy[name]; ok {
		return cached.handler, cached.err
	}
	handler, err := constructor()
	if err != nil {
		err = fmt.Errorf("core: constructing hook handler %s: %w", name, err)
	} else if handler == nil {
		err = fmt.Errorf("core: hook constructor %s returned nil handler", name)
	}
	r.lazy[name] = lazyHandler{handler: handler, err: err}
	return handler, err
}

// Types lists registered hook types in deterministic order. Integration
// types are not enumerable through the secondary resolver.
func (r *HookRegistry) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.builtin)+len(r.constructors))
	for name := range r.builtin {
		names = append(names, name)
	}
	for name := range r.constructors {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
