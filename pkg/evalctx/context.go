// Package evalctx implements the promise evaluation engine's Eval
// Context (C3): the class heap, variable scopes, namespace stack,
// regex match state, and private-class stacks threaded through every
// actuator for the lifetime of one agent run.
//
// EvalContext is an ordinary Go value, not a process-wide singleton:
// the control loop in pkg/runner owns exactly one and passes it by
// pointer to every component.
package evalctx

import (
	"strings"
	"time"
)

// VarKey identifies a variable by its three-part qualified name
// scope:bundle.name.
type VarKey struct {
	Scope     string // "sys", "const", "edit", "this", "match", or a bundle name
	Namespace string
	Name      string
}

// Value is a typed variable value. Exactly one of the fields is set,
// selected by Kind.
type Value struct {
	Kind  ValueKind
	Str   string
	Slist []string
	Data  any
}

type ValueKind string

const (
	ValueString ValueKind = "string"
	ValueSlist  ValueKind = "slist"
	ValueData   ValueKind = "data"
)

// StringValue builds a scalar Value.
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// SlistValue builds a string-list Value.
func SlistValue(items []string) Value { return Value{Kind: ValueSlist, Slist: items} }

// DataValue builds a container Value.
func DataValue(v any) Value { return Value{Kind: ValueData, Data: v} }

// classFrame is one level of the private-class stack, pushed per
// promise expansion and popped on exit.
type classFrame struct {
	classes map[string]bool
}

// EvalContext is the mutable state threaded through one agent run.
type EvalContext struct {
	globalHeap map[string]bool
	negated    map[string]bool
	bundleHeap map[string]map[string]bool // bundle name -> classes local to it
	classStack []classFrame

	namespaceStack []string

	variables map[VarKey]Value

	matchCaptures []string

	abortBundle bool
	abortAll    bool

	persistent PersistentClassStore

	activeBundle string
	frames       frameStack
}

// PersistentClassStore is the injected key-value store for classes
// declared with a nonzero persistence TTL.
type PersistentClassStore interface {
	Get(name string) (expiresAt time.Time, policy string, ok bool)
	Put(name string, expiresAt time.Time, policy string) error
	Delete(name string) error
	List() ([]string, error)
}

// New creates an EvalContext. If store is nil, persistent classes are
// not retained across runs (a no-op store is used).
func New(store PersistentClassStore) *EvalContext {
	if store == nil {
		store = newMemoryClassStore()
	}
	ctx := &EvalContext{
		globalHeap:     make(map[string]bool),
		negated:        make(map[string]bool),
		bundleHeap:     make(map[string]map[string]bool),
		namespaceStack: []string{"default"},
		variables:      make(map[VarKey]Value),
		persistent:     store,
	}
	ctx.sweepExpiredPersistentClasses()
	ctx.restorePersistentClasses()
	return ctx
}

// sweepExpiredPersistentClasses purges expired entries on load.
func (c *EvalContext) sweepExpiredPersistentClasses() {
	names, err := c.persistent.List()
	if err != nil {
		return
	}
	now := time.Now()
	for _, name := range names {
		expiresAt, _, ok := c.persistent.Get(name)
		if ok && now.After(expiresAt) {
			_ = c.persistent.Delete(name)
		}
	}
}

// restorePersistentClasses loads surviving persistent classes into the
// global heap.
func (c *EvalContext) restorePersistentClasses() {
	names, err := c.persistent.List()
	if err != nil {
		return
	}
	for _, name := range names {
		if _, _, ok := c.persistent.Get(name); ok {
			c.globalHeap[name] = true
		}
	}
}

// CurrentNamespace returns the innermost active namespace.
func (c *EvalContext) CurrentNamespace() string {
	return c.namespaceStack[len(c.namespaceStack)-1]
}

// PushNamespace enters a namespace for the duration of evaluating a
// bundle declared within it.
func (c *EvalContext) PushNamespace(ns string) {
	c.namespaceStack = append(c.namespaceStack, ns)
}

// PopNamespace leaves the innermost namespace.
func (c *EvalContext) PopNamespace() {
	if len(c.namespaceStack) > 1 {
		c.namespaceStack = c.namespaceStack[:len(c.namespaceStack)-1]
	}
}

// AbortBundle requests that the enclosing bundle stop at the next loop
// boundary.
func (c *EvalContext) AbortBundle() { c.abortBundle = true }

// AbortAll requests that the entire run stop at the next loop
// boundary.
func (c *EvalContext) AbortAll() { c.abortAll = true }

// ShouldAbortBundle reports whether the current bundle should stop.
func (c *EvalContext) ShouldAbortBundle() bool { return c.abortBundle || c.abortAll }

// ShouldAbortAll reports whether the run should stop.
func (c *EvalContext) ShouldAbortAll() bool { return c.abortAll }

// EnterBundle resets the per-bundle abort flag and class heap scratch
// for a new bundle frame. It does not clear global classes.
func (c *EvalContext) EnterBundle(name string) {
	c.activeBundle = name
	c.abortBundle = false
	if _, ok := c.bundleHeap[name]; !ok {
		c.bundleHeap[name] = make(map[string]bool)
	}
}

// ExitBundle clears the per-bundle local class heap and variables,
// releasing anything declared within the bundle's frame.
func (c *EvalContext) ExitBundle(name string) {
	delete(c.bundleHeap, name)
	for k := range c.variables {
		if k.Scope == name {
			delete(c.variables, k)
		}
	}
	c.activeBundle = ""
}

// SetMatchCaptures records the capture groups from the most recent
// successful regex match, available to subsequent constraint
// expansion under the "match" scope.
func (c *EvalContext) SetMatchCaptures(captures []string) {
	c.matchCaptures = captures
}

// MatchCapture returns capture group n (1-based, as in the legacy
// match.N convention) or "" if out of range.
func (c *EvalContext) MatchCapture(n int) string {
	if n < 0 || n >= len(c.matchCaptures) {
		return ""
	}
	return c.matchCaptures[n]
}

// SetVariable stores a variable under the given scope.
func (c *EvalContext) SetVariable(scope, namespace, name string, v Value) {
	if namespace == "" {
		namespace = c.CurrentNamespace()
	}
	c.variables[VarKey{Scope: scope, Namespace: namespace, Name: name}] = v
}

// LookupVariable resolves a name through an explicit scope qualifier,
// then the current bundle, then global ("const"/"sys"). qualified may
// be "name", "bundle.name", or "ns:bundle.name".
func (c *EvalContext) LookupVariable(qualified string) (Value, bool) {
	scope, namespace, name := splitQualifiedName(qualified, c.activeBundle, c.CurrentNamespace())
	if v, ok := c.variables[VarKey{Scope: scope, Namespace: namespace, Name: name}]; ok {
		return v, true
	}
	if scope != c.activeBundle {
		if v, ok := c.variables[VarKey{Scope: c.activeBundle, Namespace: namespace, Name: name}]; ok {
			return v, true
		}
	}
	for _, globalScope := range []string{"const", "sys", "global"} {
		if v, ok := c.variables[VarKey{Scope: globalScope, Namespace: namespace, Name: name}]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// splitQualifiedName parses "name", "bundle.name", or "ns:bundle.name"
// into its three parts, defaulting unspecified parts to the current
// frame.
func splitQualifiedName(qualified, activeBundle, activeNamespace string) (scope, namespace, name string) {
	namespace = activeNamespace
	scope = activeBundle
	rest := qualified
	if idx := strings.IndexByte(rest, ':'); idx >= 0 {
		namespace = rest[:idx]
		rest = rest[idx+1:]
	}
	if idx := strings.IndexByte(rest, '.'); idx >= 0 {
		scope = rest[:idx]
		rest = rest[idx+1:]
	}
	name = rest
	return
}

type memoryClassStore struct {
	entries map[string]memoryClassEntry
}

type memoryClassEntry struct {
	expiresAt time.Time
	policy    string
}

func newMemoryClassStore() *memoryClassStore {
	return &memoryClassStore{entries: make(map[string]memoryClassEntry)}
}

func (s *memoryClassStore) Get(name string) (time.Time, string, bool) {
	e, ok := s.entries[name]
	return e.expiresAt, e.policy, ok
}

func (s *memoryClassStore) Put(name string, expiresAt time.Time, policy string) error {
	s.entries[name] = memoryClassEntry{expiresAt: expiresAt, policy: policy}
	return nil
}

func (s *memoryClassStore) Delete(name string) error {
	delete(s.entries, name)
	return nil
}

func (s *memoryClassStore) List() ([]string, error) {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names, nil
}
