// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package scope implements the VM's lexical scope stack: the nested
// frames that give every call its own view of local blocks and its own
// single-eval (memoization) cache, while global calls still see only the
// program's global blocks view rather than whatever locals the caller
// happened to have defined.
package scope

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/enalang/ena/blocks"
	"github.com/enalang/ena/ir"
)

// ErrCannotShadow is returned when a LocalBlock name collides with a name
// already local somewhere on the current scope stack.
type ErrCannotShadow struct{ Name string }

func (e *ErrCannotShadow) Error() string {
	return fmt.Sprintf("scope: cannot shadow block %q in local scope", e.Name)
}

// singleEvalCacheSize bounds the per-scope memoization cache; programs
// with more distinct single-eval blocks per scope than this evict the
// oldest entries, trading a repeat of the block's body for bounded memory.
// Every eviction is reported through the Manager's OnEvict handler so the
// VM can release the heap reference the cached copy held.
const singleEvalCacheSize = 4096

// Scope is one frame of the call stack: the block that opened it, the
// blocks view visible from inside it, the single-eval cache it owns, and
// the names of blocks it has declared local.
type Scope struct {
	BlockName string
	blocks    *blocks.Registry
	evals     *lru.Cache
	locals    []string
}

func newScope(name string, view *blocks.Registry, onEvict func(ir.Value)) *Scope {
	cache, err := lru.NewWithEvict(singleEvalCacheSize, func(_, value interface{}) {
		if onEvict != nil {
			onEvict(value.(ir.Value))
		}
	})
	if err != nil {
		// Only returns an error for a non-positive size, which
		// singleEvalCacheSize never is.
		panic(err)
	}
	return &Scope{BlockName: name, blocks: view, evals: cache, locals: nil}
}

func (s *Scope) hasLocal(name string) bool {
	for _, l := range s.locals {
		if l == name {
			return true
		}
	}
	return false
}

// Blocks returns the blocks view visible from this scope.
func (s *Scope) Blocks() *blocks.Registry { return s.blocks }

// BlocksMut returns the mutable blocks view this scope may add local
// blocks into.
func (s *Scope) BlocksMut() *blocks.Registry { return s.blocks }

// Manager is the call stack of Scopes.
type Manager struct {
	scopes  []*Scope
	onEvict func(ir.Value)
}

// New returns an empty Manager. Call Root before running a program.
func New() *Manager { return &Manager{} }

// OnEvict registers fn to be called with every value the bounded
// single-eval caches evict, so the caller can release the heap reference
// taken when the value was cached. Set it before Root; scopes capture the
// handler as they are created.
func (m *Manager) OnEvict(fn func(ir.Value)) { m.onEvict = fn }

// Root resets the stack to a single root scope, seeded with every global
// block name from view as a "local" so that global Once blocks memoize in
// the root scope's cache for the lifetime of the run.
func (m *Manager) Root(view *blocks.Registry) {
	root := newScope("root", view, m.onEvict)
	for _, name := range view.Names() {
		root.locals = append(root.locals, name)
	}
	m.scopes = []*Scope{root}
}

// Parent pushes a new scope for a global call, inheriting the blocks view
// from the ROOT scope rather than the caller's current scope: a global
// block never sees a caller's LocalBlock entries.
func (m *Manager) Parent(name string) {
	root := m.scopes[0]
	m.scopes = append(m.scopes, newScope(name, root.blocks.Clone(), m.onEvict))
}

// Child pushes a new scope for a local call, inheriting the blocks view
// from the CALLER's current scope, so a LocalBlock can see sibling
// LocalBlocks its enclosing call already declared.
func (m *Manager) Child(name string) {
	top := m.scopes[len(m.scopes)-1]
	m.scopes = append(m.scopes, newScope(name, top.blocks.Clone(), m.onEvict))
}

// Current returns the top-of-stack scope.
func (m *Manager) Current() *Scope { return m.scopes[len(m.scopes)-1] }

// PopScope removes the top scope and returns every value left in its
// single-eval cache, so the caller (the VM) can release the heap
// references those cached values hold.
func (m *Manager) PopScope() []ir.Value {
	top := m.scopes[len(m.scopes)-1]
	m.scopes = m.scopes[:len(m.scopes)-1]

	out := make([]ir.Value, 0, top.evals.Len())
	for _, key := range top.evals.Keys() {
		if v, ok := top.evals.Peek(key); ok {
			out = append(out, v.(ir.Value))
		}
	}
	return out
}

// lookupOwner returns the index of the nearest (innermost-first) scope on
// the stack whose locals include name.
func (m *Manager) lookupOwner(name string) (int, bool) {
	for i := len(m.scopes) - 1; i >= 0; i-- {
		if m.scopes[i].hasLocal(name) {
			return i, true
		}
	}
	return 0, false
}

// AddLocal declares name as local to the current (top) scope. It fails if
// name is already local anywhere on the stack — local blocks may not
// shadow an enclosing local or global block of the same name.
func (m *Manager) AddLocal(name string) error {
	if _, exists := m.lookupOwner(name); exists {
		return &ErrCannotShadow{Name: name}
	}
	top := m.scopes[len(m.scopes)-1]
	top.locals = append(top.locals, name)
	return nil
}

// AddSingleEval records val as the memoized result of name, stored in
// whichever scope owns name (the scope that declared it local, or the
// root scope for a global name).
func (m *Manager) AddSingleEval(name string, val ir.Value) {
	idx, ok := m.lookupOwner(name)
	if !ok {
		idx = 0
	}
	m.scopes[idx].evals.Add(name, val)
}

// LookupSingleEval returns the memoized result of name, if its owning
// scope has already computed one.
func (m *Manager) LookupSingleEval(name string) (ir.Value, bool) {
	idx, ok := m.lookupOwner(name)
	if !ok {
		return ir.Value{}, false
	}
	v, ok := m.scopes[idx].evals.Get(name)
	if !ok {
		return ir.Value{}, false
	}
	return v.(ir.Value), true
}

// Depth returns the number of scopes currently on the stack, used for
// `ena.vm.debug_stack` rendering and recursion-depth diagnostics.
func (m *Manager) Depth() int { return len(m.scopes) }
