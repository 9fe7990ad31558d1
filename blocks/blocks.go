// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package blocks implements the merged view of a program's IR blocks and
// the VM's native handlers that the scope manager and checker consult by
// name. A Registry is built once per linked program (IR blocks first,
// then natives) and cloned cheaply whenever a scope needs its own
// mutable view to add LocalBlock entries into.
package blocks

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	bloomfilter "github.com/holiman/bloomfilter/v2"

	"github.com/enalang/ena/ir"
)

// Kind discriminates a VMBlock.
type Kind uint8

const (
	KindIR Kind = iota
	KindNative
)

// NativeHandler implements a built-in block. ctx is an opaque handle the
// vm package supplies; blocks never inspects it, only forwards it.
type NativeHandler func(ctx interface{}) error

// VMBlock is either a program-defined IR block or a native handler.
// Native handlers are always global and never single-eval, mirroring the
// original runtime's treatment of built-ins as always-fresh, always-global
// calls.
type VMBlock struct {
	Kind    Kind
	IR      ir.Block
	Native  NativeHandler
}

// IsGlobal reports whether the block is visible from the root scope.
func (b VMBlock) IsGlobal() bool {
	if b.Kind == KindNative {
		return true
	}
	return b.IR.Global
}

// IsSingleEval reports whether the block memoizes. Natives never memoize.
func (b VMBlock) IsSingleEval() bool {
	if b.Kind == KindNative {
		return false
	}
	return b.IR.IsSingleEval()
}

// ErrBlockAlreadyExists is returned when a name collides during Registry
// construction or a later AddBlock call.
type ErrBlockAlreadyExists struct{ Name string }

func (e *ErrBlockAlreadyExists) Error() string {
	return fmt.Sprintf("blocks: already exists: %q", e.Name)
}

// Registry is the merged, by-name view of blocks available for lookup.
type Registry struct {
	merged      map[string]VMBlock
	annotations map[string]string
	bloom       *bloomfilter.Filter
}

func nameHash(name string) uint64 { return xxhash.Sum64String(name) }

func newBloom(keys []string) *bloomfilter.Filter {
	// Sized generously for typical program block counts; a false positive
	// here only costs a real map lookup, never a wrong answer.
	f, err := bloomfilter.New(1<<16, 4)
	if err != nil {
		return nil
	}
	for _, k := range keys {
		f.AddHash(nameHash(k))
	}
	return f
}

// New builds a Registry from a linked IR and a set of native handlers.
// IR blocks are added first; adding a native whose name collides with an
// existing program-defined global block fails with
// *ErrBlockAlreadyExists — native handlers never silently shadow a
// program block of the same name.
func New(program *ir.IR, natives map[string]NativeHandler) (*Registry, error) {
	r := &Registry{
		merged:      make(map[string]VMBlock, len(program.Blocks)+len(natives)),
		annotations: make(map[string]string, len(program.Annotations)),
	}
	for name, b := range program.Blocks {
		r.merged[name] = VMBlock{Kind: KindIR, IR: b}
	}
	for name, ann := range program.Annotations {
		r.annotations[name] = ann
	}
	for name, fn := range natives {
		if _, exists := r.merged[name]; exists {
			return nil, &ErrBlockAlreadyExists{Name: name}
		}
		r.merged[name] = VMBlock{Kind: KindNative, Native: fn}
	}

	keys := make([]string, 0, len(r.merged))
	for k := range r.merged {
		keys = append(keys, k)
	}
	r.bloom = newBloom(keys)
	return r, nil
}

// Lookup returns the block named name, if any. The bloom filter gives a
// cheap "definitely absent" answer before the real map probe; it is only
// ever used to skip the map lookup, never to contradict it on a hit.
func (r *Registry) Lookup(name string) (VMBlock, bool) {
	if r.bloom != nil && !r.bloom.ContainsHash(nameHash(name)) {
		return VMBlock{}, false
	}
	b, ok := r.merged[name]
	return b, ok
}

// Annotation returns the raw annotation text registered against name.
func (r *Registry) Annotation(name string) (string, bool) {
	a, ok := r.annotations[name]
	return a, ok
}

// AddBlock inserts a local (non-global) IR block into this view, failing
// if the name already resolves to something. Callers add entries this way
// when executing a LocalBlock op; since Registry.Clone gives each scope
// its own map, this mutation never leaks into a sibling or ancestor scope.
func (r *Registry) AddBlock(name string, block ir.Block) error {
	if _, exists := r.merged[name]; exists {
		return &ErrBlockAlreadyExists{Name: name}
	}
	r.merged[name] = VMBlock{Kind: KindIR, IR: block}
	if r.bloom != nil {
		r.bloom.AddHash(nameHash(name))
	}
	return nil
}

// Clone returns an independent copy of r: mutating the clone's map (via
// AddBlock) never affects r or any other clone.
func (r *Registry) Clone() *Registry {
	merged := make(map[string]VMBlock, len(r.merged))
	for k, v := range r.merged {
		merged[k] = v
	}
	annotations := make(map[string]string, len(r.annotations))
	for k, v := range r.annotations {
		annotations[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	return &Registry{merged: merged, annotations: annotations, bloom: newBloom(keys)}
}

// Names returns every block name currently visible in this view, used by
// root-scope seeding and by `-print-ir`'s table rendering.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.merged))
	for k := range r.merged {
		out = append(out, k)
	}
	return out
}
