// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package checker statically validates a linked program before execution:
// every Call/If/While/PutValue(Block) target must resolve in the blocks
// view it will be looked up in at run time, and LocalBlock declarations
// must not shadow a name already visible. The walk mirrors the VM's scope
// discipline symbolically, without running any op.
package checker

import (
	"fmt"
	"strings"

	"github.com/enalang/ena/blocks"
	"github.com/enalang/ena/ir"
	"github.com/enalang/ena/scope"
)

// Error is one finding. Path is the chain of enclosing blocks that was
// being walked when the finding was made, outermost first.
type Error struct {
	// Name is the offending block name (the dangling target, or the
	// shadowing local).
	Name string
	// In is the block whose code contains the offending op.
	In string
	// Shadow distinguishes a shadowing violation from a dangling name.
	Shadow bool
	// Path is the resolution path from the global block being checked down
	// to In.
	Path []string
}

func (e *Error) Error() string {
	if e.Shadow {
		return fmt.Sprintf("checker: cannot shadow %q in %q (via %s)", e.Name, e.In, strings.Join(e.Path, " > "))
	}
	return fmt.Sprintf("checker: unknown block %q in %q (via %s)", e.Name, e.In, strings.Join(e.Path, " > "))
}

// Checker validates programs against a merged blocks view.
type Checker struct {
	registry *blocks.Registry
}

// New returns a Checker over the given merged view (IR blocks plus
// natives, as built by blocks.New).
func New(registry *blocks.Registry) *Checker {
	return &Checker{registry: registry}
}

// Check walks every global IR block and returns all findings at once; an
// empty slice means the program is safe to run. Errors are collected, not
// short-circuited, so one report covers the whole program.
func (c *Checker) Check() []error {
	var errs []error
	for _, name := range c.registry.Names() {
		vb, _ := c.registry.Lookup(name)
		if vb.Kind != blocks.KindIR || !vb.IR.Global {
			continue
		}

		scopes := scope.New()
		scopes.Root(c.registry)
		// The walk mutates its scope's blocks view when it meets a
		// LocalBlock; a parent scope keeps that out of the shared root view.
		scopes.Parent(name)
		visited := make(map[string]bool)
		errs = append(errs, c.checkBlock(name, vb.IR, scopes, visited, []string{name})...)
	}
	return errs
}

// checkBlock symbolically executes one block's op list: LocalBlock ops
// extend the simulated scope, every referenced name is resolved against
// it, and resolved IR callees are walked in turn. visited bounds the walk
// on recursive call graphs; it tracks names already checked under the
// current root.
func (c *Checker) checkBlock(name string, block ir.Block, scopes *scope.Manager, visited map[string]bool, path []string) []error {
	var errs []error
	for _, op := range block.Code {
		if op.Op == ir.OpLocalBlock {
			if err := scopes.AddLocal(op.Name); err != nil {
				errs = append(errs, &Error{Name: op.Name, In: name, Shadow: true, Path: append([]string(nil), path...)})
				continue
			}
			sub := ir.Block{Global: false, RunType: op.RunType, Code: op.Code}
			if err := scopes.Current().BlocksMut().AddBlock(op.Name, sub); err != nil {
				errs = append(errs, &Error{Name: op.Name, In: name, Shadow: true, Path: append([]string(nil), path...)})
				continue
			}
			visited[op.Name] = true
			scopes.Child(op.Name)
			errs = append(errs, c.checkBlock(op.Name, sub, scopes, visited, append(path, op.Name))...)
			scopes.PopScope()
			continue
		}

		var target string
		switch op.Op {
		case ir.OpCall, ir.OpIf, ir.OpWhile:
			target = op.Name
		case ir.OpPutValue:
			blockName, ok := op.Value.AsBlock()
			if !ok {
				continue
			}
			target = blockName
		default:
			continue
		}

		sub, ok := scopes.Current().Blocks().Lookup(target)
		if !ok {
			errs = append(errs, &Error{Name: target, In: name, Path: append([]string(nil), path...)})
			continue
		}
		if sub.Kind != blocks.KindIR || visited[target] {
			continue
		}
		visited[target] = true
		if sub.IR.Global {
			scopes.Parent(target)
		} else {
			scopes.Child(target)
		}
		errs = append(errs, c.checkBlock(target, sub.IR, scopes, visited, append(path, target))...)
		scopes.PopScope()
	}
	return errs
}
