// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package optimizer implements IR→IR rewriting passes: call-site inlining
// of eligible blocks, and dead global block elimination. Passes are single
// sweeps; they do not iterate to a fixed point.
package optimizer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/enalang/ena/ir"
)

// Directives recognized in block annotations.
const (
	DirectiveForceInline = "@unsafe(inline)"
	DirectiveNoInline    = "@no-inline"
)

// ErrUnknownBlock is returned when a pass needs a block that the IR does
// not define.
type ErrUnknownBlock struct{ Name string }

func (e *ErrUnknownBlock) Error() string { return fmt.Sprintf("optimizer: unknown block %q", e.Name) }

// Options configures the optimizer.
type Options struct {
	// Deterministic derives the fresh names given to re-inserted local
	// blocks from their content hash instead of a random UUID, so two runs
	// over the same IR produce byte-identical output.
	Deterministic bool
}

// Optimizer rewrites IR programs.
type Optimizer struct {
	opts Options
}

// New returns an Optimizer.
func New(opts Options) *Optimizer { return &Optimizer{opts: opts} }

// Inline substitutes eligible Call targets with the callee's op list, in
// every global block. Local blocks are optimized as nested subproblems
// and re-inserted under fresh names. Annotations and the source map are
// preserved verbatim.
func (o *Optimizer) Inline(program *ir.IR) (*ir.IR, error) {
	out := ir.New()
	for name, ann := range program.Annotations {
		out.Annotations[name] = ann
	}
	for name, pos := range program.SourceMap {
		out.SourceMap[name] = pos
	}

	for name, block := range program.Blocks {
		code, err := o.inlineCode(program, block.Code)
		if err != nil {
			return nil, err
		}
		if err := out.AddBlock(name, ir.Block{
			Global:  block.Global,
			RunType: block.RunType,
			Code:    code,
		}, true); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// inlineCode rewrites one op list: eligible Call targets are replaced by
// the callee's (un-optimized; a single pass suffices) code, and each
// LocalBlock is optimized recursively, renamed, and every reference to it
// in the remaining ops is redirected to the new name.
func (o *Optimizer) inlineCode(program *ir.IR, code []ir.IRCode) ([]ir.IRCode, error) {
	renames := make(map[string]string)
	out := make([]ir.IRCode, 0, len(code))

	for _, c := range code {
		switch c.Op {
		case ir.OpCall:
			target := renamed(renames, c.Name)
			if target == c.Name && o.canInline(program, c.Name, nil) {
				callee, _ := program.GetBlock(c.Name)
				out = append(out, callee.Code...)
				continue
			}
			out = append(out, ir.Call(target))

		case ir.OpIf:
			out = append(out, ir.If(renamed(renames, c.Name)))

		case ir.OpWhile:
			out = append(out, ir.While(renamed(renames, c.Name)))

		case ir.OpPutValue:
			if blockName, ok := c.Value.AsBlock(); ok {
				out = append(out, ir.PutValue(ir.MakeBlock(renamed(renames, blockName))))
				continue
			}
			out = append(out, c)

		case ir.OpLocalBlock:
			sub, err := o.inlineCode(program, c.Code)
			if err != nil {
				return nil, err
			}
			fresh := o.freshName(c.Name, ir.Block{RunType: c.RunType, Code: sub})
			renames[c.Name] = fresh
			out = append(out, ir.LocalBlock(fresh, c.RunType, sub))

		default:
			out = append(out, c)
		}
	}
	return out, nil
}

func renamed(renames map[string]string, name string) string {
	if fresh, ok := renames[name]; ok {
		return fresh
	}
	return name
}

// canInline reports whether a Call to name may be replaced by name's body.
// A force directive wins over every structural rule; otherwise the callee
// must be a Unique block whose code has no LocalBlock/Return/ReturnLocal
// and whose If/While targets are themselves inlinable. visiting guards
// against directly or mutually recursive targets.
func (o *Optimizer) canInline(program *ir.IR, name string, visiting map[string]bool) bool {
	if program.HasDirective(name, DirectiveForceInline) {
		_, ok := program.GetBlock(name)
		return ok
	}
	if program.HasDirective(name, DirectiveNoInline) {
		return false
	}
	if visiting[name] {
		return false
	}

	block, ok := program.GetBlock(name)
	if !ok {
		// Unresolved here means a native or a local: never inlinable.
		return false
	}
	if block.RunType == ir.Once {
		return false
	}

	if visiting == nil {
		visiting = make(map[string]bool)
	}
	visiting[name] = true
	defer delete(visiting, name)

	for _, c := range block.Code {
		switch c.Op {
		case ir.OpLocalBlock, ir.OpReturn, ir.OpReturnLocal:
			return false
		case ir.OpIf, ir.OpWhile:
			if !o.canInline(program, c.Name, visiting) {
				return false
			}
		}
	}
	return true
}

// freshName produces the replacement name for a re-inserted local block.
func (o *Optimizer) freshName(name string, block ir.Block) string {
	if o.opts.Deterministic {
		return fmt.Sprintf("%s#%016x", name, ir.ContentHash(name, block))
	}
	return name + "#" + uuid.New().String()
}

// RemoveUnusedBlocks returns a copy of program keeping only entry and the
// global blocks transitively referenced from it. Names that do not
// resolve to a global block (natives, locals) are ignored. Annotations
// and source positions of removed blocks are dropped with them.
func RemoveUnusedBlocks(program *ir.IR, entry string) (*ir.IR, error) {
	if _, ok := program.GetBlock(entry); !ok {
		return nil, &ErrUnknownBlock{Name: entry}
	}

	reachable := make(map[string]bool)
	var visit func(name string)
	var visitCode func(code []ir.IRCode)

	visit = func(name string) {
		if reachable[name] {
			return
		}
		block, ok := program.GetBlock(name)
		if !ok {
			return
		}
		reachable[name] = true
		visitCode(block.Code)
	}
	visitCode = func(code []ir.IRCode) {
		for _, c := range code {
			switch c.Op {
			case ir.OpCall, ir.OpIf, ir.OpWhile:
				visit(c.Name)
			case ir.OpPutValue:
				if blockName, ok := c.Value.AsBlock(); ok {
					visit(blockName)
				}
			case ir.OpLocalBlock:
				visitCode(c.Code)
			}
		}
	}
	visit(entry)

	out := ir.New()
	for name, block := range program.Blocks {
		if !reachable[name] {
			continue
		}
		if err := out.AddBlock(name, block, true); err != nil {
			return nil, err
		}
		if ann, ok := program.Annotations[name]; ok {
			out.Annotations[name] = ann
		}
		if pos, ok := program.SourceMap[name]; ok {
			out.SourceMap[name] = pos
		}
	}
	return out, nil
}
