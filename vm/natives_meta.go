// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"math/rand"

	"github.com/davecgh/go-spew/spew"

	"github.com/enalang/ena/blocks"
	"github.com/enalang/ena/ir"
)

// metaNatives implements the `ena.vm.*` diagnostic and reflection group:
// non-destructive stack/call inspection, annotation lookup, and a PRNG
// primitive for programs that need randomness.
func metaNatives() map[string]blocks.NativeHandler {
	return map[string]blocks.NativeHandler{
		"ena.vm.debug": func(ctx interface{}) error {
			vm := asVM(ctx)
			if len(vm.stack) == 0 {
				return &ErrStackEnded{}
			}
			vm.log.Info("ena.vm.debug", "top", spew.Sdump(vm.stack[len(vm.stack)-1]))
			return nil
		},
		"ena.vm.debug_stack": func(ctx interface{}) error {
			vm := asVM(ctx)
			vm.log.Info("ena.vm.debug_stack", "stack", spew.Sdump(vm.PeekStack()))
			return nil
		},
		"ena.vm.debug_calls": func(ctx interface{}) error {
			vm := asVM(ctx)
			vm.log.Info("ena.vm.debug_calls", "calls", spew.Sdump(vm.CallStack()))
			return nil
		},
		"ena.vm.random": func(ctx interface{}) error {
			asVM(ctx).push(ir.Number(rand.Float64()))
			return nil
		},
		"ena.vm.get_annotation": func(ctx interface{}) error {
			vm := asVM(ctx)
			name, err := vm.popBlockName()
			if err != nil {
				return err
			}
			ann, ok := vm.Annotation(name)
			if !ok {
				vm.push(ir.Null)
				return nil
			}
			vm.push(ir.String(ann))
			return nil
		},
	}
}

// DefaultNatives returns every built-in block name grouped by the file
// that implements it. Callers wanting a subset (e.g. a sandboxed `run`
// excluding `ena.vm.*`) can filter the merged map before passing it to
// blocks.New.
func DefaultNatives() map[string]blocks.NativeHandler {
	out := make(map[string]blocks.NativeHandler)
	for _, group := range []map[string]blocks.NativeHandler{
		coreNatives(),
		exceptionNatives(),
		typeNatives(),
		stringNatives(),
		metaNatives(),
	} {
		for name, fn := range group {
			out[name] = fn
		}
	}
	return out
}
