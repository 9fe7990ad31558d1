// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"github.com/enalang/ena/blocks"
	"github.com/enalang/ena/ir"
)

// exceptionNatives implements exception wrapping, unwrapping, raising, and
// the `try` primitive that turns a runtime error from a dynamically-called
// block into a first-class Exception value instead of aborting the run.
func exceptionNatives() map[string]blocks.NativeHandler {
	return map[string]blocks.NativeHandler{
		"into_exception": func(ctx interface{}) error {
			vm := asVM(ctx)
			v, err := vm.pop()
			if err != nil {
				return err
			}
			vm.push(ir.MakeException(v))
			return nil
		},
		"unwrap_exception": func(ctx interface{}) error {
			vm := asVM(ctx)
			v, err := vm.pop()
			if err != nil {
				return err
			}
			inner, ok := v.AsException()
			if !ok {
				return &ErrExpectedException{Got: v}
			}
			vm.push(inner)
			return nil
		},
		"throw": func(ctx interface{}) error {
			vm := asVM(ctx)
			v, err := vm.pop()
			if err != nil {
				return err
			}
			if _, ok := v.AsException(); !ok {
				return &ErrExpectedException{Got: v}
			}
			return &ErrRuntimeException{Value: v}
		},
		"try": func(ctx interface{}) error {
			vm := asVM(ctx)
			name, err := vm.popBlockName()
			if err != nil {
				return err
			}
			if _, runErr := vm.runBlock(name); runErr != nil {
				vm.errTrace = nil
				vm.push(ir.MakeException(ir.String(runErr.Error())))
			}
			return nil
		},
	}
}
