// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"strings"

	"github.com/enalang/ena/blocks"
	"github.com/enalang/ena/ir"
)

// stringNatives implements the `string.*` group. Multi-result operations
// (`split`, `chars`) push their pieces in order followed by a count, so a
// program can pop the count and loop.
func stringNatives() map[string]blocks.NativeHandler {
	return map[string]blocks.NativeHandler{
		"string.len": func(ctx interface{}) error {
			vm := asVM(ctx)
			s, err := vm.popString()
			if err != nil {
				return err
			}
			vm.push(ir.Number(float64(len(s))))
			return nil
		},
		"string.concat": func(ctx interface{}) error {
			vm := asVM(ctx)
			a, err := vm.popString()
			if err != nil {
				return err
			}
			b, err := vm.popString()
			if err != nil {
				return err
			}
			vm.push(ir.String(a + b))
			return nil
		},
		"string.split": func(ctx interface{}) error {
			vm := asVM(ctx)
			s, err := vm.popString()
			if err != nil {
				return err
			}
			sep, err := vm.popString()
			if err != nil {
				return err
			}
			parts := strings.Split(s, sep)
			for _, p := range parts {
				vm.push(ir.String(p))
			}
			vm.push(ir.Number(float64(len(parts))))
			return nil
		},
		"string.contains": func(ctx interface{}) error {
			vm := asVM(ctx)
			s, err := vm.popString()
			if err != nil {
				return err
			}
			sub, err := vm.popString()
			if err != nil {
				return err
			}
			vm.push(boolValue(strings.Contains(s, sub)))
			return nil
		},
		"string.chars": func(ctx interface{}) error {
			vm := asVM(ctx)
			s, err := vm.popString()
			if err != nil {
				return err
			}
			runes := []rune(s)
			for _, r := range runes {
				vm.push(ir.String(string(r)))
			}
			vm.push(ir.Number(float64(len(runes))))
			return nil
		},
	}
}
