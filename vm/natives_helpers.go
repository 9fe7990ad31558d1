// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import "github.com/enalang/ena/ir"

func asVM(ctx interface{}) *VM { return ctx.(*VM) }

func (vm *VM) popNumber() (float64, error) {
	v, err := vm.pop()
	if err != nil {
		return 0, err
	}
	n, ok := v.AsNumber()
	if !ok {
		return 0, &ErrExpectedNumber{Got: v}
	}
	return n, nil
}

// popInteger pops a Number and requires it to be integral, for stack
// offsets and allocation sizes.
func (vm *VM) popInteger() (int, error) {
	v, err := vm.pop()
	if err != nil {
		return 0, err
	}
	n, ok := v.AsNumber()
	if !ok {
		return 0, &ErrExpectedNumber{Got: v}
	}
	i := int(n)
	if float64(i) != n {
		return 0, &ErrExpectedInteger{Got: v}
	}
	return i, nil
}

func (vm *VM) popString() (string, error) {
	v, err := vm.pop()
	if err != nil {
		return "", err
	}
	s, ok := v.AsString()
	if !ok {
		return "", &ErrExpectedString{Got: v}
	}
	return s, nil
}

func (vm *VM) popBoolean() (bool, error) {
	v, err := vm.pop()
	if err != nil {
		return false, err
	}
	b, ok := v.AsBoolean()
	if !ok {
		return false, &ErrExpectedBoolean{Got: v}
	}
	return b, nil
}

func (vm *VM) popPointer() (uint64, error) {
	v, err := vm.pop()
	if err != nil {
		return 0, err
	}
	p, ok := v.AsPointer()
	if !ok {
		return 0, &ErrExpectedPointer{Got: v}
	}
	return p, nil
}

// popBlockName accepts either a Block or a String value as the name of a
// block to reference dynamically (used by `call`, `try`, `block_exists?`,
// and `get_annotation`, which all take their target by value rather than
// as a literal IRCode operand).
func (vm *VM) popBlockName() (string, error) {
	v, err := vm.pop()
	if err != nil {
		return "", err
	}
	if name, ok := v.AsBlock(); ok {
		return name, nil
	}
	if name, ok := v.AsString(); ok {
		return name, nil
	}
	return "", &ErrExpectedBlock{Got: v}
}

func boolValue(b bool) ir.Value { return ir.Boolean(b) }
