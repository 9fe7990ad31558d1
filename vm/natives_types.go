// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"strconv"

	"github.com/enalang/ena/blocks"
	"github.com/enalang/ena/ir"
)

// render produces the user-facing text for a value, as `into_string`
// exposes it to programs — distinct from ir.Value.String's debug form,
// which quotes strings and tags kinds for diagnostics.
func render(v ir.Value) string {
	switch v.Kind() {
	case ir.KindNull:
		return "null"
	case ir.KindNumber:
		n, _ := v.AsNumber()
		return strconv.FormatFloat(n, 'g', -1, 64)
	case ir.KindString:
		s, _ := v.AsString()
		return s
	case ir.KindBoolean:
		b, _ := v.AsBoolean()
		return strconv.FormatBool(b)
	case ir.KindPointer:
		p, _ := v.AsPointer()
		return strconv.FormatUint(p, 10) + "->"
	case ir.KindBlock:
		name, _ := v.AsBlock()
		return "'" + name
	case ir.KindAtom:
		name, _ := v.AsAtom()
		return ":" + name
	case ir.KindException:
		inner, _ := v.AsException()
		return "exception(" + render(inner) + ")"
	default:
		return v.String()
	}
}

// typeNatives implements the type predicates and the cross-kind
// conversions (`into_string`, `into_number`, `unsafe_into_ptr`) every
// program relies on to bridge values coming out of native calls back into
// language values.
func typeNatives() map[string]blocks.NativeHandler {
	return map[string]blocks.NativeHandler{
		"unsafe_into_ptr": func(ctx interface{}) error {
			vm := asVM(ctx)
			v, err := vm.pop()
			if err != nil {
				return err
			}
			n, ok := v.AsNumber()
			if !ok {
				return &ErrExpectedNumber{Got: v}
			}
			ptr := uint64(n)
			if float64(ptr) != n {
				return &ErrBadPointer{Addr: ptr}
			}
			vm.push(ir.Pointer(ptr))
			return nil
		},
		"into_string": func(ctx interface{}) error {
			vm := asVM(ctx)
			v, err := vm.pop()
			if err != nil {
				return err
			}
			vm.push(ir.String(render(v)))
			return nil
		},
		"into_number": func(ctx interface{}) error {
			vm := asVM(ctx)
			v, err := vm.pop()
			if err != nil {
				return err
			}
			switch v.Kind() {
			case ir.KindBoolean:
				b, _ := v.AsBoolean()
				if b {
					vm.push(ir.Number(1))
				} else {
					vm.push(ir.Number(0))
				}
			case ir.KindNull:
				vm.push(ir.Number(-1))
			case ir.KindNumber:
				vm.push(v)
			case ir.KindPointer:
				p, _ := v.AsPointer()
				vm.push(ir.Number(float64(p)))
			default:
				return &ErrCannotConvert{Got: v}
			}
			return nil
		},

		"is_string":    typePredicate(ir.KindString),
		"is_null":      typePredicate(ir.KindNull),
		"is_number":    typePredicate(ir.KindNumber),
		"is_pointer":   typePredicate(ir.KindPointer),
		"is_block":     typePredicate(ir.KindBlock),
		"is_bool":      typePredicate(ir.KindBoolean),
		"is_atom":      typePredicate(ir.KindAtom),
		"is_exception": typePredicate(ir.KindException),
	}
}

func typePredicate(kind ir.ValueKind) blocks.NativeHandler {
	return func(ctx interface{}) error {
		vm := asVM(ctx)
		v, err := vm.pop()
		if err != nil {
			return err
		}
		vm.push(boolValue(v.Kind() == kind))
		return nil
	}
}
