// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"math"
	"strconv"

	"github.com/enalang/ena/blocks"
	"github.com/enalang/ena/ir"
)

// coreNatives implements the stack, arithmetic, comparison, and heap
// primitives every program is built from.
//
// Binary operators pop their left operand first: `a b -` computes b - a
// with b on top at the time of the call.
func coreNatives() map[string]blocks.NativeHandler {
	return map[string]blocks.NativeHandler{
		"drop": func(ctx interface{}) error {
			_, err := asVM(ctx).pop()
			return err
		},
		"dup": func(ctx interface{}) error {
			vm := asVM(ctx)
			if len(vm.stack) == 0 {
				return &ErrStackEnded{}
			}
			vm.push(vm.stack[len(vm.stack)-1])
			return nil
		},
		"peek": func(ctx interface{}) error {
			vm := asVM(ctx)
			offset, err := vm.popInteger()
			if err != nil {
				return err
			}
			idx := len(vm.stack) - 1 - offset
			if idx < 0 || idx >= len(vm.stack) {
				return &ErrStackEnded{}
			}
			vm.push(vm.stack[idx])
			return nil
		},
		"drop_at": func(ctx interface{}) error {
			vm := asVM(ctx)
			offset, err := vm.popInteger()
			if err != nil {
				return err
			}
			idx := len(vm.stack) - 1 - offset
			if idx < 0 || idx >= len(vm.stack) {
				return &ErrStackEnded{}
			}
			v := vm.stack[idx]
			vm.stack = append(vm.stack[:idx], vm.stack[idx+1:]...)
			vm.Heap.RcMinus(v)
			return nil
		},
		"swap": func(ctx interface{}) error {
			vm := asVM(ctx)
			if len(vm.stack) < 2 {
				return &ErrStackEnded{}
			}
			n := len(vm.stack)
			vm.stack[n-1], vm.stack[n-2] = vm.stack[n-2], vm.stack[n-1]
			return nil
		},
		"clear": func(ctx interface{}) error {
			vm := asVM(ctx)
			for _, v := range vm.stack {
				vm.Heap.RcMinus(v)
			}
			vm.stack = vm.stack[:0]
			return nil
		},

		"+": func(ctx interface{}) error {
			vm := asVM(ctx)
			a, err := vm.pop()
			if err != nil {
				return err
			}
			b, err := vm.pop()
			if err != nil {
				return err
			}
			if an, aok := a.AsNumber(); aok {
				if bn, bok := b.AsNumber(); bok {
					vm.push(ir.Number(an + bn))
					return nil
				}
			}
			if av, bv, ok := shapePtrNumPair(a, b); ok {
				vm.push(ir.Pointer(av + bv))
				return nil
			}
			return &ErrExpectedNumber{Got: a}
		},
		"-": func(ctx interface{}) error {
			vm := asVM(ctx)
			a, err := vm.pop()
			if err != nil {
				return err
			}
			b, err := vm.pop()
			if err != nil {
				return err
			}
			if an, aok := a.AsNumber(); aok {
				if bn, bok := b.AsNumber(); bok {
					vm.push(ir.Number(an - bn))
					return nil
				}
			}
			if av, bv, ok := shapePtrNumPair(a, b); ok {
				vm.push(ir.Pointer(av - bv))
				return nil
			}
			return &ErrExpectedNumber{Got: a}
		},
		"*":    numberBinOp(func(a, b float64) float64 { return a * b }),
		"/":    numberBinOp(func(a, b float64) float64 { return a / b }),
		"pow":  numberBinOp(func(a, b float64) float64 { return math.Pow(a, b) }),
		"root": numberBinOp(func(a, b float64) float64 { return math.Pow(a, 1/b) }),

		"!": func(ctx interface{}) error {
			vm := asVM(ctx)
			b, err := vm.popBoolean()
			if err != nil {
				return err
			}
			vm.push(boolValue(!b))
			return nil
		},
		"or":  boolBinOp(func(a, b bool) bool { return a || b }),
		"and": boolBinOp(func(a, b bool) bool { return a && b }),

		">":  numberCompareOp(func(a, b float64) bool { return a > b }),
		"<":  numberCompareOp(func(a, b float64) bool { return a < b }),
		">=": numberCompareOp(func(a, b float64) bool { return a >= b }),
		"<=": numberCompareOp(func(a, b float64) bool { return a <= b }),
		"==": func(ctx interface{}) error {
			vm := asVM(ctx)
			a, err := vm.pop()
			if err != nil {
				return err
			}
			b, err := vm.pop()
			if err != nil {
				return err
			}
			vm.push(boolValue(a.Equal(b)))
			return nil
		},
		"hash": func(ctx interface{}) error {
			vm := asVM(ctx)
			v, err := vm.pop()
			if err != nil {
				return err
			}
			h, ok := v.Hash()
			if !ok {
				vm.push(ir.Null)
				return nil
			}
			vm.push(ir.String(strconv.FormatUint(h, 10)))
			return nil
		},

		"nop": func(ctx interface{}) error { return nil },

		"call": func(ctx interface{}) error {
			vm := asVM(ctx)
			name, err := vm.popBlockName()
			if err != nil {
				return err
			}
			_, err = vm.runBlock(name)
			return err
		},
		"block_exists?": func(ctx interface{}) error {
			vm := asVM(ctx)
			name, err := vm.popBlockName()
			if err != nil {
				return err
			}
			_, ok := vm.Scopes.Current().Blocks().Lookup(name)
			vm.push(boolValue(ok))
			return nil
		},

		"@": func(ctx interface{}) error {
			vm := asVM(ctx)
			ptr, err := vm.popPointer()
			if err != nil {
				return err
			}
			v, err := vm.Heap.Get(ptr)
			if err != nil {
				return &ErrHeap{Err: err}
			}
			vm.push(v)
			return nil
		},
		"=": func(ctx interface{}) error {
			vm := asVM(ctx)
			ptr, err := vm.popPointer()
			if err != nil {
				return err
			}
			val, err := vm.pop()
			if err != nil {
				return err
			}
			if err := vm.Heap.Set(ptr, val); err != nil {
				return &ErrHeap{Err: err}
			}
			return nil
		},
		"alloc": func(ctx interface{}) error {
			vm := asVM(ctx)
			size, err := vm.popInteger()
			if err != nil {
				return err
			}
			vm.push(ir.Pointer(vm.Heap.Alloc(uint64(size))))
			return nil
		},
		"unsafe_realloc": func(ctx interface{}) error {
			vm := asVM(ctx)
			ptr, err := vm.popPointer()
			if err != nil {
				return err
			}
			newSize, err := vm.popInteger()
			if err != nil {
				return err
			}
			newPtr, err := vm.Heap.Realloc(ptr, uint64(newSize))
			if err != nil {
				return &ErrHeap{Err: err}
			}
			vm.push(ir.Pointer(newPtr))
			return nil
		},
		"unsafe_free": func(ctx interface{}) error {
			vm := asVM(ctx)
			ptr, err := vm.popPointer()
			if err != nil {
				return err
			}
			vm.Heap.Free(ptr)
			return nil
		},
	}
}

// shapePtrNumPair matches a Pointer/Number pair in either order, for the
// address-arithmetic form of `+` and `-`. Operand positions are kept: av
// is the first-popped value's magnitude and bv the second's, whichever of
// the two carries the pointer, so `-` computes first-popped minus
// second-popped regardless of which side is the address.
func shapePtrNumPair(a, b ir.Value) (av uint64, bv uint64, ok bool) {
	if p, pok := a.AsPointer(); pok {
		if n, nok := b.AsNumber(); nok {
			return p, uint64(n), true
		}
	}
	if n, nok := a.AsNumber(); nok {
		if p, pok := b.AsPointer(); pok {
			return uint64(n), p, true
		}
	}
	return 0, 0, false
}

func numberBinOp(f func(a, b float64) float64) blocks.NativeHandler {
	return func(ctx interface{}) error {
		vm := asVM(ctx)
		a, err := vm.popNumber()
		if err != nil {
			return err
		}
		b, err := vm.popNumber()
		if err != nil {
			return err
		}
		vm.push(ir.Number(f(a, b)))
		return nil
	}
}

func numberCompareOp(f func(a, b float64) bool) blocks.NativeHandler {
	return func(ctx interface{}) error {
		vm := asVM(ctx)
		a, err := vm.pop()
		if err != nil {
			return err
		}
		b, err := vm.pop()
		if err != nil {
			return err
		}
		an, aok := a.AsNumber()
		bn, bok := b.AsNumber()
		if !aok || !bok {
			return &ErrCannotCompare{A: a, B: b}
		}
		vm.push(boolValue(f(an, bn)))
		return nil
	}
}

func boolBinOp(f func(a, b bool) bool) blocks.NativeHandler {
	return func(ctx interface{}) error {
		vm := asVM(ctx)
		a, err := vm.popBoolean()
		if err != nil {
			return err
		}
		b, err := vm.popBoolean()
		if err != nil {
			return err
		}
		vm.push(boolValue(f(a, b)))
		return nil
	}
}
