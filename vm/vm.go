// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package vm implements the ena stack-based interpreter: it runs a linked
// ir.IR program block by block, mediating every value push and pop through
// a reference-counted heap and a nested lexical scope stack.
package vm

import (
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"

	"github.com/enalang/ena/blocks"
	"github.com/enalang/ena/heap"
	"github.com/enalang/ena/internal/xlog"
	"github.com/enalang/ena/ir"
	"github.com/enalang/ena/scope"
)

// ---- Error types ------------------------------------------------------------

// ErrUnknownBlock is returned when a block run by Call/If/While or by a
// dynamic call (`call`, `try`) does not resolve in the current scope's
// blocks view. PutValue(Block) pushes its name without resolving it.
type ErrUnknownBlock struct{ Name string }

func (e *ErrUnknownBlock) Error() string { return fmt.Sprintf("vm: unknown block %q", e.Name) }

// ErrStackEnded is returned when a pop is attempted on an empty stack.
type ErrStackEnded struct{}

func (e *ErrStackEnded) Error() string { return "vm: stack ended" }

// ErrExpectedBoolean is returned when an If/While condition is not a Boolean.
type ErrExpectedBoolean struct{ Got ir.Value }

func (e *ErrExpectedBoolean) Error() string { return fmt.Sprintf("vm: expected boolean, got %s", e.Got) }

// ErrExpectedString is returned by natives expecting a String value.
type ErrExpectedString struct{ Got ir.Value }

func (e *ErrExpectedString) Error() string { return fmt.Sprintf("vm: expected string, got %s", e.Got) }

// ErrExpectedNumber is returned by natives expecting a Number value.
type ErrExpectedNumber struct{ Got ir.Value }

func (e *ErrExpectedNumber) Error() string { return fmt.Sprintf("vm: expected number, got %s", e.Got) }

// ErrExpectedInteger is returned by natives expecting an integral Number
// (stack offsets, allocation sizes).
type ErrExpectedInteger struct{ Got ir.Value }

func (e *ErrExpectedInteger) Error() string {
	return fmt.Sprintf("vm: expected integer, got %s", e.Got)
}

// ErrExpectedBlock is returned by natives expecting a Block value.
type ErrExpectedBlock struct{ Got ir.Value }

func (e *ErrExpectedBlock) Error() string { return fmt.Sprintf("vm: expected block, got %s", e.Got) }

// ErrExpectedPointer is returned by natives expecting a Pointer value.
type ErrExpectedPointer struct{ Got ir.Value }

func (e *ErrExpectedPointer) Error() string {
	return fmt.Sprintf("vm: expected pointer, got %s", e.Got)
}

// ErrExpectedValue is returned when a Once block's body runs to completion
// without leaving a value on the stack to memoize.
type ErrExpectedValue struct{ Block string }

func (e *ErrExpectedValue) Error() string {
	return fmt.Sprintf("vm: block %q must leave a value on the stack", e.Block)
}

// ErrExpectedException is returned by natives expecting an Exception value.
type ErrExpectedException struct{ Got ir.Value }

func (e *ErrExpectedException) Error() string {
	return fmt.Sprintf("vm: expected exception, got %s", e.Got)
}

// ErrCannotCompare is returned when an ordering operator is given two
// values that are not both Numbers.
type ErrCannotCompare struct{ A, B ir.Value }

func (e *ErrCannotCompare) Error() string {
	return fmt.Sprintf("vm: cannot compare %s and %s", e.A, e.B)
}

// ErrCannotConvert is returned by `into_number` for a value with no
// numeric interpretation.
type ErrCannotConvert struct{ Got ir.Value }

func (e *ErrCannotConvert) Error() string { return fmt.Sprintf("vm: cannot convert %s", e.Got) }

// ErrBadPointer is returned when a Number with a fractional part is forced
// into a Pointer.
type ErrBadPointer struct{ Addr uint64 }

func (e *ErrBadPointer) Error() string { return fmt.Sprintf("vm: bad pointer %d", e.Addr) }

// ErrHeap wraps an error returned by the heap package.
type ErrHeap struct{ Err error }

func (e *ErrHeap) Error() string { return fmt.Sprintf("vm: heap: %s", e.Err) }
func (e *ErrHeap) Unwrap() error { return e.Err }

// ErrRuntimeException carries a program-level exception value that was
// never caught by an enclosing `try`, terminating the run.
type ErrRuntimeException struct{ Value ir.Value }

func (e *ErrRuntimeException) Error() string {
	return fmt.Sprintf("vm: uncaught exception: %s", e.Value)
}

// Options configures a VM's run-time behavior.
type Options struct {
	// DebugStack logs the operand stack's contents after every push and
	// pop.
	DebugStack bool
	// EnableGC turns on refcount-triggered automatic freeing in the heap.
	// Defaults to true through NewOptions; a zero Options acts disabled,
	// so callers building one by hand should use NewOptions instead of a
	// bare literal unless they deliberately want GC off.
	EnableGC bool
	// DebugGC enables verbose heap logging of refcount changes, frees, and
	// reallocations.
	DebugGC bool
	// DebugCalls logs every block entry/exit.
	DebugCalls bool
	// HeapMmap sets the heap's UseMmap mode, which maps an anonymous mmap
	// region alongside the heap; slots stay in Go slices.
	HeapMmap bool
	// Log receives debug records; nil means the process root logger, or a
	// Debug-level stderr logger when any of the debug options is set.
	Log xlog.Logger
}

// NewOptions returns the default Options, matching the original runtime's
// convention of leaving garbage collection on unless explicitly disabled.
func NewOptions() Options { return Options{EnableGC: true} }

// VM executes a linked program one block at a time.
type VM struct {
	stack     []ir.Value
	callStack []string

	Heap    *heap.Heap
	Scopes  *scope.Manager
	Options Options

	registry *blocks.Registry
	log      xlog.Logger

	// errTrace snapshots the call stack at the first error site, before
	// unwinding pops it, for the driver's trace report.
	errTrace []string
}

// New builds a VM over program, merging in natives (never nil; pass
// blocks.Registry-compatible maps from DefaultNatives or a subset of it).
func New(program *ir.IR, natives map[string]blocks.NativeHandler, opts Options) (*VM, error) {
	registry, err := blocks.New(program, natives)
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = xlog.Root()
		// The debug options log at Debug level, which the root logger drops.
		if opts.DebugStack || opts.DebugGC || opts.DebugCalls {
			log = xlog.New(os.Stderr, xlog.LvlDebug)
		}
	}
	vm := &VM{
		Heap: heap.New(heap.Options{
			EnableGC: opts.EnableGC,
			DebugGC:  opts.DebugGC,
			UseMmap:  opts.HeapMmap,
			Log:      log,
		}),
		Scopes:   scope.New(),
		Options:  opts,
		registry: registry,
		log:      log,
	}
	// A cached single-eval value holds a heap reference (runBlock takes it
	// with RcPlus); when the bounded cache evicts an entry before its scope
	// pops, that reference must be released here or the block leaks.
	vm.Scopes.OnEvict(vm.Heap.RcMinus)
	return vm, nil
}

// Run evaluates entry as a global call from a fresh root scope, returning
// whatever value, if any, was left on top of the operand stack.
func (vm *VM) Run(entry string) (ir.Value, error) {
	vm.Scopes.Root(vm.registry)
	vm.errTrace = nil
	if _, err := vm.runBlock(entry); err != nil {
		return ir.Value{}, err
	}
	if len(vm.stack) == 0 {
		return ir.Null, nil
	}
	return vm.pop()
}

// Push places v on the operand stack, taking a heap reference if v is a
// Pointer.
func (vm *VM) Push(v ir.Value) {
	vm.stack = append(vm.stack, v)
	vm.Heap.RcPlus(v)
	if vm.Options.DebugStack {
		vm.log.Debug("stack push", "value", v.String(), "stack", spew.Sdump(vm.stack))
	}
}

// Pop removes and returns the top of the operand stack, releasing v's
// heap reference if it is a Pointer.
func (vm *VM) Pop() (ir.Value, error) {
	if len(vm.stack) == 0 {
		return ir.Value{}, &ErrStackEnded{}
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	vm.Heap.RcMinus(v)
	if vm.Options.DebugStack {
		vm.log.Debug("stack pop", "value", v.String(), "stack", spew.Sdump(vm.stack))
	}
	return v, nil
}

func (vm *VM) push(v ir.Value) { vm.Push(v) }

func (vm *VM) pop() (ir.Value, error) { return vm.Pop() }

// PeekStack returns the current operand stack without modifying it, for
// the `ena.vm.debug_stack` native.
func (vm *VM) PeekStack() []ir.Value { return append([]ir.Value(nil), vm.stack...) }

// CallStack returns the names of blocks currently executing, innermost
// last, for the `ena.vm.debug_calls` native.
func (vm *VM) CallStack() []string { return append([]string(nil), vm.callStack...) }

// Annotation returns the raw annotation text registered against name, for
// the `ena.vm.get_annotation` native.
func (vm *VM) Annotation(name string) (string, bool) { return vm.registry.Annotation(name) }

// ErrorTrace returns the call stack captured when the last error began
// propagating, innermost last. Empty after a clean run.
func (vm *VM) ErrorTrace() []string { return append([]string(nil), vm.errTrace...) }

func (vm *VM) popScopeCleanup() {
	for _, v := range vm.Scopes.PopScope() {
		vm.Heap.RcMinus(v)
	}
}

// runBlock runs the block named name from the caller's current scope,
// returning true if the block's own code (not a nested call) executed an
// explicit Return/ReturnLocal.
func (vm *VM) runBlock(name string) (bool, error) {
	caller := vm.Scopes.Current()
	vb, ok := caller.Blocks().Lookup(name)
	if !ok {
		return false, &ErrUnknownBlock{Name: name}
	}

	if vb.IsGlobal() {
		vm.Scopes.Parent(name)
	} else {
		vm.Scopes.Child(name)
	}

	if vb.IsSingleEval() {
		if cached, hit := vm.Scopes.LookupSingleEval(name); hit {
			vm.push(cached)
			vm.popScopeCleanup()
			return false, nil
		}
	}

	vm.callStack = append(vm.callStack, name)
	if vm.Options.DebugCalls {
		vm.log.Debug("block enter", "name", name, "depth", len(vm.callStack))
	}
	defer func() {
		vm.callStack = vm.callStack[:len(vm.callStack)-1]
		if vm.Options.DebugCalls {
			vm.log.Debug("block exit", "name", name)
		}
	}()

	if vb.Kind == blocks.KindNative {
		if err := vb.Native(vm); err != nil {
			if vm.errTrace == nil {
				vm.errTrace = vm.CallStack()
			}
			vm.popScopeCleanup()
			return false, err
		}
		vm.popScopeCleanup()
		return false, nil
	}

	returned, err := vm.runCode(vb.IR.Code)
	if err != nil {
		if vm.errTrace == nil {
			vm.errTrace = vm.CallStack()
		}
		vm.popScopeCleanup()
		return false, err
	}

	if !returned && vb.IsSingleEval() {
		if len(vm.stack) == 0 {
			vm.popScopeCleanup()
			return false, &ErrExpectedValue{Block: name}
		}
		top := vm.stack[len(vm.stack)-1]
		vm.Scopes.AddSingleEval(name, top)
		vm.Heap.RcPlus(top)
	}

	vm.popScopeCleanup()
	return returned, nil
}

// runCode executes one block's op list against the current (already
// pushed) scope, returning true if a Return/ReturnLocal fired at this
// level.
func (vm *VM) runCode(code []ir.IRCode) (bool, error) {
	for _, c := range code {
		switch c.Op {
		case ir.OpPutValue:
			vm.push(c.Value)

		case ir.OpReturn, ir.OpReturnLocal:
			return true, nil

		case ir.OpCall:
			if _, err := vm.runBlock(c.Name); err != nil {
				return false, err
			}

		case ir.OpLocalBlock:
			if err := vm.Scopes.AddLocal(c.Name); err != nil {
				return false, err
			}
			if err := vm.Scopes.Current().BlocksMut().AddBlock(c.Name, ir.Block{
				Global:  false,
				RunType: c.RunType,
				Code:    c.Code,
			}); err != nil {
				return false, err
			}

		case ir.OpIf:
			cond, err := vm.pop()
			if err != nil {
				return false, err
			}
			b, ok := cond.AsBoolean()
			if !ok {
				return false, &ErrExpectedBoolean{Got: cond}
			}
			if b {
				didReturn, err := vm.runBlock(c.Name)
				if err != nil {
					return false, err
				}
				if didReturn {
					return false, nil
				}
			}

		case ir.OpWhile:
			for {
				cond, err := vm.pop()
				if err != nil {
					return false, err
				}
				b, ok := cond.AsBoolean()
				if !ok {
					return false, &ErrExpectedBoolean{Got: cond}
				}
				if !b {
					break
				}
				didReturn, err := vm.runBlock(c.Name)
				if err != nil {
					return false, err
				}
				if didReturn {
					break
				}
			}

		default:
			return false, fmt.Errorf("vm: unhandled op %s", c.Op)
		}
	}
	return false, nil
}
