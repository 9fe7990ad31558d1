// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.

// Package ir defines the intermediate representation of the ena toolchain:
// a flat table of named, independently addressable "blocks" of ops, plus
// free-form annotations and an optional source position map.
//
// Unlike a conventional SSA IR, an ena Block is not a basic block in a
// control-flow graph: it is a callable unit, and control flow between
// blocks (Call/If/While) is itself expressed as ops rather than
// branch/terminator edges.
package ir

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// Value is the tagged union every operand and heap slot holds. The zero
// Value is Null.
type Value struct {
	kind  ValueKind
	num   float64
	str   string // String, Block name, or Atom name depending on kind
	b     bool
	ptr   uint64
	excep *Value
}

// ValueKind discriminates the Value union.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindNumber
	KindString
	KindBoolean
	KindPointer
	KindBlock
	KindException
	KindAtom
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindNumber:
		return "Number"
	case KindString:
		return "String"
	case KindBoolean:
		return "Boolean"
	case KindPointer:
		return "Pointer"
	case KindBlock:
		return "Block"
	case KindException:
		return "Exception"
	case KindAtom:
		return "Atom"
	default:
		return fmt.Sprintf("ValueKind(%d)", uint8(k))
	}
}

// Null is the shared Null value.
var Null = Value{kind: KindNull}

// Number constructs a Number value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// String constructs a String value. The text is NFC-normalized before
// storage, so two strings that differ only in combining-character
// representation compare equal.
func String(s string) Value { return Value{kind: KindString, str: norm.NFC.String(s)} }

// Boolean constructs a Boolean value.
func Boolean(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Pointer constructs a Pointer value addressing the heap.
func Pointer(addr uint64) Value { return Value{kind: KindPointer, ptr: addr} }

// MakeBlock constructs a Block-reference value naming an IR block or native.
func MakeBlock(name string) Value { return Value{kind: KindBlock, str: name} }

// Atom constructs an interned-symbol value.
func Atom(name string) Value { return Value{kind: KindAtom, str: norm.NFC.String(name)} }

// MakeException wraps v as an Exception value.
func MakeException(v Value) Value {
	cp := v
	return Value{kind: KindException, excep: &cp}
}

// Kind reports the value's variant.
func (v Value) Kind() ValueKind { return v.kind }

// AsNumber returns the Number payload and whether v is a Number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsString returns the String payload and whether v is a String.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsBoolean returns the Boolean payload and whether v is a Boolean.
func (v Value) AsBoolean() (bool, bool) { return v.b, v.kind == KindBoolean }

// AsPointer returns the Pointer payload and whether v is a Pointer.
func (v Value) AsPointer() (uint64, bool) { return v.ptr, v.kind == KindPointer }

// AsBlock returns the Block-name payload and whether v is a Block.
func (v Value) AsBlock() (string, bool) { return v.str, v.kind == KindBlock }

// AsAtom returns the Atom-name payload and whether v is an Atom.
func (v Value) AsAtom() (string, bool) { return v.str, v.kind == KindAtom }

// AsException returns the wrapped Value and whether v is an Exception.
func (v Value) AsException() (Value, bool) {
	if v.kind != KindException {
		return Value{}, false
	}
	return *v.excep, true
}

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Hash returns a hash of v suitable for the `hash` native, or false for
// Number (which has no stable hash in the original semantics this mirrors).
func (v Value) Hash() (uint64, bool) {
	if v.kind == KindNumber {
		return 0, false
	}
	h := xxhash.New()
	_, _ = h.Write([]byte{byte(v.kind)})
	switch v.kind {
	case KindString, KindBlock, KindAtom:
		_, _ = h.WriteString(v.str)
	case KindBoolean:
		if v.b {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
	case KindPointer:
		var buf [8]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(v.ptr >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	case KindException:
		sub, _ := v.excep.Hash()
		var buf [8]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(sub >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	case KindNull:
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64(), true
}

// Equal implements the value-equality used by the `==` native: all variants
// compare structurally, including Exception (by its wrapped value).
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindNumber:
		return v.num == other.num
	case KindString, KindBlock, KindAtom:
		return v.str == other.str
	case KindBoolean:
		return v.b == other.b
	case KindPointer:
		return v.ptr == other.ptr
	case KindException:
		return v.excep.Equal(*other.excep)
	default:
		return false
	}
}

// String renders a debug form of the value; it is not the `into_string`
// native's user-facing rendering (see vm/natives_types.go for that).
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "Null"
	case KindNumber:
		return fmt.Sprintf("Number(%v)", v.num)
	case KindString:
		return fmt.Sprintf("String(%q)", v.str)
	case KindBoolean:
		return fmt.Sprintf("Boolean(%v)", v.b)
	case KindPointer:
		return fmt.Sprintf("Pointer(%d)", v.ptr)
	case KindBlock:
		return fmt.Sprintf("Block(%q)", v.str)
	case KindAtom:
		return fmt.Sprintf("Atom(%q)", v.str)
	case KindException:
		return fmt.Sprintf("Exception(%s)", v.excep.String())
	default:
		return "?"
	}
}

// RunType classifies how a Block's body is evaluated across repeated calls
// within a single scope.
type RunType uint8

const (
	// Once blocks memoize: their body runs at most once per owning scope.
	Once RunType = iota
	// Unique blocks re-run their body on every call.
	Unique
)

func (r RunType) String() string {
	if r == Once {
		return "Once"
	}
	return "Unique"
}

// Op is the discriminator for an IRCode instruction.
type Op uint8

const (
	OpPutValue Op = iota
	OpCall
	OpIf
	OpWhile
	OpLocalBlock
	OpReturn
	OpReturnLocal
)

func (o Op) String() string {
	switch o {
	case OpPutValue:
		return "PutValue"
	case OpCall:
		return "Call"
	case OpIf:
		return "If"
	case OpWhile:
		return "While"
	case OpLocalBlock:
		return "LocalBlock"
	case OpReturn:
		return "Return"
	case OpReturnLocal:
		return "ReturnLocal"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// IRCode is a single instruction in a Block's op list.
//
// Only the fields relevant to Op are populated:
//
//	OpPutValue:             Value
//	OpCall, OpIf, OpWhile:  Name (target block)
//	OpLocalBlock:           Name, RunType, Code
//	OpReturn, OpReturnLocal: no fields
type IRCode struct {
	Op      Op
	Value   Value
	Name    string
	RunType RunType
	Code    []IRCode
}

// PutValue builds a PutValue op.
func PutValue(v Value) IRCode { return IRCode{Op: OpPutValue, Value: v} }

// Call builds a Call op.
func Call(name string) IRCode { return IRCode{Op: OpCall, Name: name} }

// If builds an If op.
func If(name string) IRCode { return IRCode{Op: OpIf, Name: name} }

// While builds a While op.
func While(name string) IRCode { return IRCode{Op: OpWhile, Name: name} }

// LocalBlock builds a LocalBlock op introducing a nested, non-global block.
func LocalBlock(name string, rt RunType, code []IRCode) IRCode {
	return IRCode{Op: OpLocalBlock, Name: name, RunType: rt, Code: code}
}

// Return builds a Return op.
func Return() IRCode { return IRCode{Op: OpReturn} }

// ReturnLocal builds a ReturnLocal op.
func ReturnLocal() IRCode { return IRCode{Op: OpReturnLocal} }

// Block is a named, ordered list of ops, executed as a single callable
// unit. Global blocks live at IR top level; non-global blocks are
// introduced inside another block's code by a LocalBlock op and are only
// visible within that enclosing scope subtree.
type Block struct {
	Global  bool
	RunType RunType
	Code    []IRCode
}

// IsSingleEval reports whether b memoizes (RunType == Once).
func (b Block) IsSingleEval() bool { return b.RunType == Once }

// Position is a source location associated with a block name, carried by
// the optional source map.
type Position struct {
	File string
	Line int
	Col  int
}

func (p Position) String() string { return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col) }

// ErrBlockAlreadyExists is returned by AddBlock/Merge when a name collides
// and the caller asked for duplicate detection.
type ErrBlockAlreadyExists struct{ Name string }

func (e *ErrBlockAlreadyExists) Error() string {
	return fmt.Sprintf("ir: block already exists: %q", e.Name)
}

// IR is an in-memory program: a name-unique table of blocks plus
// annotation text and an optional source position per name.
type IR struct {
	Blocks      map[string]Block
	Annotations map[string]string
	SourceMap   map[string]Position
}

// New returns an empty IR.
func New() *IR {
	return &IR{
		Blocks:      make(map[string]Block),
		Annotations: make(map[string]string),
		SourceMap:   make(map[string]Position),
	}
}

// AddBlock inserts name/block. If errorOnDup and name is already present,
// it returns *ErrBlockAlreadyExists and leaves the IR unchanged.
func (ir *IR) AddBlock(name string, block Block, errorOnDup bool) error {
	if errorOnDup {
		if _, ok := ir.Blocks[name]; ok {
			return &ErrBlockAlreadyExists{Name: name}
		}
	}
	ir.Blocks[name] = block
	return nil
}

// GetBlock looks up a block by name.
func (ir *IR) GetBlock(name string) (Block, bool) {
	b, ok := ir.Blocks[name]
	return b, ok
}

// HasDirective reports whether block's annotation has a line beginning
// with directive (e.g. "@unsafe(inline)").
func (ir *IR) HasDirective(block, directive string) bool {
	ann, ok := ir.Annotations[block]
	if !ok {
		return false
	}
	for _, line := range strings.Split(ann, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), directive) {
			return true
		}
	}
	return false
}

// Merge adds every block, annotation, and source-map entry of other into
// ir. Duplicate block names fail with *ErrBlockAlreadyExists, leaving ir
// partially merged up to the failing name — callers that need atomicity
// should merge into a scratch IR first and only adopt it on success.
// Annotations and source positions overwrite on conflict ("later wins").
func (ir *IR) Merge(other *IR) error {
	for name, block := range other.Blocks {
		if err := ir.AddBlock(name, block, true); err != nil {
			return err
		}
	}
	for name, ann := range other.Annotations {
		ir.Annotations[name] = ann
	}
	for name, pos := range other.SourceMap {
		ir.SourceMap[name] = pos
	}
	return nil
}

// ContentHash returns a fast, non-cryptographic hash of a block's code,
// name, and run type. It is used by the optimizer's deterministic-naming
// mode.
func ContentHash(name string, b Block) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(name)
	_, _ = h.Write([]byte{byte(b.RunType)})
	if b.Global {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
	hashCode(h, b.Code)
	return h.Sum64()
}

func hashCode(h *xxhash.Digest, code []IRCode) {
	for _, c := range code {
		_, _ = h.Write([]byte{byte(c.Op)})
		_, _ = h.WriteString(c.Name)
		_, _ = h.Write([]byte{byte(c.RunType)})
		_, _ = h.Write([]byte{byte(c.Value.kind)})
		_, _ = h.WriteString(c.Value.String())
		hashCode(h, c.Code)
	}
}
