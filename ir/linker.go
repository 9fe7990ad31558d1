// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import "fmt"

// Link merges a sequence of independently compiled IRs into one program.
// It is the library entry point behind the `link` CLI subcommand: each
// input IR must not define a global block that another input already
// defines, mirroring IR.Merge's duplicate-detection rule applied pairwise
// across the whole set. Link is atomic: on any collision it returns the
// error without mutating any input, by merging into a scratch IR first.
func Link(irs ...*IR) (*IR, error) {
	out := New()
	for i, one := range irs {
		if err := out.Merge(one); err != nil {
			return nil, fmt.Errorf("ir: link input %d: %w", i, err)
		}
	}
	return out, nil
}

// Linker accumulates IRs one at a time, e.g. while walking a module graph
// during `compile`, and exposes the same duplicate-detection guarantee as
// Link while letting the caller add sources incrementally.
type Linker struct {
	out *IR
}

// NewLinker returns an empty Linker.
func NewLinker() *Linker { return &Linker{out: New()} }

// Add merges one into the linker's accumulated program.
func (l *Linker) Add(one *IR) error {
	if err := l.out.Merge(one); err != nil {
		return fmt.Errorf("ir: linker add: %w", err)
	}
	return nil
}

// IR returns the accumulated program. The returned pointer is owned by the
// caller; further Add calls continue to mutate it in place.
func (l *Linker) IR() *IR { return l.out }

// Validate checks that every Call/If/While/PutValue(Block) target in ir
// referencing a name absent from both ir and the supplied native names set
// is reported. This is a structural pre-check cheaper than the full
// checker package's symbolic walk, useful for a fast `link --verify` path
// that doesn't need the checker's scope-shadowing analysis.
func Validate(program *IR, nativeNames map[string]struct{}) []error {
	var errs []error
	for name, block := range program.Blocks {
		errs = append(errs, validateCode(program, nativeNames, name, block.Code)...)
	}
	return errs
}

func validateCode(program *IR, nativeNames map[string]struct{}, owner string, code []IRCode) []error {
	var errs []error
	for _, c := range code {
		switch c.Op {
		case OpCall, OpIf, OpWhile:
			if !knownName(program, nativeNames, c.Name) {
				errs = append(errs, fmt.Errorf("ir: block %q references unknown block %q", owner, c.Name))
			}
		case OpPutValue:
			if name, ok := c.Value.AsBlock(); ok {
				if !knownName(program, nativeNames, name) {
					errs = append(errs, fmt.Errorf("ir: block %q references unknown block %q", owner, name))
				}
			}
		case OpLocalBlock:
			errs = append(errs, validateCode(program, nativeNames, c.Name, c.Code)...)
		}
	}
	return errs
}

func knownName(program *IR, nativeNames map[string]struct{}, name string) bool {
	if _, ok := program.Blocks[name]; ok {
		return true
	}
	_, ok := nativeNames[name]
	return ok
}
