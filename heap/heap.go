// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package heap implements the ena VM's value-addressable heap: a sparse
// set of variable-sized memory blocks, each holding a run of ir.Value
// slots, with block-granular reference counting.
//
// Addresses are not byte offsets into a single arena; they are logical
// slot indices. A Pointer value may address any slot within a live block,
// not just its base — pointer arithmetic (`+`/`-` on a Pointer) produces
// addresses that still resolve to the owning block, and refcounting is
// always attributed to the block's base address regardless of which slot
// within it a Pointer happens to reference.
package heap

import (
	"fmt"
	"sync"

	"github.com/davecgh/go-spew/spew"
	mapset "github.com/deckarep/golang-set"
	"github.com/edsrzf/mmap-go"

	"github.com/enalang/ena/internal/xlog"
	"github.com/enalang/ena/ir"
)

// ErrBadPointer is returned when an address does not resolve to any live
// block and GC-mode bounds checking is enabled.
type ErrBadPointer struct{ Addr uint64 }

func (e *ErrBadPointer) Error() string { return fmt.Sprintf("heap: bad pointer %d", e.Addr) }

// Options configures a Heap.
type Options struct {
	// EnableGC turns on refcount-triggered automatic freeing and strict
	// bounds checking in Get and Set (BadPointer on any address outside a
	// live block). RcPlus, RcMinus, and Free on such an address are silent
	// no-ops in either mode.
	EnableGC bool
	// DebugGC causes every rc change and free to be logged through Log.
	DebugGC bool
	// Log receives DebugGC records; nil means the process root logger.
	Log xlog.Logger
	// UseMmap maps one fixed 4096-byte anonymous mmap region for the
	// heap's lifetime (released by Close). Slot storage stays in Go
	// slices either way, so the mode changes no behavior. The CLI sets it
	// through the HEAP_MMAP=1 environment variable or the equivalent flag.
	UseMmap bool
}

// block is a single live memory region: a contiguous run of slots
// beginning at Base.
type block struct {
	base  uint64
	slots []ir.Value
}

func (b *block) size() uint64 { return uint64(len(b.slots)) }
func (b *block) end() uint64  { return b.base + b.size() }
func (b *block) contains(addr uint64) bool {
	return addr >= b.base && addr < b.end()
}

// Heap is the ena VM's block-addressable store of ir.Value slots.
type Heap struct {
	mu        sync.Mutex
	opts      Options
	blocks    map[uint64]*block // keyed by base address
	live      mapset.Set        // set of live base addresses
	refcounts map[uint64]int64  // keyed by block base
	nextHint  uint64

	mmapRegion mmap.MMap // present only if opts.UseMmap; holds no slots
}

// New returns an empty Heap.
func New(opts Options) *Heap {
	if opts.Log == nil {
		opts.Log = xlog.Root()
	}
	h := &Heap{
		opts:      opts,
		blocks:    make(map[uint64]*block),
		live:      mapset.NewSet(),
		refcounts: make(map[uint64]int64),
	}
	if opts.UseMmap {
		// A single fixed-size anonymous mapping marking the mmap mode as
		// live; blocks are still allocated as Go-managed slices and the
		// mapping is never resized.
		region, err := mmap.MapRegion(nil, 4096, mmap.RDWR, mmap.ANON, 0)
		if err == nil {
			h.mmapRegion = region
		}
	}
	return h
}

// Close releases the optional mmap backing region.
func (h *Heap) Close() error {
	if h.mmapRegion != nil {
		return h.mmapRegion.Unmap()
	}
	return nil
}

// findSpace returns the lowest base address with size contiguous free
// slots, scanning existing blocks in ascending base order.
func (h *Heap) findSpace(size uint64) uint64 {
	if size == 0 {
		size = 1
	}
	type span struct{ base, end uint64 }
	spans := make([]span, 0, len(h.blocks))
	for _, b := range h.blocks {
		spans = append(spans, span{b.base, b.end()})
	}
	// insertion sort: block counts are small in practice and this keeps
	// the dependency surface to the stdlib for a hot, simple loop.
	for i := 1; i < len(spans); i++ {
		j := i
		for j > 0 && spans[j-1].base > spans[j].base {
			spans[j-1], spans[j] = spans[j], spans[j-1]
			j--
		}
	}

	candidate := uint64(0)
	for _, s := range spans {
		if candidate+size <= s.base {
			return candidate
		}
		if s.end > candidate {
			candidate = s.end
		}
	}
	return candidate
}

func (h *Heap) createBlock(size uint64) uint64 {
	base := h.findSpace(size)
	h.blocks[base] = &block{base: base, slots: make([]ir.Value, size)}
	h.live.Add(base)
	return base
}

func (h *Heap) removeBlock(base uint64) {
	delete(h.blocks, base)
	h.live.Remove(base)
}

// getPointerOwner returns the block containing addr, if any.
func (h *Heap) getPointerOwner(addr uint64) (*block, bool) {
	if b, ok := h.blocks[addr]; ok {
		return b, true
	}
	for _, b := range h.blocks {
		if b.contains(addr) {
			return b, true
		}
	}
	return nil, false
}

// Alloc reserves size slots and returns the base address. A freshly
// allocated block starts at refcount 1.
func (h *Heap) Alloc(size uint64) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	base := h.createBlock(size)
	h.refcounts[base] = 1
	return base
}

// Realloc grows the block addressed by ptr (which must be a block's exact
// base address) to newSize slots, preserving its existing contents; it
// never shrinks a block. If the existing block is already at least
// newSize, ptr is returned unchanged and the block keeps its size. Otherwise
// a new block is created, contents are copied, and the old base's
// bookkeeping (refcount) is transferred to the new base.
func (h *Heap) Realloc(ptr, newSize uint64) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// An unknown pointer degrades to a fresh allocation.
	old, ok := h.blocks[ptr]
	if !ok {
		base := h.createBlock(newSize)
		h.refcounts[base] = 1
		return base, nil
	}
	if old.size() >= newSize {
		return ptr, nil
	}

	newBase := h.createBlock(newSize)
	copy(h.blocks[newBase].slots, old.slots)
	h.removeBlock(ptr)

	rc := h.refcounts[ptr]
	delete(h.refcounts, ptr)
	h.refcounts[newBase] = rc

	if h.opts.DebugGC {
		h.dumpLocked("realloc", newBase)
	}
	return newBase, nil
}

// Free releases the block whose base address is ptr. Freeing an address
// that is not a live block base is a no-op, matching the heap's
// "free unknown pointer does nothing" behavior. Any Pointer-valued slot
// inside the freed block has its own target's refcount decremented
// recursively, since a pointer held in a freed block can no longer keep
// its target alive.
func (h *Heap) Free(ptr uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.freeLocked(ptr)
}

func (h *Heap) freeLocked(ptr uint64) {
	b, ok := h.blocks[ptr]
	if !ok {
		return
	}
	for _, slot := range b.slots {
		if target, isPtr := slot.AsPointer(); isPtr {
			h.rcMinusLocked(target)
		}
	}
	h.removeBlock(ptr)
	delete(h.refcounts, ptr)
	if h.opts.DebugGC {
		h.dumpLocked("free", ptr)
	}
}

// Get reads the slot at addr.
func (h *Heap) Get(addr uint64) (ir.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.getPointerOwner(addr)
	if !ok {
		if h.opts.EnableGC {
			return ir.Value{}, &ErrBadPointer{Addr: addr}
		}
		return ir.Null, nil
	}
	return b.slots[addr-b.base], nil
}

// Set writes val to the slot at addr. If val is itself a Pointer, the
// target's refcount is incremented, since the heap now holds a new
// reference to it.
func (h *Heap) Set(addr uint64, val ir.Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.getPointerOwner(addr)
	if !ok {
		if h.opts.EnableGC {
			return &ErrBadPointer{Addr: addr}
		}
		return nil
	}
	if target, isPtr := val.AsPointer(); isPtr {
		h.rcPlusLocked(target)
	}
	b.slots[addr-b.base] = val
	return nil
}

// RcPlus increments the refcount of v's target block, if v is a Pointer.
// Non-pointer values are a no-op, mirroring the VM's uniform
// push-increments/pop-decrements protocol across all value kinds.
func (h *Heap) RcPlus(v ir.Value) {
	target, ok := v.AsPointer()
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rcPlusLocked(target)
}

// RcMinus decrements the refcount of v's target block, if v is a Pointer,
// freeing it automatically once refcount reaches zero and GC is enabled.
func (h *Heap) RcMinus(v ir.Value) {
	target, ok := v.AsPointer()
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rcMinusLocked(target)
}

func (h *Heap) rcPlusLocked(addr uint64) {
	owner, ok := h.getPointerOwner(addr)
	if !ok {
		return
	}
	h.refcounts[owner.base]++
	if h.opts.DebugGC {
		h.dumpLocked("rc+", owner.base)
	}
}

func (h *Heap) rcMinusLocked(addr uint64) {
	owner, ok := h.getPointerOwner(addr)
	if !ok {
		return
	}
	h.refcounts[owner.base]--
	if h.opts.DebugGC {
		h.dumpLocked("rc-", owner.base)
	}
	if h.opts.EnableGC && h.refcounts[owner.base] <= 0 {
		h.freeLocked(owner.base)
	}
}

// RefCount returns the current refcount of the block owning addr, for
// tests and the `ena.vm.debug` native group.
func (h *Heap) RefCount(addr uint64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	owner, ok := h.getPointerOwner(addr)
	if !ok {
		return 0
	}
	return h.refcounts[owner.base]
}

// LiveBlocks returns the base addresses of every currently allocated
// block, backing the "set of allocated MemoryBlock" data model directly.
func (h *Heap) LiveBlocks() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, 0, h.live.Cardinality())
	for _, v := range h.live.ToSlice() {
		out = append(out, v.(uint64))
	}
	return out
}

func (h *Heap) dumpLocked(op string, base uint64) {
	h.opts.Log.Debug("heap "+op,
		"base", base,
		"rc", h.refcounts[base],
		"block", spew.Sdump(h.blocks[base]),
	)
}
