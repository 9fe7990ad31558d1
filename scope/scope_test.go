// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package scope

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/enalang/ena/blocks"
	"github.com/enalang/ena/ir"
)

func testRegistry(t *testing.T, names ...string) *blocks.Registry {
	t.Helper()
	program := ir.New()
	for _, name := range names {
		require.NoError(t, program.AddBlock(name, ir.Block{Global: true, RunType: ir.Unique}, true))
	}
	registry, err := blocks.New(program, nil)
	require.NoError(t, err)
	return registry
}

func TestRootSeedsGlobalsAsLocals(t *testing.T) {
	m := New()
	m.Root(testRegistry(t, "main", "helper"))

	require.Equal(t, 1, m.Depth())
	m.AddSingleEval("helper", ir.Number(7))
	v, ok := m.LookupSingleEval("helper")
	require.True(t, ok)
	require.True(t, v.Equal(ir.Number(7)))
}

func TestParentScopeSeesRootViewOnly(t *testing.T) {
	m := New()
	m.Root(testRegistry(t, "main"))

	m.Child("main")
	require.NoError(t, m.AddLocal("x"))
	require.NoError(t, m.Current().BlocksMut().AddBlock("x", ir.Block{RunType: ir.Unique}))
	_, ok := m.Current().Blocks().Lookup("x")
	require.True(t, ok)

	// A global call clones from the root, where "x" was never registered.
	m.Parent("other")
	_, ok = m.Current().Blocks().Lookup("x")
	require.False(t, ok)
}

func TestChildScopeInheritsCallerView(t *testing.T) {
	m := New()
	m.Root(testRegistry(t, "main"))

	m.Child("main")
	require.NoError(t, m.AddLocal("x"))
	require.NoError(t, m.Current().BlocksMut().AddBlock("x", ir.Block{RunType: ir.Unique}))

	m.Child("nested")
	_, ok := m.Current().Blocks().Lookup("x")
	require.True(t, ok)
}

func TestAddLocalRejectsShadowing(t *testing.T) {
	m := New()
	m.Root(testRegistry(t, "main"))
	m.Child("main")

	require.NoError(t, m.AddLocal("x"))
	err := m.AddLocal("x")
	var shadow *ErrCannotShadow
	require.ErrorAs(t, err, &shadow)
	require.Equal(t, "x", shadow.Name)

	// Shadowing a global name is rejected too.
	err = m.AddLocal("main")
	require.ErrorAs(t, err, &shadow)
}

func TestSingleEvalStoredInOwningScope(t *testing.T) {
	m := New()
	m.Root(testRegistry(t, "main"))

	m.Child("main")
	require.NoError(t, m.AddLocal("x"))

	m.Child("x")
	m.AddSingleEval("x", ir.Number(3))

	// The cache entry lives in main's scope, not x's: popping x's scope
	// keeps it.
	leaked := m.PopScope()
	require.Empty(t, leaked)
	v, ok := m.LookupSingleEval("x")
	require.True(t, ok)
	require.True(t, v.Equal(ir.Number(3)))

	// Popping the owner hands the cached value back for rc cleanup.
	leaked = m.PopScope()
	require.Len(t, leaked, 1)
}

func TestLookupSingleEvalMisses(t *testing.T) {
	m := New()
	m.Root(testRegistry(t, "main"))
	_, ok := m.LookupSingleEval("main")
	require.False(t, ok)
	_, ok = m.LookupSingleEval("never-declared")
	require.False(t, ok)
}

// Overflowing a scope's bounded single-eval cache must hand every evicted
// value to the OnEvict handler, so the reference taken when it was cached
// can be released: evicted + popped together account for every insertion.
func TestSingleEvalEvictionReportsValues(t *testing.T) {
	const extra = 50

	var evicted []ir.Value
	m := New()
	m.OnEvict(func(v ir.Value) { evicted = append(evicted, v) })
	m.Root(testRegistry(t, "main"))
	m.Child("main")

	total := singleEvalCacheSize + extra
	for i := 0; i < total; i++ {
		name := "once-" + strconv.Itoa(i)
		require.NoError(t, m.AddLocal(name))
		m.AddSingleEval(name, ir.Pointer(uint64(i)))
	}

	require.Len(t, evicted, extra)
	for i, v := range evicted {
		require.True(t, v.Equal(ir.Pointer(uint64(i))), "oldest entries evict first")
	}

	popped := m.PopScope()
	require.Len(t, popped, singleEvalCacheSize)
	require.Equal(t, total, len(evicted)+len(popped))
}

func TestSiblingScopesIndependent(t *testing.T) {
	m := New()
	m.Root(testRegistry(t, "main"))

	m.Child("a")
	require.NoError(t, m.AddLocal("tmp"))
	m.PopScope()

	m.Child("b")
	require.NoError(t, m.AddLocal("tmp"))
	m.PopScope()
}
