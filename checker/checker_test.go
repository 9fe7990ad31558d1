// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package checker

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	"github.com/enalang/ena/blocks"
	"github.com/enalang/ena/ir"
	"github.com/enalang/ena/vm"
)

func registryFor(t *testing.T, program *ir.IR) *blocks.Registry {
	t.Helper()
	registry, err := blocks.New(program, vm.DefaultNatives())
	require.NoError(t, err)
	return registry
}

func addGlobal(t *testing.T, program *ir.IR, name string, code ...ir.IRCode) {
	t.Helper()
	require.NoError(t, program.AddBlock(name, ir.Block{Global: true, RunType: ir.Unique, Code: code}, true))
}

func TestResolvingProgramPasses(t *testing.T) {
	program := ir.New()
	addGlobal(t, program, "main",
		ir.PutValue(ir.Number(1)),
		ir.Call("helper"),
		ir.Call("+"), // native
	)
	addGlobal(t, program, "helper", ir.PutValue(ir.Number(2)))

	errs := New(registryFor(t, program)).Check()
	require.Empty(t, errs)
}

func TestDanglingCallReported(t *testing.T) {
	program := ir.New()
	addGlobal(t, program, "main", ir.Call("missing"))

	errs := New(registryFor(t, program)).Check()
	require.Len(t, errs, 1)
	var finding *Error
	require.ErrorAs(t, errs[0], &finding)
	require.Equal(t, "missing", finding.Name)
	require.Equal(t, "main", finding.In)
	require.False(t, finding.Shadow)
}

func TestDanglingTargetsCollectedNotShortCircuited(t *testing.T) {
	program := ir.New()
	addGlobal(t, program, "main",
		ir.Call("gone"),
		ir.PutValue(ir.Boolean(true)),
		ir.If("also-gone"),
	)

	errs := New(registryFor(t, program)).Check()
	require.Len(t, errs, 2)
}

func TestDanglingPutValueBlockReported(t *testing.T) {
	program := ir.New()
	addGlobal(t, program, "main", ir.PutValue(ir.MakeBlock("phantom")))

	errs := New(registryFor(t, program)).Check()
	require.Len(t, errs, 1)
}

func TestLocalBlockResolvesForSubsequentOps(t *testing.T) {
	program := ir.New()
	addGlobal(t, program, "main",
		ir.LocalBlock("x", ir.Unique, []ir.IRCode{ir.PutValue(ir.Number(1))}),
		ir.Call("x"),
	)

	errs := New(registryFor(t, program)).Check()
	require.Empty(t, errs)
}

func TestShadowingLocalReported(t *testing.T) {
	program := ir.New()
	addGlobal(t, program, "main",
		ir.LocalBlock("x", ir.Unique, nil),
		ir.LocalBlock("x", ir.Unique, nil),
	)

	errs := New(registryFor(t, program)).Check()
	require.Len(t, errs, 1)
	var finding *Error
	require.ErrorAs(t, errs[0], &finding)
	require.True(t, finding.Shadow)
	require.Equal(t, "x", finding.Name)
}

func TestShadowingGlobalReported(t *testing.T) {
	program := ir.New()
	addGlobal(t, program, "main", ir.LocalBlock("helper", ir.Unique, nil))
	addGlobal(t, program, "helper", ir.PutValue(ir.Number(1)))

	errs := New(registryFor(t, program)).Check()
	require.Len(t, errs, 1)
	var finding *Error
	require.ErrorAs(t, errs[0], &finding)
	require.True(t, finding.Shadow)
}

// Sibling callees may each declare a local of the same name: the scopes
// are independent at run time, so the checker must not cross-flag them.
func TestSiblingLocalsDoNotConflict(t *testing.T) {
	program := ir.New()
	addGlobal(t, program, "main", ir.Call("a"), ir.Call("b"))
	addGlobal(t, program, "a", ir.LocalBlock("tmp", ir.Unique, nil))
	addGlobal(t, program, "b", ir.LocalBlock("tmp", ir.Unique, nil))

	errs := New(registryFor(t, program)).Check()
	require.Empty(t, errs)
}

func TestRecursiveProgramTerminates(t *testing.T) {
	program := ir.New()
	addGlobal(t, program, "main", ir.Call("loop"))
	addGlobal(t, program, "loop",
		ir.PutValue(ir.Boolean(true)),
		ir.While("loop"),
	)

	errs := New(registryFor(t, program)).Check()
	require.Empty(t, errs)
}

func TestNestedLocalDanglingPathReported(t *testing.T) {
	program := ir.New()
	addGlobal(t, program, "main",
		ir.LocalBlock("outer", ir.Unique, []ir.IRCode{
			ir.Call("missing"),
		}),
		ir.Call("outer"),
	)

	errs := New(registryFor(t, program)).Check()
	require.Len(t, errs, 1)
	var finding *Error
	require.ErrorAs(t, errs[0], &finding)
	require.Equal(t, "missing", finding.Name)
	require.Equal(t, "outer", finding.In)
	require.Equal(t, []string{"main", "outer"}, finding.Path)
}

// Randomized programs whose targets all point at defined blocks must pass
// checking regardless of shape.
func TestFuzzedResolvingProgramsPass(t *testing.T) {
	fuzzer := fuzz.New().NilChance(0)
	names := []string{"a", "b", "c", "d"}

	for i := 0; i < 50; i++ {
		program := ir.New()
		for _, name := range names {
			var picks []uint8
			fuzzer.NumElements(0, 6).Fuzz(&picks)
			code := make([]ir.IRCode, 0, len(picks))
			for _, p := range picks {
				switch p % 3 {
				case 0:
					code = append(code, ir.PutValue(ir.Number(float64(p))))
				case 1:
					code = append(code, ir.Call(names[int(p)%len(names)]))
				default:
					code = append(code, ir.PutValue(ir.MakeBlock(names[int(p)%len(names)])))
				}
			}
			addGlobal(t, program, name, code...)
		}
		errs := New(registryFor(t, program)).Check()
		require.Empty(t, errs, "iteration %d", i)
	}
}
