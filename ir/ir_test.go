// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"
)

func TestValueEquality(t *testing.T) {
	require.True(t, Number(1).Equal(Number(1)))
	require.False(t, Number(1).Equal(Number(2)))
	require.True(t, String("a").Equal(String("a")))
	require.False(t, String("a").Equal(Number(1)))
	require.True(t, MakeException(Number(1)).Equal(MakeException(Number(1))))
	require.False(t, MakeException(Number(1)).Equal(MakeException(Number(2))))
}

func TestValueHashSkipsNumber(t *testing.T) {
	_, ok := Number(1).Hash()
	require.False(t, ok)
	_, ok = String("x").Hash()
	require.True(t, ok)
}

func TestStringNFCNormalization(t *testing.T) {
	// "é" as a single codepoint vs. "e" + combining acute accent.
	precomposed := String("é")
	decomposed := String("é")
	require.True(t, precomposed.Equal(decomposed))
}

func TestIRAddBlockDuplicate(t *testing.T) {
	program := New()
	require.NoError(t, program.AddBlock("main", Block{Global: true, RunType: Once}, true))
	err := program.AddBlock("main", Block{Global: true, RunType: Once}, true)
	require.Error(t, err)
	var dup *ErrBlockAlreadyExists
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "main", dup.Name)
}

func TestIRMergeDisjoint(t *testing.T) {
	a := New()
	require.NoError(t, a.AddBlock("a", Block{Global: true, RunType: Unique}, true))
	b := New()
	require.NoError(t, b.AddBlock("b", Block{Global: true, RunType: Unique}, true))

	require.NoError(t, a.Merge(b))
	_, ok := a.GetBlock("a")
	require.True(t, ok)
	_, ok = a.GetBlock("b")
	require.True(t, ok)
}

func TestIRMergeCollision(t *testing.T) {
	a := New()
	require.NoError(t, a.AddBlock("shared", Block{Global: true, RunType: Unique}, true))
	b := New()
	require.NoError(t, b.AddBlock("shared", Block{Global: true, RunType: Once}, true))

	err := a.Merge(b)
	require.Error(t, err)
}

func TestHasDirective(t *testing.T) {
	program := New()
	program.Annotations["f"] = "@unsafe(inline)\nsome other line"
	require.True(t, program.HasDirective("f", "@unsafe(inline)"))
	require.False(t, program.HasDirective("f", "@no-inline"))
	require.False(t, program.HasDirective("missing", "@unsafe(inline)"))
}

func TestContentHashStable(t *testing.T) {
	block := Block{Global: true, RunType: Once, Code: []IRCode{
		PutValue(Number(1)),
		Call("+"),
		Return(),
	}}
	h1 := ContentHash("f", block)
	h2 := ContentHash("f", block)
	require.Equal(t, h1, h2)

	other := Block{Global: true, RunType: Once, Code: []IRCode{
		PutValue(Number(2)),
		Call("+"),
		Return(),
	}}
	require.NotEqual(t, h1, ContentHash("f", other))
}

func TestCodecRoundTrip(t *testing.T) {
	program := New()
	require.NoError(t, program.AddBlock("main", Block{
		Global:  true,
		RunType: Once,
		Code: []IRCode{
			PutValue(Number(42)),
			PutValue(String("hi")),
			PutValue(Boolean(true)),
			PutValue(Pointer(7)),
			PutValue(MakeBlock("main")),
			PutValue(Atom("ok")),
			PutValue(MakeException(Number(1))),
			LocalBlock("loop", Unique, []IRCode{
				Call("nop"),
				If("cond"),
				While("cond"),
				ReturnLocal(),
			}),
			Return(),
		},
	}, true))
	program.Annotations["main"] = "@unsafe(inline)"
	program.SourceMap["main"] = Position{File: "a.ena", Line: 1, Col: 1}

	for _, compress := range []bool{false, true} {
		enc, err := Encode(program, compress)
		require.NoError(t, err)

		decoded, err := Decode(enc)
		require.NoError(t, err)

		want := program.Blocks["main"]
		got := decoded.Blocks["main"]
		if diff := pretty.Compare(want, got); diff != "" {
			t.Errorf("round trip mismatch (compress=%v):\n%s", compress, diff)
		}
		require.Equal(t, program.Annotations, decoded.Annotations)
		require.Equal(t, program.SourceMap, decoded.SourceMap)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte{0, 1, 2, 3})
	require.Error(t, err)
}

func TestContentDigestDeterministic(t *testing.T) {
	program := New()
	require.NoError(t, program.AddBlock("main", Block{Global: true, RunType: Unique, Code: []IRCode{Return()}}, true))

	d1, err := ContentDigest(program)
	require.NoError(t, err)
	d2, err := ContentDigest(program)
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestLinkCollision(t *testing.T) {
	a := New()
	require.NoError(t, a.AddBlock("x", Block{Global: true, RunType: Unique}, true))
	b := New()
	require.NoError(t, b.AddBlock("x", Block{Global: true, RunType: Unique}, true))

	_, err := Link(a, b)
	require.Error(t, err)
}

func TestValidateUnknownBlock(t *testing.T) {
	program := New()
	require.NoError(t, program.AddBlock("main", Block{
		Global: true, RunType: Unique,
		Code: []IRCode{Call("does-not-exist"), Return()},
	}, true))

	errs := Validate(program, map[string]struct{}{})
	require.Len(t, errs, 1)
}
