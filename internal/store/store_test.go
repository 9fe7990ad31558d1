// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package store

import (
	"path/filepath"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"

	"github.com/enalang/ena/ir"
)

func testProgram(t *testing.T) *ir.IR {
	t.Helper()
	program := ir.New()
	require.NoError(t, program.AddBlock("main", ir.Block{
		Global:  true,
		RunType: ir.Unique,
		Code: []ir.IRCode{
			ir.PutValue(ir.Number(2)),
			ir.PutValue(ir.Number(3)),
			ir.Call("+"),
		},
	}, true))
	program.Annotations["main"] = "entry"
	return program
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openStore(t)
	program := testProgram(t)

	key, err := s.Put(program)
	require.NoError(t, err)

	got, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := pretty.Compare(program.Annotations, got.Annotations); diff != "" {
		t.Errorf("annotations mismatch:\n%s", diff)
	}
	require.Len(t, got.Blocks, 1)
}

func TestGetMiss(t *testing.T) {
	s := openStore(t)
	_, ok, err := s.Get([32]byte{1, 2, 3})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasTracksPut(t *testing.T) {
	s := openStore(t)
	program := testProgram(t)

	key, err := ir.ContentDigest(program)
	require.NoError(t, err)

	ok, err := s.Has(key)
	require.NoError(t, err)
	require.False(t, ok)

	putKey, err := s.Put(program)
	require.NoError(t, err)
	require.Equal(t, key, putKey, "cache key is the content digest")

	ok, err = s.Has(key)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSameContentSameKey(t *testing.T) {
	s := openStore(t)

	k1, err := s.Put(testProgram(t))
	require.NoError(t, err)
	k2, err := s.Put(testProgram(t))
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}
