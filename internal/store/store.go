// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package store is an on-disk, content-addressed cache of serialized IR
// envelopes. Keys are the blake2b content digest of the program, so a
// linked or optimized program is written once and found again as long as
// its inputs have not changed.
package store

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"

	"github.com/enalang/ena/ir"
)

// Store caches IR envelopes in a leveldb database.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Put writes program to the cache and returns its content key. Writing a
// program that is already present is a cheap overwrite of identical bytes.
func (s *Store) Put(program *ir.IR) ([32]byte, error) {
	key, err := ir.ContentDigest(program)
	if err != nil {
		return [32]byte{}, err
	}
	enc, err := ir.Encode(program, true)
	if err != nil {
		return [32]byte{}, err
	}
	if err := s.db.Put(key[:], enc, nil); err != nil {
		return [32]byte{}, fmt.Errorf("store: put: %w", err)
	}
	return key, nil
}

// Get loads the program cached under key, or (nil, false, nil) on a miss.
func (s *Store) Get(key [32]byte) (*ir.IR, bool, error) {
	enc, err := s.db.Get(key[:], nil)
	if err == errors.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get: %w", err)
	}
	program, err := ir.Decode(enc)
	if err != nil {
		return nil, false, fmt.Errorf("store: decode cached envelope: %w", err)
	}
	return program, true, nil
}

// Has reports whether key is present without decoding the envelope.
func (s *Store) Has(key [32]byte) (bool, error) {
	ok, err := s.db.Has(key[:], nil)
	if err != nil {
		return false, fmt.Errorf("store: has: %w", err)
	}
	return ok, nil
}
