// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package supervisor hosts multiple VM instances, each with its own
// stack, heap, and scope manager, and delivers message-style values to a
// per-VM mailbox. VMs address each other by the opaque ThreadID assigned
// at supervise time. There is no shared heap between VMs; a message
// carries the value itself.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/enalang/ena/ir"
	"github.com/enalang/ena/vm"
)

// ThreadID addresses one supervised VM.
type ThreadID uint32

// ErrUnknownThread is returned when a message or run targets a ThreadID
// the supervisor has never issued.
type ErrUnknownThread struct{ ID ThreadID }

func (e *ErrUnknownThread) Error() string { return fmt.Sprintf("supervisor: unknown thread %d", e.ID) }

// Message is one mailbox entry.
type Message struct {
	From    ThreadID
	Content ir.Value
}

type thread struct {
	vm    *vm.VM
	entry string

	mu      sync.Mutex
	mailbox []Message
}

// Supervisor is a registry of VMs and their mailboxes. Mailboxes are
// unbounded; delivery is FIFO per (sender, receiver) pair.
type Supervisor struct {
	mu        sync.Mutex
	threads   map[ThreadID]*thread
	increment ThreadID
}

// New returns an empty Supervisor.
func New() *Supervisor {
	return &Supervisor{threads: make(map[ThreadID]*thread)}
}

// Supervise registers machine under a fresh ThreadID; entry is the block
// Run will start it at.
func (s *Supervisor) Supervise(machine *vm.VM, entry string) ThreadID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.increment++
	id := s.increment
	s.threads[id] = &thread{vm: machine, entry: entry}
	return id
}

// Send appends value to the mailbox of thread to.
func (s *Supervisor) Send(to, from ThreadID, value ir.Value) error {
	s.mu.Lock()
	t, ok := s.threads[to]
	s.mu.Unlock()
	if !ok {
		return &ErrUnknownThread{ID: to}
	}
	t.mu.Lock()
	t.mailbox = append(t.mailbox, Message{From: from, Content: value})
	t.mu.Unlock()
	return nil
}

// Recv removes and returns the oldest message in id's mailbox.
func (s *Supervisor) Recv(id ThreadID) (Message, bool, error) {
	s.mu.Lock()
	t, ok := s.threads[id]
	s.mu.Unlock()
	if !ok {
		return Message{}, false, &ErrUnknownThread{ID: id}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.mailbox) == 0 {
		return Message{}, false, nil
	}
	msg := t.mailbox[0]
	t.mailbox = t.mailbox[1:]
	return msg, true, nil
}

// Thread returns the VM supervised under id, for callers that need to
// drive a single thread directly.
func (s *Supervisor) Thread(id ThreadID) (*vm.VM, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, false
	}
	return t.vm, true
}

// RunThread runs one supervised VM to completion at its entry block.
func (s *Supervisor) RunThread(id ThreadID) (ir.Value, error) {
	s.mu.Lock()
	t, ok := s.threads[id]
	s.mu.Unlock()
	if !ok {
		return ir.Value{}, &ErrUnknownThread{ID: id}
	}
	return t.vm.Run(t.entry)
}

// Run starts every supervised VM concurrently and waits for all of them,
// returning the first error. The context cancels the join, not a running
// VM: the interpreter loop never suspends, so a stuck thread must be
// interrupted externally.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]ThreadID, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := s.RunThread(id)
			return err
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
