// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fakedriver implements binder.KernelIO entirely in process,
// standing in for /dev/binder so the Command Loop and Session can be
// exercised in tests without root or a real Binder-capable kernel. A test
// scripts it by queuing raw BR_* frames with QueueReturn and allocating
// arena-backed payloads with Alloc, then inspects what was written with
// Written.
package fakedriver

import (
	"context"
	"sync"
	"unsafe"
)

// IOBuf mirrors binder.IOBuf's shape without importing the binder package,
// to keep this package free to be imported by binder's own tests without a
// cycle. binder.IOBuf and this type have identical memory layout, which is
// all WriteRead's unsafe pointer arithmetic relies on.
type IOBuf struct {
	Ptr      uintptr
	Size     uintptr
	Consumed uintptr
}

// PollResult mirrors binder.PollResult.
type PollResult struct {
	Readable bool
	Error    bool
	HungUp   bool
	Invalid  bool
}

const arenaCapacity = 1 << 16

// Driver is a scriptable fake implementing the same method set as
// binder.KernelIO (Version/SetMaxThreads/WriteRead/Poll/Arena/Close),
// parameterized over IOBuf/PollResult instead of binder's types so it has
// no import-cycle dependency on the binder package; loop_test.go wraps
// it behind a thin adapter satisfying binder.KernelIO exactly.
type Driver struct {
	mu sync.Mutex

	version    int32
	maxThreads int
	closed     bool

	arena     [arenaCapacity]byte
	arenaNext uintptr

	pending [][]byte // BR_* frames waiting to be delivered by WriteRead
	written [][]byte // raw write-half bytes captured from each WriteRead call

	readable chan struct{}
}

// New returns a Driver that will report version from Version/SelectABI.
func New(version int32) *Driver {
	return &Driver{version: version, readable: make(chan struct{}, 1)}
}

// Version implements the Version half of KernelIO.
func (d *Driver) Version() (int32, error) {
	return d.version, nil
}

// SetMaxThreads records the requested ceiling for inspection by tests.
func (d *Driver) SetMaxThreads(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxThreads = n
	return nil
}

// MaxThreads returns the last value passed to SetMaxThreads.
func (d *Driver) MaxThreads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxThreads
}

// Alloc copies data into the fake receive arena and returns its address,
// for building BR_TRANSACTION/BR_REPLY payloads whose data/offsets
// pointers must resolve into Arena().
func (d *Driver) Alloc(data []byte) uintptr {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := d.arenaNext
	n := uintptr(copy(d.arena[start:], data))
	d.arenaNext += n
	return uintptr(unsafe.Pointer(&d.arena[start]))
}

// QueueReturn enqueues a raw BR_* frame (opcode + payload, exactly as
// ReadBuffer.Next would parse it back out) to be delivered on some future
// WriteRead call.
func (d *Driver) QueueReturn(frame []byte) {
	d.mu.Lock()
	d.pending = append(d.pending, frame)
	d.mu.Unlock()
	select {
	case d.readable <- struct{}{}:
	default:
	}
}

// Written returns the raw write-half byte slices captured across every
// WriteRead call so far, one entry per call.
func (d *Driver) Written() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.written))
	copy(out, d.written)
	return out
}

// WriteRead captures the write half and appends as many queued frames as
// fit into the read half, mirroring the kernel's append-after-residual
// convention (read.Consumed on entry is the caller's residual byte count).
func (d *Driver) WriteRead(write, read *IOBuf) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if write.Size > 0 {
		src := unsafe.Slice((*byte)(unsafe.Pointer(write.Ptr)), write.Size)
		blob := make([]byte, len(src))
		copy(blob, src)
		d.written = append(d.written, blob)
	}
	write.Consumed = write.Size

	dst := unsafe.Slice((*byte)(unsafe.Pointer(read.Ptr)), read.Size)
	offset := read.Consumed
	for len(d.pending) > 0 {
		frame := d.pending[0]
		if offset+uintptr(len(frame)) > read.Size {
			break
		}
		copy(dst[offset:], frame)
		offset += uintptr(len(frame))
		d.pending = d.pending[1:]
	}
	read.Consumed = offset

	return nil
}

// Poll reports readable as soon as a frame is queued, or blocks until ctx
// is done.
func (d *Driver) Poll(ctx context.Context) (PollResult, error) {
	d.mu.Lock()
	hasPending := len(d.pending) > 0
	d.mu.Unlock()
	if hasPending {
		return PollResult{Readable: true}, nil
	}
	select {
	case <-d.readable:
		return PollResult{Readable: true}, nil
	case <-ctx.Done():
		return PollResult{}, ctx.Err()
	}
}

// Arena returns the fake receive arena backing Alloc'd payloads.
func (d *Driver) Arena() []byte {
	return d.arena[:]
}

// Close marks the fake closed; further use is a test bug, not guarded
// against defensively.
func (d *Driver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
