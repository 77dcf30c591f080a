// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import "sync/atomic"

// bufferReleaser is the narrow slice of Session an ArenaBuffer needs: a way
// to queue the BC_FREE_BUFFER command that hands the buffer back to the
// kernel. Session implements it; tests can fake it without pulling in the
// whole session.
type bufferReleaser interface {
	releaseBuffer(ptr uintptr)
}

// ArenaBuffer is a move-only handle to a slice of the session's read-only
// mmap arena that the kernel allocated to hold one transaction's payload
// (spec §4.5 "Arena Buffer"). The kernel owns the memory until exactly one
// BC_FREE_BUFFER is sent back for it; ArenaBuffer makes that a one-shot
// operation regardless of how many times Release is called or whether the
// caller forgets to call it at all (the latter leaks the arena slot, it
// does not corrupt memory — but every code path that receives one must
// still call Release or Close on its owning carrier).
type ArenaBuffer struct {
	ptr      uintptr
	data     []byte
	offsets  []uintptr
	session  bufferReleaser
	released atomic.Bool
}

// newArenaBuffer wraps a view into the session's mmap arena. data and
// offsets must already be sliced from that arena (they alias kernel-owned
// memory until Release).
func newArenaBuffer(session bufferReleaser, ptr uintptr, data []byte, offsets []uintptr) *ArenaBuffer {
	return &ArenaBuffer{ptr: ptr, data: data, offsets: offsets, session: session}
}

// Data returns the transaction payload. The returned slice aliases the
// session's mmap arena and is only valid until Release is called.
func (b *ArenaBuffer) Data() []byte { return b.data }

// Offsets returns the object-reference offsets embedded in Data, decoded to
// native uintptr values.
func (b *ArenaBuffer) Offsets() []uintptr { return b.offsets }

// Release hands the buffer back to the kernel via BC_FREE_BUFFER. It is
// idempotent: only the first call has any effect, so a carrier's Close can
// call it unconditionally without double-freeing.
func (b *ArenaBuffer) Release() {
	if b.released.CompareAndSwap(false, true) {
		b.session.releaseBuffer(b.ptr)
	}
}
