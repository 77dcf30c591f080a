// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

// Writer accumulates a flat payload and the offsets of embedded object
// references within it — the external collaborator callers use to build the
// Data/Offsets pair a RemoteRequest or LocalReply carries (spec §6 "Output
// Data"). It does no wire-format interpretation of its own; higher-level
// parcel encodings live above this package.
type Writer struct {
	data    []byte
	offsets []uintptr
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// WriteBytes appends raw bytes to the payload.
func (w *Writer) WriteBytes(b []byte) *Writer {
	w.data = append(w.data, b...)
	return w
}

// WriteObject records the current write position as an object-reference
// offset, then appends ref (a flat_binder_object-shaped encoding built by
// the caller) at that position. The Command Loop passes the
// accumulated Offsets to the kernel so it can translate the embedded
// references for the receiving process.
func (w *Writer) WriteObject(ref []byte) *Writer {
	w.offsets = append(w.offsets, uintptr(len(w.data)))
	w.data = append(w.data, ref...)
	return w
}

// Len returns the number of payload bytes written so far.
func (w *Writer) Len() int { return len(w.data) }

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.data }

// Offsets returns the recorded object-reference offsets.
func (w *Writer) Offsets() []uintptr { return w.offsets }

// RemoteRequest is the caller-supplied description of an outgoing
// transaction addressed to a remote handle (spec §4.1, §6).
type RemoteRequest struct {
	Handle  uint32
	Code    uint32
	Oneway  bool
	Data    []byte
	Offsets []uintptr

	// ExtraBuffersSize, when non-zero, selects the BC_TRANSACTION_SG
	// wire form carrying this many bytes of out-of-line scatter-gather
	// buffers beyond Data.
	ExtraBuffersSize uintptr
}

// RemoteReply is the result of a successful Transact call: either a
// payload (wrapping the arena buffer the kernel allocated for it) or a
// status with no payload, as for a oneway call. Close must be called to
// release any underlying ArenaBuffer; it is safe to call when there is
// none, and calls after the first have no effect.
type RemoteReply struct {
	Status Status
	buffer *ArenaBuffer
}

// Data returns the reply payload, or nil if the reply carries no buffer
// (a status-only or failed reply).
func (r *RemoteReply) Data() []byte {
	if r.buffer == nil {
		return nil
	}
	return r.buffer.Data()
}

// Offsets returns the reply's embedded object-reference offsets.
func (r *RemoteReply) Offsets() []uintptr {
	if r.buffer == nil {
		return nil
	}
	return r.buffer.Offsets()
}

// Close releases the reply's arena buffer, if any.
func (r *RemoteReply) Close() {
	if r.buffer != nil {
		r.buffer.Release()
	}
}

// LocalRequest is an inbound transaction delivered to a registered
// LocalObject's Handler. Its payload lives in the session's mmap arena
// until Close releases it.
type LocalRequest struct {
	Code       uint32
	Flags      uint32
	SenderPID  int32
	SenderEUID uint32
	buffer     *ArenaBuffer
}

// Data returns the request payload, or nil if the transaction carried none.
func (r *LocalRequest) Data() []byte {
	if r.buffer == nil {
		return nil
	}
	return r.buffer.Data()
}

// Offsets returns the request's embedded object-reference offsets.
func (r *LocalRequest) Offsets() []uintptr {
	if r.buffer == nil {
		return nil
	}
	return r.buffer.Offsets()
}

// Oneway reports whether the peer expects no reply.
func (r *LocalRequest) Oneway() bool { return r.Flags&FlagOneway != 0 }

// Close releases the request's arena buffer, if any. The Command Loop calls
// this after a Handler returns, whether or not the Handler read Data.
func (r *LocalRequest) Close() {
	if r.buffer != nil {
		r.buffer.Release()
	}
}

// LocalReply is what a Handler returns from handling a LocalRequest: either
// a successful payload (Status zero or a positive application code) or a
// negative Status with no payload, which the Command Loop turns into a
// status-only BC_REPLY.
type LocalReply struct {
	Status  Status
	Data    []byte
	Offsets []uintptr
}
