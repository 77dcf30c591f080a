// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import (
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// TraceRecord is one decoded BC_*/BR_* frame, serialized to a Tracer's sink
// when tracing is enabled — a structured replacement for the hex-dump-under-
// a-compile-time-flag debugging spec §9 describes.
type TraceRecord struct {
	UnixNano      int64  `cbor:"ts"`
	Direction     string `cbor:"dir"` // "bc" (userspace -> kernel) or "br" (kernel -> userspace)
	Opcode        string `cbor:"op"`
	CorrelationID string `cbor:"cid,omitempty"`
}

// Tracer serializes TraceRecords as a CBOR sequence to a sink (typically a
// file opened by cmd/binder-inspector). A nil *Tracer is valid: every
// method is a no-op, so a CommandLoop can hold one unconditionally instead
// of branching on whether tracing is enabled.
type Tracer struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewTracer returns a Tracer that writes one CBOR-encoded TraceRecord per
// event to w.
func NewTracer(w io.Writer) *Tracer {
	return &Tracer{enc: cbor.NewEncoder(w)}
}

func (t *Tracer) record(dir, opcode, cid string) {
	if t == nil {
		return
	}
	rec := TraceRecord{
		UnixNano:      time.Now().UnixNano(),
		Direction:     dir,
		Opcode:        opcode,
		CorrelationID: cid,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	// Best-effort: a broken trace sink must never fail the transaction
	// it is merely observing.
	_ = t.enc.Encode(rec)
}

// TraceCommand records an outgoing BC_* frame.
func (t *Tracer) TraceCommand(abi *ABI, op uint32, correlationID string) {
	t.record("bc", abi.BCName(op), correlationID)
}

// TraceReturn records an incoming BR_* frame.
func (t *Tracer) TraceReturn(abi *ABI, op uint32, correlationID string) {
	t.record("br", abi.BRName(op), correlationID)
}

// NewCorrelationID returns a fresh ID for one Transact call, so interleaved
// transactions on the same Command Loop (spec §4.4's re-entrance) can be
// told apart in a trace dump or log stream.
func NewCorrelationID() string {
	return uuid.NewString()
}
