// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binder implements the Driver Engine of an Android Binder IPC
// client library: the component that speaks the kernel's binder wire
// protocol directly over a /dev/binder-family character device.
//
// A Session opens a binder device node, negotiates its ABI (32- or
// 64-bit), and memory-maps the kernel's receive arena. A CommandLoop over
// a Session exposes Transact (a blocking, bounded call into a remote
// object) and Run (the steady-state looper pump that drains unsolicited
// driver traffic). Both drive the same frame dispatch, which decodes BR_* return frames
// from the kernel and encodes BC_* command frames back to it, dispatching
// reference-counting acknowledgements, inbound transactions, and death
// notifications to caller-supplied collaborators (ObjectRegistry,
// Handler, RPCProtocol).
//
// This package does not implement the higher-level Binder object model
// (parcels, typed arguments, the service manager protocol) — it provides
// the primitives those layers are built on: raw transaction payloads,
// object-reference offsets, and arena-buffer lifetime.
package binder
