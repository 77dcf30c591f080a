// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import (
	"encoding/binary"
	"unicode/utf16"
)

// RPCProtocol describes how an interface token is written at the front of
// an outgoing transaction's payload. The two device nodes Binder exposes —
// /dev/binder (AIDL) and /dev/hwbinder (HIDL) — disagree on this encoding,
// so a Session picks its protocol from the device path it opened rather
// than hard-coding one (spec §4.1 "RPC Protocol Descriptor").
type RPCProtocol interface {
	// Name identifies the protocol for logging ("aidl", "hidl").
	Name() string

	// WriteHeader appends the interface token for iface to w, ahead of
	// the caller's own payload.
	WriteHeader(w *Writer, iface string) error
}

// strictModeHeader is the sentinel Parcel.writeInterfaceToken prepends
// ahead of the interface descriptor on the AIDL wire format.
const strictModeHeader uint32 = 0x7fffffff

type aidlProtocol struct{}

func (aidlProtocol) Name() string { return "aidl" }

// WriteHeader writes the strict-mode policy header followed by the
// interface descriptor as a length-prefixed, NUL-terminated UTF-16LE
// string — the layout android.os.Parcel uses for writeInterfaceToken.
func (aidlProtocol) WriteHeader(w *Writer, iface string) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], strictModeHeader)
	w.WriteBytes(lenBuf[:])

	units := utf16.Encode([]rune(iface))
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(units)))
	w.WriteBytes(lenBuf[:])

	buf := make([]byte, 2*(len(units)+1)) // +1 for the trailing NUL unit
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2*i:], u)
	}
	w.WriteBytes(buf)
	return nil
}

type hidlProtocol struct{}

func (hidlProtocol) Name() string { return "hidl" }

// WriteHeader writes the interface descriptor as a plain NUL-terminated
// UTF-8 string, with no strict-mode header — the simpler token format
// libhwbinder uses on /dev/hwbinder.
func (hidlProtocol) WriteHeader(w *Writer, iface string) error {
	w.WriteBytes([]byte(iface))
	w.WriteBytes([]byte{0})
	return nil
}

// AIDLProtocol and HIDLProtocol are the two built-in RPCProtocol
// implementations.
var (
	AIDLProtocol RPCProtocol = aidlProtocol{}
	HIDLProtocol RPCProtocol = hidlProtocol{}
)

// defaultDevicePath is the device Open uses when a Config doesn't specify
// one.
const defaultDevicePath = "/dev/binder"

// ProtocolForDevicePath picks the RPCProtocol conventionally associated
// with a binder device node: /dev/hwbinder speaks HIDL; everything else,
// /dev/vndbinder included, is assumed to speak AIDL.
func ProtocolForDevicePath(path string) RPCProtocol {
	switch path {
	case "/dev/hwbinder":
		return HIDLProtocol
	default:
		return AIDLProtocol
	}
}
