// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import (
	"testing"
)

func abisUnderTest() []*ABI {
	return []*ABI{ABI32, ABI64}
}

func TestEncodeBareCommands(t *testing.T) {
	for _, abi := range abisUnderTest() {
		if got := IOCSize(binaryOp(EncodeEnterLooper(abi))); got != 0 {
			t.Errorf("%s: EnterLooper payload size = %d, want 0", abi.Name, got)
		}
		if got := IOCSize(binaryOp(EncodeExitLooper(abi))); got != 0 {
			t.Errorf("%s: ExitLooper payload size = %d, want 0", abi.Name, got)
		}
	}
}

func TestEncodeOpHandleRoundTrip(t *testing.T) {
	for _, abi := range abisUnderTest() {
		buf := EncodeIncRefs(abi, 42)
		if len(buf) != 8 {
			t.Fatalf("%s: EncodeIncRefs length = %d, want 8", abi.Name, len(buf))
		}
		if op := binaryOp(buf); op != abi.BC.IncRefs {
			t.Errorf("%s: opcode = 0x%x, want 0x%x", abi.Name, op, abi.BC.IncRefs)
		}
		handle := uint32(buf[4]) | uint32(buf[5])<<8 | uint32(buf[6])<<16 | uint32(buf[7])<<24
		if handle != 42 {
			t.Errorf("%s: handle = %d, want 42", abi.Name, handle)
		}
	}
}

func TestEncodeFreeBufferSize(t *testing.T) {
	for _, abi := range abisUnderTest() {
		buf := EncodeFreeBuffer(abi, 0x1000)
		if len(buf) != 4+abi.PointerSize {
			t.Fatalf("%s: EncodeFreeBuffer length = %d, want %d", abi.Name, len(buf), 4+abi.PointerSize)
		}
		if got := getUintPtr(buf[4:], abi); got != 0x1000 {
			t.Errorf("%s: ptr = 0x%x, want 0x1000", abi.Name, got)
		}
	}
}

func TestEncodeDecodePtrCookie(t *testing.T) {
	for _, abi := range abisUnderTest() {
		buf := EncodeIncRefsDone(abi, 0xaaaa, 0xbbbb)
		ptr, cookie := DecodePtrCookie(abi, buf[4:])
		if ptr != 0xaaaa || cookie != 0xbbbb {
			t.Errorf("%s: got (ptr=0x%x, cookie=0x%x), want (0xaaaa, 0xbbbb)", abi.Name, ptr, cookie)
		}
	}
}

func TestEncodeDeathNotificationPayloadSize(t *testing.T) {
	for _, abi := range abisUnderTest() {
		buf := EncodeRequestDeathNotification(abi, 7, 0xcafe)
		if got := IOCSize(binaryOp(buf)); got != deathNotificationSize(abi.PointerSize) {
			t.Errorf("%s: payload size = %d, want %d", abi.Name, got, deathNotificationSize(abi.PointerSize))
		}
	}
}

func TestEncodeDecodeTransaction(t *testing.T) {
	for _, abi := range abisUnderTest() {
		data := []byte("hello binder")
		offsets := []uintptr{4, 12}
		req := TransactionRequest{Handle: 3, Code: 1, Data: data, Offsets: offsets}

		enc := EncodeTransaction(abi, req)
		if op := binaryOp(enc.Frame); op != abi.BC.Transaction {
			t.Fatalf("%s: opcode = 0x%x, want BC_TRANSACTION", abi.Name, op)
		}

		td, err := DecodeTransaction(abi, enc.Frame[4:])
		if err != nil {
			t.Fatalf("%s: DecodeTransaction: %v", abi.Name, err)
		}
		if td.Target != 3 {
			t.Errorf("%s: Target = %d, want 3", abi.Name, td.Target)
		}
		if td.Code != 1 {
			t.Errorf("%s: Code = %d, want 1", abi.Name, td.Code)
		}
		if int(td.DataSize) != len(data) {
			t.Errorf("%s: DataSize = %d, want %d", abi.Name, td.DataSize, len(data))
		}
		if int(td.OffsetsSize) != len(offsets)*abi.PointerSize {
			t.Errorf("%s: OffsetsSize = %d, want %d", abi.Name, td.OffsetsSize, len(offsets)*abi.PointerSize)
		}
		if td.IsOneway() {
			t.Errorf("%s: IsOneway() = true, want false", abi.Name)
		}
	}
}

func TestEncodeTransactionSGHasExtraBuffersField(t *testing.T) {
	for _, abi := range abisUnderTest() {
		plain := EncodeTransaction(abi, TransactionRequest{})
		sg := EncodeTransactionSG(abi, TransactionRequest{ExtraBuffersSize: 256})
		if len(sg.Frame) != len(plain.Frame)+abi.PointerSize {
			t.Errorf("%s: BC_TRANSACTION_SG frame length = %d, want %d", abi.Name, len(sg.Frame), len(plain.Frame)+abi.PointerSize)
		}
	}
}

func TestEncodeReplyStatusCarriesStatusAndFlag(t *testing.T) {
	for _, abi := range abisUnderTest() {
		enc := EncodeReplyStatus(abi, int32(StatusBadMessage))
		if op := binaryOp(enc.Frame); op != abi.BC.Reply {
			t.Fatalf("%s: opcode = 0x%x, want BC_REPLY", abi.Name, op)
		}
		if len(enc.Data) != 4 {
			t.Fatalf("%s: EncodeReplyStatus Data length = %d, want 4", abi.Name, len(enc.Data))
		}
		td, err := DecodeTransaction(abi, enc.Frame[4:])
		if err != nil {
			t.Fatalf("%s: DecodeTransaction: %v", abi.Name, err)
		}
		if !td.IsStatusOnly() {
			t.Errorf("%s: IsStatusOnly() = false, want true", abi.Name)
		}
		if int(td.DataSize) != 4 {
			t.Errorf("%s: DataSize = %d, want 4", abi.Name, td.DataSize)
		}
	}
}

func TestEncodeTransactionOnewayFlag(t *testing.T) {
	abi := ABI64
	enc := EncodeTransaction(abi, TransactionRequest{Flags: FlagOneway})
	td, err := DecodeTransaction(abi, enc.Frame[4:])
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	if !td.IsOneway() {
		t.Error("IsOneway() = false, want true")
	}
}

func TestDecodeTransactionShortPayload(t *testing.T) {
	_, err := DecodeTransaction(ABI64, make([]byte, 4))
	if err == nil {
		t.Fatal("expected an error for a short transaction payload")
	}
}

// binaryOp reads the 4-byte little-endian opcode at the front of an
// encoded frame — every Wire Codec frame starts this way.
func binaryOp(frame []byte) uint32 {
	return uint32(frame[0]) | uint32(frame[1])<<8 | uint32(frame[2])<<16 | uint32(frame[3])<<24
}
