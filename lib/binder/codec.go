// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Transaction flags, carried in binder_transaction_data.flags. Values match
// the historical Binder wire protocol (TF_ONE_WAY, TF_STATUS_CODE) so a
// capture from this package lines up with any other Binder implementation's
// trace.
const (
	// FlagOneway marks a transaction that expects no BC_REPLY — the
	// kernel completes it with BR_TRANSACTION_COMPLETE instead.
	FlagOneway uint32 = 0x01

	// FlagStatusCode marks a BC_REPLY/BR_REPLY whose Data is a 4-byte
	// status code rather than an application payload — the status-only
	// reply form used to fail a transaction without a full parcel.
	FlagStatusCode uint32 = 0x08
)

func putUintPtr(b []byte, abi *ABI, v uintptr) {
	if abi.PointerSize == 8 {
		binary.LittleEndian.PutUint64(b, uint64(v))
	} else {
		binary.LittleEndian.PutUint32(b, uint32(v))
	}
}

func getUintPtr(b []byte, abi *ABI) uintptr {
	if abi.PointerSize == 8 {
		return uintptr(binary.LittleEndian.Uint64(b))
	}
	return uintptr(binary.LittleEndian.Uint32(b))
}

func encodeBare(op uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, op)
	return buf
}

// EncodeEnterLooper builds a BC_ENTER_LOOPER command, sent once by a thread
// before it starts pumping Read (spec §4.6).
func EncodeEnterLooper(abi *ABI) []byte { return encodeBare(abi.BC.EnterLooper) }

// EncodeExitLooper builds a BC_EXIT_LOOPER command, sent once by a thread
// permanently leaving its read loop.
func EncodeExitLooper(abi *ABI) []byte { return encodeBare(abi.BC.ExitLooper) }

func encodeOpHandle(op, handle uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], op)
	binary.LittleEndian.PutUint32(buf[4:8], handle)
	return buf
}

// EncodeIncRefs builds a BC_INCREFS command for a remote handle.
func EncodeIncRefs(abi *ABI, handle uint32) []byte { return encodeOpHandle(abi.BC.IncRefs, handle) }

// EncodeDecRefs builds a BC_DECREFS command for a remote handle.
func EncodeDecRefs(abi *ABI, handle uint32) []byte { return encodeOpHandle(abi.BC.DecRefs, handle) }

// EncodeAcquire builds a BC_ACQUIRE command for a remote handle.
func EncodeAcquire(abi *ABI, handle uint32) []byte { return encodeOpHandle(abi.BC.Acquire, handle) }

// EncodeRelease builds a BC_RELEASE command for a remote handle.
func EncodeRelease(abi *ABI, handle uint32) []byte { return encodeOpHandle(abi.BC.Release, handle) }

// EncodeFreeBuffer builds the BC_FREE_BUFFER command that releases an arena
// buffer back to the kernel — issued exactly once per non-nil ArenaBuffer
// (spec §4.5 invariant).
func EncodeFreeBuffer(abi *ABI, ptr uintptr) []byte {
	buf := make([]byte, 4+abi.PointerSize)
	binary.LittleEndian.PutUint32(buf[0:4], abi.BC.FreeBuffer)
	putUintPtr(buf[4:], abi, ptr)
	return buf
}

func encodePtrCookie(op uint32, abi *ABI, ptr, cookie uintptr) []byte {
	buf := make([]byte, 4+2*abi.PointerSize)
	binary.LittleEndian.PutUint32(buf[0:4], op)
	putUintPtr(buf[4:], abi, ptr)
	putUintPtr(buf[4+abi.PointerSize:], abi, cookie)
	return buf
}

// EncodeIncRefsDone builds a BC_INCREFS_DONE acknowledgement for a local
// object the kernel asked this process to strong/weak-reference.
func EncodeIncRefsDone(abi *ABI, ptr, cookie uintptr) []byte {
	return encodePtrCookie(abi.BC.IncRefsDone, abi, ptr, cookie)
}

// EncodeAcquireDone builds a BC_ACQUIRE_DONE acknowledgement.
func EncodeAcquireDone(abi *ABI, ptr, cookie uintptr) []byte {
	return encodePtrCookie(abi.BC.AcquireDone, abi, ptr, cookie)
}

func encodeDeathNotification(op uint32, abi *ABI, handle uint32, cookie uintptr) []byte {
	// struct binder_handle_cookie is __packed: no inter-field padding.
	buf := make([]byte, 4+4+abi.PointerSize)
	binary.LittleEndian.PutUint32(buf[0:4], op)
	binary.LittleEndian.PutUint32(buf[4:8], handle)
	putUintPtr(buf[8:], abi, cookie)
	return buf
}

// EncodeRequestDeathNotification builds a BC_REQUEST_DEATH_NOTIFICATION
// command. cookie is returned verbatim in the matching BR_DEAD_BINDER so the
// caller can look up which remote object died.
func EncodeRequestDeathNotification(abi *ABI, handle uint32, cookie uintptr) []byte {
	return encodeDeathNotification(abi.BC.RequestDeathNotification, abi, handle, cookie)
}

// EncodeClearDeathNotification builds a BC_CLEAR_DEATH_NOTIFICATION command.
func EncodeClearDeathNotification(abi *ABI, handle uint32, cookie uintptr) []byte {
	return encodeDeathNotification(abi.BC.ClearDeathNotification, abi, handle, cookie)
}

// TransactionRequest carries the fields needed to build a BC_TRANSACTION,
// BC_TRANSACTION_SG, BC_REPLY, or BC_REPLY_SG frame. Handle and Code are
// ignored when building a reply.
type TransactionRequest struct {
	Handle           uint32
	Code             uint32
	Flags            uint32
	Data             []byte
	Offsets          []uintptr
	ExtraBuffersSize uintptr // >0 selects the transaction_data_sg layout
}

// EncodedTransaction is a built BC_TRANSACTION-family frame plus the backing
// memory for its offsets array. The kernel reads Offsets by the address
// embedded in Frame, not by value — callers must keep both Frame's backing
// Data and Offsets referenced (e.g. via runtime.KeepAlive after the
// BINDER_WRITE_READ syscall that consumes Frame returns) so the garbage
// collector has no reason to believe they are unreachable mid-syscall.
type EncodedTransaction struct {
	Frame   []byte
	Data    []byte // the payload Frame's data pointer field refers to
	Offsets []byte
}

// EncodeTransaction builds a BC_TRANSACTION frame addressed to req.Handle.
func EncodeTransaction(abi *ABI, req TransactionRequest) EncodedTransaction {
	return encodeTransactionFrame(abi, abi.BC.Transaction, req, false)
}

// EncodeTransactionSG builds a BC_TRANSACTION_SG frame for a transaction
// that also transfers scatter-gather (out-of-line) buffers.
func EncodeTransactionSG(abi *ABI, req TransactionRequest) EncodedTransaction {
	return encodeTransactionFrame(abi, abi.BC.TransactionSG, req, true)
}

// EncodeReply builds a BC_REPLY frame. Handle and Code are meaningless for
// a reply and are zeroed regardless of what req carries.
func EncodeReply(abi *ABI, req TransactionRequest) EncodedTransaction {
	req.Handle, req.Code = 0, 0
	return encodeTransactionFrame(abi, abi.BC.Reply, req, false)
}

// EncodeReplySG builds a BC_REPLY_SG frame.
func EncodeReplySG(abi *ABI, req TransactionRequest) EncodedTransaction {
	req.Handle, req.Code = 0, 0
	return encodeTransactionFrame(abi, abi.BC.ReplySG, req, true)
}

// EncodeReplyStatus builds a status-only BC_REPLY: a normal reply frame
// whose Data is a 4-byte status code and whose Flags carry
// FlagStatusCode, mirroring how Binder fails a transaction without
// constructing a full parcel.
func EncodeReplyStatus(abi *ABI, status int32) EncodedTransaction {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(status))
	return EncodeReply(abi, TransactionRequest{Flags: FlagStatusCode, Data: data})
}

func encodeTransactionFrame(abi *ABI, op uint32, req TransactionRequest, sg bool) EncodedTransaction {
	headerSize := transactionHeaderSize(abi.PointerSize)
	if sg {
		headerSize = transactionSGHeaderSize(abi.PointerSize)
	}
	frame := make([]byte, 4+headerSize)
	binary.LittleEndian.PutUint32(frame[0:4], op)
	body := frame[4:]

	offsetsBuf := encodeOffsets(abi, req.Offsets)

	var dataPtr, offsetsPtr uintptr
	if len(req.Data) > 0 {
		dataPtr = uintptr(unsafe.Pointer(&req.Data[0]))
	}
	if len(offsetsBuf) > 0 {
		offsetsPtr = uintptr(unsafe.Pointer(&offsetsBuf[0]))
	}

	ps := abi.PointerSize
	off := 0
	putUintPtr(body[off:], abi, uintptr(req.Handle))
	off += ps
	putUintPtr(body[off:], abi, 0) // cookie: unused on the write side
	off += ps
	binary.LittleEndian.PutUint32(body[off:], req.Code)
	off += 4
	binary.LittleEndian.PutUint32(body[off:], req.Flags)
	off += 4
	binary.LittleEndian.PutUint32(body[off:], 0) // sender_pid: filled by the kernel
	off += 4
	binary.LittleEndian.PutUint32(body[off:], 0) // sender_euid: filled by the kernel
	off += 4
	putUintPtr(body[off:], abi, uintptr(len(req.Data)))
	off += ps
	putUintPtr(body[off:], abi, uintptr(len(offsetsBuf)))
	off += ps
	putUintPtr(body[off:], abi, dataPtr)
	off += ps
	putUintPtr(body[off:], abi, offsetsPtr)
	off += ps
	if sg {
		putUintPtr(body[off:], abi, req.ExtraBuffersSize)
		off += ps
	}

	return EncodedTransaction{Frame: frame, Data: req.Data, Offsets: offsetsBuf}
}

func encodeOffsets(abi *ABI, offsets []uintptr) []byte {
	if len(offsets) == 0 {
		return nil
	}
	buf := make([]byte, len(offsets)*abi.PointerSize)
	for i, o := range offsets {
		putUintPtr(buf[i*abi.PointerSize:], abi, o)
	}
	return buf
}

// DecodeCookie reads a lone pointer-sized cookie, the payload shape of
// BR_DEAD_BINDER and BR_CLEAR_DEATH_NOTIFICATION_DONE.
func DecodeCookie(abi *ABI, payload []byte) uintptr {
	return getUintPtr(payload, abi)
}

// DecodePtrCookie reads a (ptr, cookie) pair, the payload shape of
// BR_INCREFS/BR_ACQUIRE/BR_RELEASE/BR_DECREFS.
func DecodePtrCookie(abi *ABI, payload []byte) (ptr, cookie uintptr) {
	ps := abi.PointerSize
	ptr = getUintPtr(payload[0:ps], abi)
	cookie = getUintPtr(payload[ps:2*ps], abi)
	return ptr, cookie
}

// TransactionData is the decoded form of struct binder_transaction_data,
// common to BR_TRANSACTION and BR_REPLY.
type TransactionData struct {
	// Target is the frame's target field: the remote handle on an
	// outgoing transaction, or the local object's ptr on an inbound
	// BR_TRANSACTION. The Command Loop routes inbound transactions by
	// Cookie, not by Target.
	Target      uintptr
	Cookie      uintptr
	Code        uint32
	Flags       uint32
	SenderPID   int32
	SenderEUID  uint32
	DataSize    uintptr
	OffsetsSize uintptr
	DataPtr     uintptr
	OffsetsPtr  uintptr
}

// IsOneway reports whether the transaction carries FlagOneway.
func (t *TransactionData) IsOneway() bool { return t.Flags&FlagOneway != 0 }

// IsStatusOnly reports whether the transaction is a status-only reply
// (FlagStatusCode), whose DataPtr points at a 4-byte status rather than an
// application payload.
func (t *TransactionData) IsStatusOnly() bool { return t.Flags&FlagStatusCode != 0 }

// DecodeTransaction decodes a BR_TRANSACTION/BR_REPLY payload. DataPtr and
// OffsetsPtr point into the session's mmap'd receive arena, not into
// payload — the caller reads them via the ArenaBuffer that wraps that
// arena, never by dereferencing the raw pointers directly.
func DecodeTransaction(abi *ABI, payload []byte) (TransactionData, error) {
	want := transactionHeaderSize(abi.PointerSize)
	if len(payload) < want {
		return TransactionData{}, fmt.Errorf("binder: short transaction payload: got %d bytes, want %d", len(payload), want)
	}
	ps := abi.PointerSize
	var td TransactionData
	off := 0
	td.Target = getUintPtr(payload[off:off+ps], abi)
	off += ps
	td.Cookie = getUintPtr(payload[off:off+ps], abi)
	off += ps
	td.Code = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	td.Flags = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	td.SenderPID = int32(binary.LittleEndian.Uint32(payload[off:]))
	off += 4
	td.SenderEUID = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	td.DataSize = getUintPtr(payload[off:off+ps], abi)
	off += ps
	td.OffsetsSize = getUintPtr(payload[off:off+ps], abi)
	off += ps
	td.DataPtr = getUintPtr(payload[off:off+ps], abi)
	off += ps
	td.OffsetsPtr = getUintPtr(payload[off:off+ps], abi)
	return td, nil
}
