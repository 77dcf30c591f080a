// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

// Opcode encoding follows the Linux kernel's generic ioctl convention
// (include/uapi/asm-generic/ioctl.h): a 32-bit opcode packs a direction,
// a type character, a sequence number, and the size of the payload that
// follows. Binder commands (BC_*, written by userspace) use type 'c';
// return codes (BR_*, written by the kernel) use type 'r'. Because the
// payload size is embedded in the opcode itself, a reader can always
// tell how many bytes follow a 4-byte opcode without a separate length
// field — this is what makes frames in the Read Buffer self-delimiting.
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	bcType = 'c'
	brType = 'r'
)

// ioc builds an opcode from its direction, type character, sequence
// number, and payload size, mirroring the kernel's _IOC macro.
func ioc(dir uint32, typ byte, nr uint32, size int) uint32 {
	return (dir << iocDirShift) | (uint32(typ) << iocTypeShift) | (nr << iocNRShift) | (uint32(size) << iocSizeShift)
}

func iocW(typ byte, nr uint32, size int) uint32  { return ioc(iocWrite, typ, nr, size) }
func iocR(typ byte, nr uint32, size int) uint32  { return ioc(iocRead, typ, nr, size) }
func iocWR(typ byte, nr uint32, size int) uint32 { return ioc(iocWrite|iocRead, typ, nr, size) }
func ioc0(typ byte, nr uint32) uint32            { return ioc(iocNone, typ, nr, 0) }

// IOCSize extracts the payload size encoded in an opcode — the
// convention the whole Read Buffer / Command Loop frame-boundary logic
// depends on (spec: "Frame boundary" invariant).
func IOCSize(op uint32) int {
	return int((op >> iocSizeShift) & ((1 << iocSizeBits) - 1))
}

// BCOpcodes is the table of outgoing ("binder command") opcodes for one
// ABI. Sizes vary between the 32- and 64-bit ABIs because several
// payloads contain pointer-sized fields.
type BCOpcodes struct {
	EnterLooper              uint32
	ExitLooper               uint32
	IncRefs                  uint32
	DecRefs                  uint32
	Acquire                  uint32
	Release                  uint32
	FreeBuffer               uint32
	IncRefsDone              uint32
	AcquireDone              uint32
	RequestDeathNotification uint32
	ClearDeathNotification   uint32
	Transaction              uint32
	Reply                    uint32
	TransactionSG            uint32
	ReplySG                  uint32
}

// BROpcodes is the table of incoming ("binder return") opcodes for one
// ABI.
type BROpcodes struct {
	Noop                       uint32
	OK                         uint32
	SpawnLooper                uint32
	Finished                   uint32
	ClearDeathNotificationDone uint32
	IncRefs                    uint32
	Acquire                    uint32
	DecRefs                    uint32
	Release                    uint32
	Transaction                uint32
	TransactionComplete        uint32
	DeadReply                  uint32
	FailedReply                uint32
	Reply                      uint32
	DeadBinder                 uint32
}

// newBCOpcodes builds the BC_* table for a given pointer size, sizing
// each payload-carrying opcode the way the corresponding C struct would
// be sized for that ABI.
func newBCOpcodes(ptrSize int) BCOpcodes {
	ptrCookie := 2 * ptrSize
	return BCOpcodes{
		EnterLooper:              ioc0(bcType, 12),
		ExitLooper:               ioc0(bcType, 13),
		IncRefs:                  iocW(bcType, 4, 4),
		DecRefs:                  iocW(bcType, 7, 4),
		Acquire:                  iocW(bcType, 5, 4),
		Release:                  iocW(bcType, 6, 4),
		FreeBuffer:               iocW(bcType, 3, ptrSize),
		IncRefsDone:              iocW(bcType, 8, ptrCookie),
		AcquireDone:              iocW(bcType, 9, ptrCookie),
		RequestDeathNotification: iocW(bcType, 14, deathNotificationSize(ptrSize)),
		ClearDeathNotification:   iocW(bcType, 15, deathNotificationSize(ptrSize)),
		Transaction:              iocW(bcType, 0, transactionHeaderSize(ptrSize)),
		Reply:                    iocW(bcType, 1, transactionHeaderSize(ptrSize)),
		TransactionSG:            iocW(bcType, 17, transactionSGHeaderSize(ptrSize)),
		ReplySG:                  iocW(bcType, 18, transactionSGHeaderSize(ptrSize)),
	}
}

// newBROpcodes builds the BR_* table for a given pointer size.
func newBROpcodes(ptrSize int) BROpcodes {
	ptrCookie := 2 * ptrSize
	return BROpcodes{
		Noop:                       ioc0(brType, 12),
		OK:                         ioc0(brType, 1),
		SpawnLooper:                ioc0(brType, 13),
		Finished:                   ioc0(brType, 14),
		ClearDeathNotificationDone: iocR(brType, 16, ptrSize),
		IncRefs:                    iocR(brType, 7, ptrCookie),
		Acquire:                    iocR(brType, 8, ptrCookie),
		DecRefs:                    iocR(brType, 10, ptrCookie),
		Release:                    iocR(brType, 9, ptrCookie),
		Transaction:                iocR(brType, 2, transactionHeaderSize(ptrSize)),
		TransactionComplete:        ioc0(brType, 6),
		DeadReply:                  ioc0(brType, 5),
		FailedReply:                ioc0(brType, 17),
		Reply:                      iocR(brType, 3, transactionHeaderSize(ptrSize)),
		DeadBinder:                 iocR(brType, 15, ptrSize),
	}
}

// transactionHeaderSize returns sizeof(struct binder_transaction_data)
// for the given pointer width: six pointer-sized fields (target, cookie,
// data_size, offsets_size, data.buffer, data.offsets) plus four 32-bit
// fields (code, flags, sender_pid, sender_euid).
func transactionHeaderSize(ptrSize int) int {
	return 6*ptrSize + 16
}

// transactionSGHeaderSize adds the trailing buffers_size field that
// struct binder_transaction_data_sg appends after the plain header.
func transactionSGHeaderSize(ptrSize int) int {
	return transactionHeaderSize(ptrSize) + ptrSize
}

// deathNotificationSize returns sizeof(struct binder_handle_cookie):
// a packed (no padding) 32-bit handle followed by a pointer-sized
// cookie.
func deathNotificationSize(ptrSize int) int {
	return 4 + ptrSize
}
