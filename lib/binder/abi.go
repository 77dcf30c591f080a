// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import "fmt"

// protocolVersion32/64 are the BINDER_VERSION values a kernel reports for
// the 32- and 64-bit transaction ABIs — the 64-bit pointer layout shipped
// as a protocol bump over the original 32-bit one, so the two are
// distinguishable by version number alone.
const (
	protocolVersion32 int32 = 7
	protocolVersion64 int32 = 8
)

// ABI is a static, process-lifetime descriptor of one binder transaction
// ABI (32- or 64-bit pointers). Session construction selects one of
// ABI32 or ABI64 by matching the kernel's reported BINDER_VERSION; every
// subsequent encode/decode call in this package is parameterized by the
// selected ABI so the same Command Loop code handles both without
// branching on pointer width.
type ABI struct {
	// Name identifies the ABI for logging ("binder32", "binder64").
	Name string

	// PointerSize is 4 or 8: the width of binder_uintptr_t on this ABI.
	PointerSize int

	// Version is the BINDER_VERSION value that selects this ABI.
	Version int32

	BC BCOpcodes
	BR BROpcodes
}

// ABI32 and ABI64 are the two fixed ABI descriptors the Driver Engine
// chooses between. They are immutable after package initialization.
var (
	ABI32 = &ABI{
		Name:        "binder32",
		PointerSize: 4,
		Version:     protocolVersion32,
		BC:          newBCOpcodes(4),
		BR:          newBROpcodes(4),
	}
	ABI64 = &ABI{
		Name:        "binder64",
		PointerSize: 8,
		Version:     protocolVersion64,
		BC:          newBCOpcodes(8),
		BR:          newBROpcodes(8),
	}
)

// SelectABI returns the ABI descriptor whose Version matches the
// integer the kernel reported via BINDER_VERSION. Returns
// ErrUnsupportedVersion if neither descriptor matches — the open is
// abandoned in that case (spec: "the open is abandoned").
func SelectABI(version int32) (*ABI, error) {
	switch version {
	case ABI32.Version:
		return ABI32, nil
	case ABI64.Version:
		return ABI64, nil
	default:
		return nil, fmt.Errorf("%w: kernel reported version %d", ErrUnsupportedVersion, version)
	}
}

// BCName returns the human-readable name of a BC_* opcode for logging
// and tracing, or a hex fallback for an opcode this ABI doesn't know.
func (a *ABI) BCName(op uint32) string {
	switch op {
	case a.BC.EnterLooper:
		return "BC_ENTER_LOOPER"
	case a.BC.ExitLooper:
		return "BC_EXIT_LOOPER"
	case a.BC.IncRefs:
		return "BC_INCREFS"
	case a.BC.DecRefs:
		return "BC_DECREFS"
	case a.BC.Acquire:
		return "BC_ACQUIRE"
	case a.BC.Release:
		return "BC_RELEASE"
	case a.BC.FreeBuffer:
		return "BC_FREE_BUFFER"
	case a.BC.IncRefsDone:
		return "BC_INCREFS_DONE"
	case a.BC.AcquireDone:
		return "BC_ACQUIRE_DONE"
	case a.BC.RequestDeathNotification:
		return "BC_REQUEST_DEATH_NOTIFICATION"
	case a.BC.ClearDeathNotification:
		return "BC_CLEAR_DEATH_NOTIFICATION"
	case a.BC.Transaction:
		return "BC_TRANSACTION"
	case a.BC.Reply:
		return "BC_REPLY"
	case a.BC.TransactionSG:
		return "BC_TRANSACTION_SG"
	case a.BC.ReplySG:
		return "BC_REPLY_SG"
	default:
		return fmt.Sprintf("BC_UNKNOWN(0x%08x)", op)
	}
}

// BRName returns the human-readable name of a BR_* opcode.
func (a *ABI) BRName(op uint32) string {
	switch op {
	case a.BR.Noop:
		return "BR_NOOP"
	case a.BR.OK:
		return "BR_OK"
	case a.BR.SpawnLooper:
		return "BR_SPAWN_LOOPER"
	case a.BR.Finished:
		return "BR_FINISHED"
	case a.BR.ClearDeathNotificationDone:
		return "BR_CLEAR_DEATH_NOTIFICATION_DONE"
	case a.BR.IncRefs:
		return "BR_INCREFS"
	case a.BR.Acquire:
		return "BR_ACQUIRE"
	case a.BR.DecRefs:
		return "BR_DECREFS"
	case a.BR.Release:
		return "BR_RELEASE"
	case a.BR.Transaction:
		return "BR_TRANSACTION"
	case a.BR.TransactionComplete:
		return "BR_TRANSACTION_COMPLETE"
	case a.BR.DeadReply:
		return "BR_DEAD_REPLY"
	case a.BR.FailedReply:
		return "BR_FAILED_REPLY"
	case a.BR.Reply:
		return "BR_REPLY"
	case a.BR.DeadBinder:
		return "BR_DEAD_BINDER"
	default:
		return fmt.Sprintf("BR_UNKNOWN(0x%08x)", op)
	}
}
