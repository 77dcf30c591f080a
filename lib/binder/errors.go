// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers. See spec §7 ("Error Handling
// Design") for the disposition of each.
var (
	// ErrUnsupportedVersion is returned by SelectABI (and therefore by
	// Open) when the kernel's BINDER_VERSION matches neither ABI32 nor
	// ABI64.
	ErrUnsupportedVersion = errors.New("binder: unsupported kernel ABI version")

	// ErrUnsupportedPlatform is returned by Open on platforms without a
	// binder character device.
	ErrUnsupportedPlatform = errors.New("binder: platform has no binder device")

	// ErrDeadObject is the status a pending Transact resolves to when
	// the kernel reports BR_DEAD_REPLY: the target process has exited.
	ErrDeadObject = errors.New("binder: dead object")

	// ErrFailedReply is the status a pending Transact resolves to when
	// the kernel reports BR_FAILED_REPLY.
	ErrFailedReply = errors.New("binder: failed reply")

	// ErrBadMessage is what Transact returns when the peer replies with
	// StatusBadMessage — the status this package itself replies with when
	// an inbound transaction's target object declines to handle it.
	ErrBadMessage = errors.New("binder: bad message")

	// ErrClosed is returned by Session methods called after Close.
	ErrClosed = errors.New("binder: session closed")
)

// Status mirrors the kernel's transaction status convention: zero or a
// positive value is success (the value itself is an application-defined
// return code); negative values are Binder/driver-level failures.
type Status int32

const (
	// StatusOK is the canonical successful transaction status.
	StatusOK Status = 0

	// statusPending is an internal "not yet decided" sentinel distinct
	// from every real kernel status. It is never returned to callers and
	// never observed on the wire; Transact does not use it, and tracks an
	// unresolved wait as a zero frameResult instead.
	statusPending Status = 1<<31 - 1

	// StatusDeadObject and StatusFailed are the fixed negative status
	// values produced for BR_DEAD_REPLY/BR_FAILED_REPLY, chosen to
	// match the historical Binder status codes used by Android's
	// libbinder (DEAD_OBJECT = -32, FAILED_TRANSACTION = -33 in AIDL's
	// binder_status_t numbering).
	StatusDeadObject Status = -32
	StatusFailed     Status = -33
	StatusBadMessage Status = -34
)

// DriverError wraps a negative, non-EAGAIN return from the kernel's
// BINDER_WRITE_READ ioctl — a fatal-for-this-call error per spec §6.
type DriverError struct {
	Errno int
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("binder: driver error (errno %d)", e.Errno)
}

// statusError converts a terminal Status into the matching sentinel
// error, or nil for success.
func statusError(status Status) error {
	switch {
	case status == StatusOK:
		return nil
	case status == StatusDeadObject:
		return ErrDeadObject
	case status == StatusFailed:
		return ErrFailedReply
	case status == StatusBadMessage:
		return ErrBadMessage
	case status < 0:
		return fmt.Errorf("binder: transaction failed with status %d", int32(status))
	default:
		// Positive statuses are application-defined success codes,
		// not errors — the caller inspects them via the returned
		// Status value.
		return nil
	}
}
