// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import "unsafe"

// uintptrOf returns the address of b's first byte. b must be non-empty and
// must outlive any syscall the caller passes this address to — the
// standard unsafe.Pointer-to-uintptr caveat applies, so callers keep b
// referenced (e.g. via runtime.KeepAlive) past the point where they stop
// touching it directly.
func uintptrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
