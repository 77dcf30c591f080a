// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"
)

func TestProtocolForDevicePath(t *testing.T) {
	if ProtocolForDevicePath("/dev/hwbinder") != HIDLProtocol {
		t.Error("/dev/hwbinder should select HIDLProtocol")
	}
	if ProtocolForDevicePath("/dev/binder") != AIDLProtocol {
		t.Error("/dev/binder should select AIDLProtocol")
	}
	if ProtocolForDevicePath("/dev/vndbinder") != AIDLProtocol {
		t.Error("an unrecognized device path should default to AIDLProtocol")
	}
}

func TestAIDLWriteHeaderLayout(t *testing.T) {
	w := NewWriter()
	if err := AIDLProtocol.WriteHeader(w, "android.os.IServiceManager"); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	buf := w.Bytes()

	header := binary.LittleEndian.Uint32(buf[0:4])
	if header != strictModeHeader {
		t.Fatalf("strict-mode header = 0x%x, want 0x%x", header, strictModeHeader)
	}

	length := binary.LittleEndian.Uint32(buf[4:8])
	units := utf16.Encode([]rune("android.os.IServiceManager"))
	if int(length) != len(units) {
		t.Fatalf("descriptor length = %d, want %d", length, len(units))
	}

	wantBytes := 8 + 2*(len(units)+1)
	if len(buf) != wantBytes {
		t.Fatalf("total header length = %d, want %d", len(buf), wantBytes)
	}

	// The trailing UTF-16 unit is the NUL terminator.
	trailing := binary.LittleEndian.Uint16(buf[len(buf)-2:])
	if trailing != 0 {
		t.Errorf("trailing UTF-16 unit = %d, want 0 (NUL)", trailing)
	}
}

func TestHIDLWriteHeaderLayout(t *testing.T) {
	w := NewWriter()
	if err := HIDLProtocol.WriteHeader(w, "android.hidl.base@1.0::IBase"); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	buf := w.Bytes()
	want := "android.hidl.base@1.0::IBase\x00"
	if string(buf) != want {
		t.Fatalf("HIDL header = %q, want %q", buf, want)
	}
}

func TestProtocolNames(t *testing.T) {
	if AIDLProtocol.Name() != "aidl" {
		t.Errorf("AIDLProtocol.Name() = %q, want aidl", AIDLProtocol.Name())
	}
	if HIDLProtocol.Name() != "hidl" {
		t.Errorf("HIDLProtocol.Name() = %q, want hidl", HIDLProtocol.Name())
	}
}
