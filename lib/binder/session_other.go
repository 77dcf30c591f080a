// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package binder

// openDriver is left nil on non-Linux platforms: there is no binder
// character device to open, so Open always fails with
// ErrUnsupportedPlatform. Tests on these platforms use
// internal/fakedriver instead of Open.
