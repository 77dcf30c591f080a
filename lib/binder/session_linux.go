// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package binder

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Real /dev/binder ioctl numbers (include/uapi/linux/android/binder.h),
// built with the same generic _IOC convention opcodes.go uses for BC_*/BR_*.
const (
	binderTypeChar = 'b'

	binderWriteReadNR     = 1
	binderSetMaxThreadsNR = 5
	binderVersionNR       = 9
)

func binderIOCWriteRead(size int) uintptr {
	return uintptr(iocWR(binderTypeChar, binderWriteReadNR, size))
}

// binderWriteRead mirrors struct binder_write_read: three size/consumed/
// pointer field groups for the write half, then the read half.
type binderWriteRead struct {
	writeSize     uintptr
	writeConsumed uintptr
	writeBuffer   uintptr
	readSize      uintptr
	readConsumed  uintptr
	readBuffer    uintptr
}

// mmapArenaSize is the size of the read-only receive arena mapped over
// /dev/binder: one megabyte minus two pages, the conventional Binder
// client mapping size (leaving room for the kernel's own bookkeeping
// pages at the high end of the mapping).
func mmapArenaSize() int {
	return (1 << 20) - 2*unix.Getpagesize()
}

type linuxDriver struct {
	fd    int
	arena []byte
}

func openLinuxDriver(path string, maxThreads int) (KernelIO, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	d := &linuxDriver{fd: fd}

	if maxThreads > 0 {
		// Best-effort: newSession sets it again and logs any failure.
		_ = d.SetMaxThreads(maxThreads)
	}

	arena, err := unix.Mmap(fd, 0, mmapArenaSize(), unix.PROT_READ, unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	d.arena = arena

	return d, nil
}

func (d *linuxDriver) Version() (int32, error) {
	var version int32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd),
		uintptr(iocWR(binderTypeChar, binderVersionNR, 4)), uintptr(unsafe.Pointer(&version)))
	if errno != 0 {
		return 0, &DriverError{Errno: int(errno)}
	}
	return version, nil
}

func (d *linuxDriver) SetMaxThreads(n int) error {
	v := uint32(n)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd),
		uintptr(iocW(binderTypeChar, binderSetMaxThreadsNR, 4)), uintptr(unsafe.Pointer(&v)))
	if errno != 0 {
		return &DriverError{Errno: int(errno)}
	}
	return nil
}

// writeRead issues one BINDER_WRITE_READ, absorbing EINTR/EAGAIN the way
// the kernel documents (a concurrent poll waking the thread for other
// reasons, or a signal landing mid-ioctl, both demand an unconditional
// retry with the same buffers — nothing was consumed).
func (d *linuxDriver) WriteRead(write, read *IOBuf) error {
	for {
		bwr := binderWriteRead{
			writeSize:    write.Size,
			writeBuffer:  write.Ptr,
			readSize:     read.Size,
			readConsumed: read.Consumed,
			readBuffer:   read.Ptr,
		}
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd),
			binderIOCWriteRead(int(unsafe.Sizeof(bwr))), uintptr(unsafe.Pointer(&bwr)))
		write.Consumed = bwr.writeConsumed
		read.Consumed = bwr.readConsumed
		if errno == 0 {
			return nil
		}
		if errno == unix.EINTR || errno == unix.EAGAIN {
			continue
		}
		return &DriverError{Errno: int(errno)}
	}
}

// poll waits for the binder fd to become readable, checking ctx
// periodically so a caller can cancel a long idle wait — the ioctl/poll
// pair itself has no notion of a Go context.
func (d *linuxDriver) Poll(ctx context.Context) (PollResult, error) {
	const pollIntervalMillis = 250
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return PollResult{}, err
		}
		n, err := unix.Poll(fds, pollIntervalMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return PollResult{}, &DriverError{Errno: int(err.(unix.Errno))}
		}
		if n == 0 {
			continue
		}
		revents := fds[0].Revents
		return PollResult{
			Readable: revents&unix.POLLIN != 0,
			Error:    revents&unix.POLLERR != 0,
			HungUp:   revents&unix.POLLHUP != 0,
			Invalid:  revents&unix.POLLNVAL != 0,
		}, nil
	}
}

func (d *linuxDriver) Arena() []byte { return d.arena }

func (d *linuxDriver) Close() error {
	if d.arena != nil {
		_ = unix.Munmap(d.arena)
	}
	return unix.Close(d.fd)
}

func init() {
	openDriver = openLinuxDriver
}
