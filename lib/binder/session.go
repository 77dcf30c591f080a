// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// PollResult reports which conditions a Session's poll wait observed on the
// binder file descriptor (spec §4.4 "poll").
type PollResult struct {
	Readable bool // POLLIN
	Error    bool // POLLERR
	HungUp   bool // POLLHUP
	Invalid  bool // POLLNVAL — the fd was closed out from under the poll
}

// Any reports whether any condition fired.
func (p PollResult) Any() bool { return p.Readable || p.Error || p.HungUp || p.Invalid }

// KernelIO is the narrow kernel ioctl/mmap/poll surface a Session depends
// on. Splitting it out lets session_linux.go back it with real syscalls
// while internal/fakedriver backs it with a scriptable in-process fake for
// tests that cannot assume a /dev/binder node or root privileges. Exported
// so a fake living outside this package can implement it.
type KernelIO interface {
	Version() (int32, error)
	SetMaxThreads(n int) error
	WriteRead(write, read *IOBuf) error
	Poll(ctx context.Context) (PollResult, error)
	Arena() []byte
	Close() error
}

// Session owns one open binder device file descriptor: its negotiated ABI,
// its mmap'd receive arena, and the queue of pending BC_FREE_BUFFER
// commands (spec §4.4 "Device Session"). A Session is safe for concurrent
// use: its mutex guards only the closed flag and the free queue, and is not
// held across the BINDER_WRITE_READ ioctl itself, so each calling goroutine
// issues its own ioctl with its own write IOBuf and ReadBuffer.
type Session struct {
	log   *slog.Logger
	path  string
	abi   *ABI
	proto RPCProtocol

	drv KernelIO

	registry ObjectRegistry

	mu     sync.Mutex
	closed bool

	freeQueue []uintptr // pending BC_FREE_BUFFER pointers, drained on next write
}

// openDriver is provided per-platform: session_linux.go opens the real
// device, session_other.go leaves it nil so Open fails with
// ErrUnsupportedPlatform.
var openDriver func(path string, maxThreads int) (KernelIO, error)

// Open negotiates a Session against the binder device at path: opens it,
// queries BINDER_VERSION to select an ABI, sets the kernel thread-pool
// ceiling, and mmaps the receive arena. The open is abandoned (and an error
// returned) if the kernel reports a version neither ABI recognizes.
func Open(cfg Config) (*Session, error) {
	if openDriver == nil {
		return nil, ErrUnsupportedPlatform
	}
	drv, err := openDriver(cfg.devicePath(), cfg.maxThreads())
	if err != nil {
		return nil, fmt.Errorf("binder: open %s: %w", cfg.devicePath(), err)
	}
	return newSession(cfg, drv)
}

// OpenWithDriver negotiates a Session against an already-constructed
// KernelIO, bypassing platform device discovery. Tests use this to run the
// Command Loop against internal/fakedriver.
func OpenWithDriver(cfg Config, drv KernelIO) (*Session, error) {
	return newSession(cfg, drv)
}

func newSession(cfg Config, drv KernelIO) (*Session, error) {
	log := cfg.logger()
	path := cfg.devicePath()

	version, err := drv.Version()
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("binder: query version on %s: %w", path, err)
	}
	abi, err := SelectABI(version)
	if err != nil {
		_ = drv.Close()
		return nil, err
	}
	if n := cfg.maxThreads(); n > 0 {
		// Best-effort: a failure is logged and the session still opens.
		if err := drv.SetMaxThreads(n); err != nil {
			log.Warn("binder: set max threads failed", "device", path, "max_threads", n, "error", err)
		}
	}

	log.Info("binder session opened", "device", path, "abi", abi.Name)

	return &Session{
		log:      log,
		path:     path,
		abi:      abi,
		proto:    ProtocolForDevicePath(path),
		drv:      drv,
		registry: NewMapRegistry(),
	}, nil
}

// ABI returns the negotiated ABI descriptor.
func (s *Session) ABI() *ABI { return s.abi }

// Protocol returns the RPCProtocol selected for this session's device path.
func (s *Session) Protocol() RPCProtocol { return s.proto }

// Registry returns the session's ObjectRegistry, for registering
// LocalObjects before entering the Command Loop.
func (s *Session) Registry() ObjectRegistry { return s.registry }

// Close releases the device. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Info("binder session closed", "device", s.path)
	return s.drv.Close()
}

// releaseBuffer implements bufferReleaser by queuing a BC_FREE_BUFFER for
// the next writeRead call — buffers are freed lazily, batched with
// whatever command the Command Loop is about to send anyway, rather than
// provoking an extra ioctl per released buffer.
func (s *Session) releaseBuffer(ptr uintptr) {
	s.mu.Lock()
	s.freeQueue = append(s.freeQueue, ptr)
	s.mu.Unlock()
}

// drainFreeQueueLocked appends one BC_FREE_BUFFER command per queued
// pointer to cmds and clears the queue. Caller holds s.mu.
func (s *Session) drainFreeQueueLocked(cmds []byte) []byte {
	for _, ptr := range s.freeQueue {
		cmds = append(cmds, EncodeFreeBuffer(s.abi, ptr)...)
	}
	s.freeQueue = s.freeQueue[:0]
	return cmds
}

// writeRead issues one BINDER_WRITE_READ with cmds followed by any queued
// BC_FREE_BUFFER commands, and returns the number of command bytes the
// kernel accepted. read is the caller's ReadBuffer; its residual bytes are
// preserved per IOBuf semantics (spec §4.4's consumed-field convention).
func (s *Session) writeRead(cmds []byte, read *ReadBuffer) (consumed uintptr, err error) {
	s.mu.Lock()
	cmds = s.drainFreeQueueLocked(cmds)
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	var write IOBuf
	if len(cmds) > 0 {
		write.Ptr = uintptrOf(cmds)
		write.Size = uintptr(len(cmds))
	}

	readBuf := read.IOBuf()
	if err := s.drv.WriteRead(&write, readBuf); err != nil {
		return write.Consumed, err
	}
	return write.Consumed, nil
}

// poll blocks until the device reports a readable/error condition or ctx is
// done.
func (s *Session) poll(ctx context.Context) (PollResult, error) {
	return s.drv.Poll(ctx)
}

// arena returns the session's mmap'd receive arena, used by the Command
// Loop to slice ArenaBuffer views out of transaction pointers.
func (s *Session) arena() []byte { return s.drv.Arena() }
