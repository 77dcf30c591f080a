// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import (
	"context"
	"encoding/binary"
	"testing"
	"time"
	"unsafe"

	"github.com/cellarworks/gobinder/lib/binder/internal/fakedriver"
)

// fakeKernelIO adapts fakedriver.Driver's parallel IOBuf/PollResult types to
// this package's KernelIO interface. binder.IOBuf and fakedriver.IOBuf (and
// their PollResult counterparts) are laid out identically field-for-field —
// fakedriver's doc comment calls this out as the reason the unsafe
// conversion below is sound — so a pointer reinterpretation is all the
// write/read half needs to cross the package boundary without a cycle.
type fakeKernelIO struct {
	drv *fakedriver.Driver
}

func (f *fakeKernelIO) Version() (int32, error)   { return f.drv.Version() }
func (f *fakeKernelIO) SetMaxThreads(n int) error { return f.drv.SetMaxThreads(n) }
func (f *fakeKernelIO) Arena() []byte             { return f.drv.Arena() }
func (f *fakeKernelIO) Close() error              { return f.drv.Close() }

func (f *fakeKernelIO) WriteRead(write, read *IOBuf) error {
	fw := (*fakedriver.IOBuf)(unsafe.Pointer(write))
	fr := (*fakedriver.IOBuf)(unsafe.Pointer(read))
	return f.drv.WriteRead(fw, fr)
}

func (f *fakeKernelIO) Poll(ctx context.Context) (PollResult, error) {
	pr, err := f.drv.Poll(ctx)
	return PollResult{
		Readable: pr.Readable,
		Error:    pr.Error,
		HungUp:   pr.HungUp,
		Invalid:  pr.Invalid,
	}, err
}

func newTestSession(t *testing.T, drv *fakedriver.Driver) (*Session, *fakeKernelIO) {
	t.Helper()
	kio := &fakeKernelIO{drv: drv}
	sess, err := OpenWithDriver(Config{}, kio)
	if err != nil {
		t.Fatalf("OpenWithDriver: %v", err)
	}
	return sess, kio
}

// buildTransactionFrame lays out a BR_TRANSACTION/BR_REPLY frame whose
// data/offsets pointers resolve into drv's fake arena, mirroring what the
// real kernel does when it copies a sender's payload into the receiver's
// mmap'd region.
func buildTransactionFrame(abi *ABI, op uint32, drv *fakedriver.Driver, cookie uintptr, code, flags uint32, data []byte) []byte {
	dataPtr := uintptr(0)
	if len(data) > 0 {
		dataPtr = drv.Alloc(data)
	}

	ps := abi.PointerSize
	body := make([]byte, transactionHeaderSize(ps))
	off := 0
	putUintPtr(body[off:], abi, 0) // target (unused by a BR_TRANSACTION test double)
	off += ps
	putUintPtr(body[off:], abi, cookie)
	off += ps
	binary.LittleEndian.PutUint32(body[off:], code)
	off += 4
	binary.LittleEndian.PutUint32(body[off:], flags)
	off += 4
	off += 4 // sender_pid
	off += 4 // sender_euid
	putUintPtr(body[off:], abi, uintptr(len(data)))
	off += ps
	putUintPtr(body[off:], abi, 0) // offsets_size
	off += ps
	putUintPtr(body[off:], abi, dataPtr)
	off += ps
	putUintPtr(body[off:], abi, 0) // offsets pointer

	frame := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(frame[0:4], op)
	copy(frame[4:], body)
	return frame
}

func TestCommandLoopTransactResolvesOnTransactionComplete(t *testing.T) {
	drv := fakedriver.New(ABI64.Version)
	sess, _ := newTestSession(t, drv)
	loop := NewCommandLoop(sess, 4)

	drv.QueueReturn(encodeBare(ABI64.BR.TransactionComplete))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := loop.Transact(ctx, RemoteRequest{Handle: 1, Code: 7, Oneway: true, Data: []byte("ping")})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if reply.Status != StatusOK {
		t.Fatalf("Status = %v, want StatusOK", reply.Status)
	}

	written := drv.Written()
	if len(written) == 0 {
		t.Fatal("no BC_TRANSACTION bytes were written")
	}
	if op := binary.LittleEndian.Uint32(written[0]); op != ABI64.BC.Transaction {
		t.Fatalf("first written opcode = 0x%x, want BC_TRANSACTION (0x%x)", op, ABI64.BC.Transaction)
	}
}

func TestCommandLoopTransactResolvesOnReplyWithPayload(t *testing.T) {
	drv := fakedriver.New(ABI64.Version)
	sess, _ := newTestSession(t, drv)
	loop := NewCommandLoop(sess, 4)

	payload := []byte("pong-pong-pong")
	drv.QueueReturn(buildTransactionFrame(ABI64, ABI64.BR.Reply, drv, 0, 0, 0, payload))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := loop.Transact(ctx, RemoteRequest{Handle: 1, Code: 3, Data: []byte("ping")})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	defer reply.Close()
	if string(reply.Data()) != string(payload) {
		t.Fatalf("reply.Data() = %q, want %q", reply.Data(), payload)
	}
}

func TestCommandLoopTransactResolvesOnDeadReply(t *testing.T) {
	drv := fakedriver.New(ABI64.Version)
	sess, _ := newTestSession(t, drv)
	loop := NewCommandLoop(sess, 4)

	drv.QueueReturn(encodeBare(ABI64.BR.DeadReply))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := loop.Transact(ctx, RemoteRequest{Handle: 9, Code: 1})
	if err == nil {
		t.Fatal("Transact with a BR_DEAD_REPLY should return an error")
	}
}

func TestCommandLoopDispatchesInboundTransactionToHandler(t *testing.T) {
	drv := fakedriver.New(ABI64.Version)
	sess, _ := newTestSession(t, drv)
	loop := NewCommandLoop(sess, 4)

	handler := &echoHandler{}
	obj := &LocalObject{Ptr: 0x1000, Cookie: 0x2000, Handler: handler}
	sess.Registry().Register(obj)

	inbound := []byte("hello-object")
	drv.QueueReturn(buildTransactionFrame(ABI64, ABI64.BR.Transaction, drv, obj.Cookie, 42, 0, inbound))

	rb := NewReadBuffer()
	if err := loop.pump(rb, nil, nil); err != nil {
		t.Fatalf("pump: %v", err)
	}
	if handler.calls != 1 {
		t.Fatalf("Handler.Handle called %d times, want 1", handler.calls)
	}

	written := drv.Written()
	if len(written) == 0 {
		t.Fatal("no BC_REPLY bytes were written for a two-way transaction")
	}
	last := written[len(written)-1]
	if op := binary.LittleEndian.Uint32(last); op != ABI64.BC.Reply {
		t.Fatalf("last written opcode = 0x%x, want BC_REPLY (0x%x)", op, ABI64.BC.Reply)
	}
}

func TestCommandLoopDispatchesOnewayInboundWithNoReply(t *testing.T) {
	drv := fakedriver.New(ABI64.Version)
	sess, _ := newTestSession(t, drv)
	loop := NewCommandLoop(sess, 4)

	handler := &echoHandler{}
	obj := &LocalObject{Ptr: 0x1000, Cookie: 0x2000, Handler: handler}
	sess.Registry().Register(obj)

	drv.QueueReturn(buildTransactionFrame(ABI64, ABI64.BR.Transaction, drv, obj.Cookie, 42, FlagOneway, []byte("fire-and-forget")))

	rb := NewReadBuffer()
	if err := loop.pump(rb, nil, nil); err != nil {
		t.Fatalf("pump: %v", err)
	}
	if handler.calls != 1 {
		t.Fatalf("Handler.Handle called %d times, want 1", handler.calls)
	}
	if written := drv.Written(); len(written) != 0 {
		t.Fatalf("a oneway transaction should provoke no BC_REPLY, got %d write(s)", len(written))
	}
}

func TestCommandLoopRefcountFramesNotifyTheRegisteredObject(t *testing.T) {
	drv := fakedriver.New(ABI64.Version)
	sess, _ := newTestSession(t, drv)
	loop := NewCommandLoop(sess, 4)

	handler := &echoHandler{}
	obj := &LocalObject{Ptr: 0x1000, Cookie: 0x2000, Handler: handler}
	sess.Registry().Register(obj)

	drv.QueueReturn(encodePtrCookie(ABI64.BR.IncRefs, ABI64, obj.Ptr, obj.Cookie))
	drv.QueueReturn(encodePtrCookie(ABI64.BR.Acquire, ABI64, obj.Ptr, obj.Cookie))
	drv.QueueReturn(encodePtrCookie(ABI64.BR.DecRefs, ABI64, obj.Ptr, obj.Cookie))
	drv.QueueReturn(encodePtrCookie(ABI64.BR.Release, ABI64, obj.Ptr, obj.Cookie))

	rb := NewReadBuffer()
	if err := loop.pump(rb, nil, nil); err != nil {
		t.Fatalf("pump: %v", err)
	}

	if handler.incRefs != 1 || handler.acquires != 1 || handler.decRefs != 1 || handler.releases != 1 {
		t.Fatalf("refcount callbacks = %+v, want one of each", handler)
	}

	// BR_DECREFS/BR_RELEASE get no acknowledgement frame, so the only bytes
	// the kernel should see back are the two acks, packed into whichever
	// writeRead call(s) flushed them.
	var acked []byte
	for _, w := range drv.Written() {
		acked = append(acked, w...)
	}
	frameSize := 4 + 2*ABI64.PointerSize
	if len(acked) != 2*frameSize {
		t.Fatalf("wrote %d ack byte(s), want %d (one BC_INCREFS_DONE + one BC_ACQUIRE_DONE)", len(acked), 2*frameSize)
	}
	if op := binary.LittleEndian.Uint32(acked[0:4]); op != ABI64.BC.IncRefsDone {
		t.Fatalf("first ack opcode = 0x%x, want BC_INCREFS_DONE", op)
	}
	if op := binary.LittleEndian.Uint32(acked[frameSize : frameSize+4]); op != ABI64.BC.AcquireDone {
		t.Fatalf("second ack opcode = 0x%x, want BC_ACQUIRE_DONE", op)
	}
}

type looperHandler struct{ disposition Disposition }

func (h *looperHandler) CanHandleTransaction(iface string, code uint32) Disposition {
	return h.disposition
}
func (h *looperHandler) Handle(req *LocalRequest) *LocalReply { return &LocalReply{Status: StatusOK} }
func (h *looperHandler) HandleIncRefs()                       {}
func (h *looperHandler) HandleAcquire()                       {}
func (h *looperHandler) HandleDecRefs()                       {}
func (h *looperHandler) HandleRelease()                       {}

func TestCommandLoopDispatchesLooperTransactionWithReply(t *testing.T) {
	drv := fakedriver.New(ABI64.Version)
	sess, _ := newTestSession(t, drv)
	loop := NewCommandLoop(sess, 4)

	handler := &looperHandler{disposition: DispositionLooper}
	obj := &LocalObject{Ptr: 0x1000, Cookie: 0x2000, Interface: "cellarworks.IEcho", Handler: handler}
	sess.Registry().Register(obj)

	drv.QueueReturn(buildTransactionFrame(ABI64, ABI64.BR.Transaction, drv, obj.Cookie, 42, 0, []byte("ping")))

	rb := NewReadBuffer()
	if err := loop.pump(rb, nil, nil); err != nil {
		t.Fatalf("pump: %v", err)
	}

	written := drv.Written()
	if len(written) == 0 {
		t.Fatal("no BC_REPLY bytes were written for a two-way looper transaction")
	}
	last := written[len(written)-1]
	if op := binary.LittleEndian.Uint32(last); op != ABI64.BC.Reply {
		t.Fatalf("last written opcode = 0x%x, want BC_REPLY (0x%x)", op, ABI64.BC.Reply)
	}
}

func TestCommandLoopDeclinedTransactionRepliesBadMessage(t *testing.T) {
	drv := fakedriver.New(ABI64.Version)
	sess, _ := newTestSession(t, drv)
	loop := NewCommandLoop(sess, 4)

	handler := &looperHandler{disposition: DispositionNone}
	obj := &LocalObject{Ptr: 0x1000, Cookie: 0x2000, Handler: handler}
	sess.Registry().Register(obj)

	drv.QueueReturn(buildTransactionFrame(ABI64, ABI64.BR.Transaction, drv, obj.Cookie, 42, 0, []byte("unknown")))

	rb := NewReadBuffer()
	if err := loop.pump(rb, nil, nil); err != nil {
		t.Fatalf("pump: %v", err)
	}

	written := drv.Written()
	if len(written) == 0 {
		t.Fatal("no BC_REPLY bytes were written for a declined two-way transaction")
	}
	last := written[len(written)-1]
	td, err := DecodeTransaction(ABI64, last[4:])
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	if !td.IsStatusOnly() {
		t.Fatal("declined transaction's BC_REPLY should be status-only")
	}
}

func TestCommandLoopDeathNotificationFiresCallback(t *testing.T) {
	drv := fakedriver.New(ABI64.Version)
	sess, _ := newTestSession(t, drv)
	loop := NewCommandLoop(sess, 4)

	obj := &RemoteObject{Handle: 77}
	died := make(chan struct{}, 1)
	if err := loop.RequestDeathNotification(obj, func() { died <- struct{}{} }); err != nil {
		t.Fatalf("RequestDeathNotification: %v", err)
	}

	written := drv.Written()
	if len(written) == 0 || binary.LittleEndian.Uint32(written[0]) != ABI64.BC.RequestDeathNotification {
		t.Fatalf("expected a BC_REQUEST_DEATH_NOTIFICATION write, got %v", written)
	}

	cookie := obj.deathCookie

	deathFrame := make([]byte, 4+ABI64.PointerSize)
	binary.LittleEndian.PutUint32(deathFrame[0:4], ABI64.BR.DeadBinder)
	putUintPtr(deathFrame[4:], ABI64, cookie)
	drv.QueueReturn(deathFrame)

	rb := NewReadBuffer()
	if err := loop.pump(rb, nil, nil); err != nil {
		t.Fatalf("pump: %v", err)
	}

	select {
	case <-died:
	case <-time.After(2 * time.Second):
		t.Fatal("death callback was not invoked after BR_DEAD_BINDER")
	}
}
