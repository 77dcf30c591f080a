// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// CommandLoop drives one Session's BC_*/BR_* traffic: issuing
// BINDER_WRITE_READ passes, dispatching inbound BR_TRANSACTION frames to
// registered LocalObjects, acknowledging refcount and death-notification
// frames, and resolving the terminal frame a Transact call is waiting for
// (spec §4.6 "Command Loop").
//
// Every goroutine that calls Transact or Run pins itself to its OS thread
// for the duration of the call (runtime.LockOSThread): the kernel routes a
// BR_REPLY back to whichever OS thread's fd issued the matching
// BC_TRANSACTION, so a goroutine that migrated threads mid-wait would never
// see its own reply.
type CommandLoop struct {
	session *Session
	log     *slog.Logger
	trace   *Tracer

	handlerSem *semaphore.Weighted

	mu         sync.Mutex
	deathByKey map[uintptr]*RemoteObject
	nextCookie uintptr
}

// SetTracer attaches a structured trace sink. Passing nil disables tracing;
// a CommandLoop with no Tracer attached behaves identically (Tracer's
// methods are nil-receiver safe) but skips the correlation ID plumbing's
// log attributes becoming meaningful anywhere downstream.
func (l *CommandLoop) SetTracer(t *Tracer) {
	l.trace = t
}

// NewCommandLoop returns a CommandLoop over session. maxConcurrentHandlers
// bounds how many inbound transactions may be dispatched to LocalObject
// Handlers at once across every pool thread (spec §5: the Handler
// concurrency ceiling is independent of BINDER_SET_MAX_THREADS, which only
// bounds kernel-spawned looper threads).
func NewCommandLoop(session *Session, maxConcurrentHandlers int64) *CommandLoop {
	return &CommandLoop{
		session:    session,
		log:        session.log,
		handlerSem: semaphore.NewWeighted(maxConcurrentHandlers),
		deathByKey: make(map[uintptr]*RemoteObject),
	}
}

// frameResult describes a terminal frame (one that ends a Transact wait):
// BR_TRANSACTION_COMPLETE, BR_REPLY, BR_DEAD_REPLY, or BR_FAILED_REPLY.
type frameResult struct {
	op     uint32
	buffer *ArenaBuffer
	status Status
}

// Run repeatedly pumps the Command Loop until ctx is cancelled or a
// non-EAGAIN driver error occurs. Use it for a dedicated pool thread: send
// BC_ENTER_LOOPER once, then service whatever the kernel delivers
// indefinitely.
func (l *CommandLoop) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rb := NewReadBuffer()
	if err := l.pump(rb, EncodeEnterLooper(l.session.abi), nil); err != nil {
		return fmt.Errorf("binder: BC_ENTER_LOOPER: %w", err)
	}

	defer func() {
		exitRB := NewReadBuffer()
		_, _ = l.session.writeRead(EncodeExitLooper(l.session.abi), exitRB)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := l.session.poll(ctx)
		if err != nil {
			return err
		}
		if result.HungUp || result.Invalid {
			return fmt.Errorf("binder: %w", ErrClosed)
		}
		if !result.Readable {
			continue
		}
		if err := l.pump(rb, nil, nil); err != nil {
			return err
		}
	}
}

// pump issues a BINDER_WRITE_READ carrying initialCmds on its first
// iteration (nil thereafter), dispatches every frame the kernel returned —
// accumulating any BC_* acknowledgements to send on the following
// iteration — and loops until no acknowledgement is pending and no residual
// partial frame is left in the read buffer. want, if non-nil, receives the
// first terminal frame seen (a later terminal frame in the same pass
// replaces a BR_TRANSACTION_COMPLETE) so Transact can stop pumping as soon
// as its own call resolves.
func (l *CommandLoop) pump(rb *ReadBuffer, initialCmds []byte, want *frameResult) error {
	cmds := initialCmds
	// keepAlive holds the backing payload slices for any reply frames
	// folded into cmds: encodeTransactionFrame embeds their addresses as
	// raw uintptr values, which the Go runtime cannot trace, so the
	// slices themselves must stay referenced here until the writeRead
	// call below has actually handed them to the kernel.
	var keepAlive [][]byte
	for {
		if _, err := l.session.writeRead(cmds, rb); err != nil {
			return err
		}
		runtime.KeepAlive(keepAlive)
		cmds, keepAlive = nil, nil

		for {
			frame, ok := rb.Next()
			if !ok {
				break
			}
			result, ack, keep, err := l.dispatch(frame)
			if err != nil {
				return err
			}
			if len(ack) > 0 {
				cmds = append(cmds, ack...)
			}
			keepAlive = append(keepAlive, keep...)
			if result != nil && want != nil && (*want == (frameResult{}) || want.op == l.session.abi.BR.TransactionComplete) {
				*want = *result
			}
		}
		rb.Compact()

		if want != nil && *want != (frameResult{}) {
			if len(cmds) == 0 {
				return nil
			}
			// Flush acknowledgements generated alongside the terminal
			// frame (e.g. a BC_INCREFS_DONE for a frame that arrived
			// in the same batch) before returning, so resolving the
			// caller's wait never silently drops them.
			_, err := l.session.writeRead(cmds, rb)
			runtime.KeepAlive(keepAlive)
			return err
		}
		if len(cmds) == 0 && !rb.HasData() {
			return nil
		}
	}
}

// dispatch handles one frame: for management frames it returns the BC_*
// acknowledgement to send on the next pass; for terminal frames it returns
// a non-nil frameResult; for BR_TRANSACTION it dispatches to a registered
// Handler and returns the BC_REPLY as the acknowledgement to send.
func (l *CommandLoop) dispatch(frame Frame) (result *frameResult, ack []byte, keep [][]byte, err error) {
	abi := l.session.abi
	l.trace.TraceReturn(abi, frame.Op, "")
	switch frame.Op {
	case abi.BR.Noop, abi.BR.OK, abi.BR.Finished:
		return nil, nil, nil, nil

	case abi.BR.SpawnLooper:
		l.log.Debug("binder: kernel requested another looper thread")
		return nil, nil, nil, nil

	case abi.BR.TransactionComplete:
		return &frameResult{op: frame.Op, status: StatusOK}, nil, nil, nil

	case abi.BR.IncRefs:
		ptr, cookie := DecodePtrCookie(abi, frame.Payload)
		if obj, ok := l.session.registry.Lookup(cookie); ok {
			obj.Handler.HandleIncRefs()
		}
		return nil, EncodeIncRefsDone(abi, ptr, cookie), nil, nil

	case abi.BR.Acquire:
		ptr, cookie := DecodePtrCookie(abi, frame.Payload)
		if obj, ok := l.session.registry.Lookup(cookie); ok {
			obj.Handler.HandleAcquire()
		}
		return nil, EncodeAcquireDone(abi, ptr, cookie), nil, nil

	case abi.BR.DecRefs:
		_, cookie := DecodePtrCookie(abi, frame.Payload)
		if obj, ok := l.session.registry.Lookup(cookie); ok {
			obj.Handler.HandleDecRefs()
		}
		return nil, nil, nil, nil

	case abi.BR.Release:
		_, cookie := DecodePtrCookie(abi, frame.Payload)
		if obj, ok := l.session.registry.Lookup(cookie); ok {
			obj.Handler.HandleRelease()
		}
		return nil, nil, nil, nil

	case abi.BR.DeadBinder:
		cookie := DecodeCookie(abi, frame.Payload)
		l.notifyDead(cookie)
		return nil, nil, nil, nil

	case abi.BR.ClearDeathNotificationDone:
		return nil, nil, nil, nil

	case abi.BR.DeadReply:
		return &frameResult{op: frame.Op, status: StatusDeadObject}, nil, nil, nil

	case abi.BR.FailedReply:
		return &frameResult{op: frame.Op, status: StatusFailed}, nil, nil, nil

	case abi.BR.Transaction:
		return l.dispatchTransaction(frame)

	case abi.BR.Reply:
		return l.dispatchReply(frame)

	default:
		// Unknown opcodes are logged and skipped; Next has already
		// advanced past the length the opcode declares.
		l.log.Warn("binder: unexpected return opcode", "op", fmt.Sprintf("0x%08x", frame.Op))
		return nil, nil, nil, nil
	}
}

// dispatchReply decodes a BR_REPLY. A status-only reply (FlagStatusCode)
// carries no application payload and its tiny arena allocation is freed
// immediately rather than handed to the caller.
func (l *CommandLoop) dispatchReply(frame Frame) (*frameResult, []byte, [][]byte, error) {
	abi := l.session.abi
	td, err := DecodeTransaction(abi, frame.Payload)
	if err != nil {
		return nil, nil, nil, err
	}

	if td.DataSize == 0 {
		return &frameResult{op: frame.Op, status: StatusOK}, nil, nil, nil
	}

	buf := l.wrapArenaBuffer(td)
	if td.IsStatusOnly() {
		status := int32(0)
		if len(buf.Data()) >= 4 {
			status = int32(buf.Data()[0]) | int32(buf.Data()[1])<<8 | int32(buf.Data()[2])<<16 | int32(buf.Data()[3])<<24
		}
		buf.Release()
		return &frameResult{op: frame.Op, status: Status(status)}, nil, nil, nil
	}
	return &frameResult{op: frame.Op, status: StatusOK, buffer: buf}, nil, nil, nil
}

// dispatchTransaction decodes a BR_TRANSACTION, looks up the target
// LocalObject by cookie, asks its Handler how the transaction should be
// routed (spec §4.4 step 4), and dispatches accordingly — bounded by
// handlerSem so a flood of inbound calls cannot run an unbounded number of
// Handlers at once (spec §5). Oneway transactions get no reply; two-way transactions get a
// BC_REPLY (or a status-only BC_REPLY if the object is unknown or the
// Handler declines).
func (l *CommandLoop) dispatchTransaction(frame Frame) (*frameResult, []byte, [][]byte, error) {
	abi := l.session.abi
	td, err := DecodeTransaction(abi, frame.Payload)
	if err != nil {
		return nil, nil, nil, err
	}

	req := &LocalRequest{
		Code:       td.Code,
		Flags:      td.Flags,
		SenderPID:  td.SenderPID,
		SenderEUID: td.SenderEUID,
	}
	if td.DataSize > 0 {
		req.buffer = l.wrapArenaBuffer(td)
	}

	obj, found := l.session.registry.Lookup(td.Cookie)

	ctx := context.Background()
	if err := l.handlerSem.Acquire(ctx, 1); err != nil {
		req.Close()
		return nil, nil, nil, err
	}
	var reply *LocalReply
	func() {
		defer l.handlerSem.Release(1)
		defer req.Close()
		if !found {
			reply = &LocalReply{Status: StatusBadMessage}
			return
		}
		switch obj.Handler.CanHandleTransaction(obj.Interface, td.Code) {
		case DispositionLooper:
			reply = obj.HandleLooperTransaction(req)
		case DispositionApplication:
			reply = obj.Handler.Handle(req)
		default:
			reply = &LocalReply{Status: StatusBadMessage}
		}
		if reply == nil {
			reply = &LocalReply{Status: StatusOK}
		}
	}()

	if req.Oneway() {
		return nil, nil, nil, nil
	}

	var enc EncodedTransaction
	if reply.Status < 0 {
		enc = EncodeReplyStatus(abi, int32(reply.Status))
	} else {
		enc = EncodeReply(abi, TransactionRequest{Data: reply.Data, Offsets: reply.Offsets})
	}
	keep := [][]byte{enc.Data, enc.Offsets}
	return nil, enc.Frame, keep, nil
}

// wrapArenaBuffer slices data/offsets views into the session's mmap arena
// at the addresses the kernel reported, and returns an ArenaBuffer that
// will send exactly one BC_FREE_BUFFER when released.
func (l *CommandLoop) wrapArenaBuffer(td TransactionData) *ArenaBuffer {
	arena := l.session.arena()
	base := uintptrOf(arena)

	dataOff := td.DataPtr - base
	data := arena[dataOff : dataOff+td.DataSize]

	var offsets []uintptr
	if td.OffsetsSize > 0 {
		offOff := td.OffsetsPtr - base
		raw := arena[offOff : offOff+td.OffsetsSize]
		abi := l.session.abi
		offsets = make([]uintptr, td.OffsetsSize/uintptr(abi.PointerSize))
		for i := range offsets {
			offsets[i] = getUintPtr(raw[i*abi.PointerSize:], abi)
		}
	}

	return newArenaBuffer(l.session, td.DataPtr, data, offsets)
}

// Transact sends a BC_TRANSACTION (or BC_TRANSACTION_SG, if req carries
// out-of-line buffers) and, for a two-way call, blocks servicing the
// Command Loop until the matching terminal frame arrives. A oneway call
// returns as soon as BR_TRANSACTION_COMPLETE is observed.
func (l *CommandLoop) Transact(ctx context.Context, req RemoteRequest) (*RemoteReply, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	abi := l.session.abi
	cid := NewCorrelationID()

	flags := uint32(0)
	if req.Oneway {
		flags |= FlagOneway
	}
	txReq := TransactionRequest{Handle: req.Handle, Code: req.Code, Flags: flags, Data: req.Data, Offsets: req.Offsets}

	op := abi.BC.Transaction
	var enc EncodedTransaction
	if req.ExtraBuffersSize > 0 {
		txReq.ExtraBuffersSize = req.ExtraBuffersSize
		op = abi.BC.TransactionSG
		enc = EncodeTransactionSG(abi, txReq)
	} else {
		enc = EncodeTransaction(abi, txReq)
	}
	runtime.KeepAlive(req.Data)
	runtime.KeepAlive(enc.Offsets)

	l.trace.TraceCommand(abi, op, cid)
	l.log.Debug("binder: transact", "correlation_id", cid, "handle", req.Handle, "code", req.Code, "oneway", req.Oneway)

	rb := NewReadBuffer()
	var result frameResult
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.pump(rb, enc.Frame, &result); err != nil {
		return nil, err
	}
	// BR_TRANSACTION_COMPLETE resolves only a oneway call; a two-way call
	// keeps pumping until BR_REPLY, BR_DEAD_REPLY or BR_FAILED_REPLY.
	for result == (frameResult{}) || (!req.Oneway && result.op == abi.BR.TransactionComplete) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.pump(rb, nil, &result); err != nil {
			return nil, err
		}
	}
	runtime.KeepAlive(req.Data)
	runtime.KeepAlive(enc.Offsets)

	l.trace.TraceReturn(abi, result.op, cid)
	l.log.Debug("binder: transact resolved", "correlation_id", cid, "status", result.status)

	if err := statusError(result.status); err != nil {
		if result.buffer != nil {
			result.buffer.Release()
		}
		return nil, err
	}
	return &RemoteReply{Status: result.status, buffer: result.buffer}, nil
}

// RequestDeathNotification arms a death callback for a remote handle and
// sends BC_REQUEST_DEATH_NOTIFICATION. onDeath runs on the Command Loop
// goroutine that observes the matching BR_DEAD_BINDER — it must not block.
func (l *CommandLoop) RequestDeathNotification(obj *RemoteObject, onDeath func()) error {
	cookie := atomic.AddUintptr(&l.nextCookie, 1)
	if !obj.ArmDeath(cookie, onDeath) {
		return fmt.Errorf("binder: death notification already registered for handle %d", obj.Handle)
	}
	l.mu.Lock()
	l.deathByKey[cookie] = obj
	l.mu.Unlock()

	rb := NewReadBuffer()
	return l.pump(rb, EncodeRequestDeathNotification(l.session.abi, obj.Handle, cookie), nil)
}

// ClearDeathNotification disarms a previously requested death notification.
func (l *CommandLoop) ClearDeathNotification(obj *RemoteObject) error {
	cookie, ok := obj.DisarmDeath()
	if !ok {
		return nil
	}
	l.mu.Lock()
	delete(l.deathByKey, cookie)
	l.mu.Unlock()

	rb := NewReadBuffer()
	return l.pump(rb, EncodeClearDeathNotification(l.session.abi, obj.Handle, cookie), nil)
}

func (l *CommandLoop) notifyDead(cookie uintptr) {
	l.mu.Lock()
	obj, ok := l.deathByKey[cookie]
	delete(l.deathByKey, cookie)
	l.mu.Unlock()
	if ok {
		obj.NotifyDead(cookie)
	}
}
