// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import "sync"

// Disposition is the shared {none, looper, application} vocabulary spec.md
// uses in two distinct places: ObjectRegistry.Disposition describes how a
// Command Loop's thread participates in the kernel's thread pool (spec §5
// "Concurrency & Resource Model" — whether BC_ENTER_LOOPER/BC_REGISTER_LOOPER
// bookkeeping applies and whether BR_SPAWN_LOOPER should provision another
// thread), while Handler.CanHandleTransaction uses the same three values to
// classify one inbound transaction (spec §4.4 step 4). The two uses are
// independent; a thread's pool Disposition does not constrain what
// Disposition its Handlers return per transaction.
type Disposition int

const (
	// DispositionNone is a thread that has not joined the read loop —
	// e.g. one doing a single blocking Transact from outside the pool.
	DispositionNone Disposition = iota

	// DispositionLooper is a pool thread spawned in response to
	// BR_SPAWN_LOOPER or started eagerly at Session construction.
	DispositionLooper

	// DispositionApplication is the distinguished "main" thread that
	// entered the loop at startup via BC_ENTER_LOOPER and is never torn
	// down for idleness.
	DispositionApplication
)

// Handler processes one inbound transaction addressed to a LocalObject, and
// receives the refcount/disposition notifications the Command Loop's core
// dispatch (spec §4.3) and transaction dispatch (spec §4.4) deliver to it.
// Implementations must not block indefinitely — spec §5 requires a bounded
// pool of Command Loop threads, and a wedged Handler starves it.
type Handler interface {
	// CanHandleTransaction classifies an inbound transaction before it is
	// dispatched (spec §4.4 step 4): DispositionLooper routes it to the
	// owning LocalObject's HandleLooperTransaction for synchronous,
	// framework-side completion; DispositionApplication routes it to
	// Handle; DispositionNone declines it (the caller sees BAD_MESSAGE).
	CanHandleTransaction(iface string, code uint32) Disposition

	Handle(req *LocalRequest) *LocalReply

	// HandleIncRefs, HandleAcquire, HandleDecRefs, and HandleRelease are
	// notifications for BR_INCREFS, BR_ACQUIRE, BR_DECREFS, and BR_RELEASE
	// frames addressed to this object's ptr/cookie (spec §4.3). The
	// Command Loop sends the BC_INCREFS_DONE/BC_ACQUIRE_DONE acknowledgement
	// regardless of what these do; BR_DECREFS/BR_RELEASE get no
	// acknowledgement frame.
	HandleIncRefs()
	HandleAcquire()
	HandleDecRefs()
	HandleRelease()
}

// LocalObject is a binder object this process hosts, registered so the
// Command Loop can route an inbound BR_TRANSACTION addressed to its cookie
// to a Handler (spec §4.3, §6).
type LocalObject struct {
	// Ptr and Cookie are the opaque values exchanged with the kernel in
	// BC_ACQUIRE_DONE/BC_INCREFS_DONE and echoed back in BR_TRANSACTION's
	// target fields to identify this object across processes.
	Ptr    uintptr
	Cookie uintptr

	// Interface is this object's registered interface name, passed to
	// Handler.CanHandleTransaction so it can classify a transaction without
	// the Command Loop needing to know anything about interface
	// descriptors itself.
	Interface string

	Handler Handler
}

// HandleLooperTransaction services a transaction that
// Handler.CanHandleTransaction classified as DispositionLooper: completed
// synchronously on the Command Loop's own thread, without calling out to
// the registered Handler (spec §4.4 step 4, "handled by framework thread").
func (o *LocalObject) HandleLooperTransaction(req *LocalRequest) *LocalReply {
	return &LocalReply{Status: StatusOK}
}

// RemoteObject is a handle to a binder object hosted by another process,
// with an optional registered death cookie used to correlate
// BR_DEAD_BINDER notifications back to a caller-supplied callback.
type RemoteObject struct {
	Handle uint32

	mu           sync.Mutex
	deathCookie  uintptr
	hasDeathHook bool
	onDeath      func()
}

// ArmDeath records the death cookie and callback to invoke when
// NotifyDead is called for it, returning false if a death notification is
// already registered for this object.
func (o *RemoteObject) ArmDeath(cookie uintptr, onDeath func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.hasDeathHook {
		return false
	}
	o.deathCookie, o.onDeath, o.hasDeathHook = cookie, onDeath, true
	return true
}

// DisarmDeath clears a previously armed death notification and returns its
// cookie, so the caller can build the matching
// BC_CLEAR_DEATH_NOTIFICATION frame.
func (o *RemoteObject) DisarmDeath() (uintptr, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.hasDeathHook {
		return 0, false
	}
	cookie := o.deathCookie
	o.hasDeathHook, o.onDeath, o.deathCookie = false, nil, 0
	return cookie, true
}

// NotifyDead invokes the armed callback for cookie, if one is still
// registered under it.
func (o *RemoteObject) NotifyDead(cookie uintptr) {
	o.mu.Lock()
	hook, armed := o.onDeath, o.hasDeathHook && o.deathCookie == cookie
	o.mu.Unlock()
	if armed && hook != nil {
		hook()
	}
}

// ObjectRegistry is the Command Loop's lookup table from a local object's
// cookie to the LocalObject that should handle transactions addressed to
// it, and tracks this session's thread-pool Disposition.
type ObjectRegistry interface {
	Register(obj *LocalObject)
	Unregister(cookie uintptr)
	Lookup(cookie uintptr) (*LocalObject, bool)

	SetDisposition(d Disposition)
	Disposition() Disposition
}

// mapRegistry is an in-memory, mutex-guarded ObjectRegistry — sufficient
// for a single Session's lifetime; nothing here is persisted.
type mapRegistry struct {
	mu          sync.RWMutex
	objects     map[uintptr]*LocalObject
	disposition Disposition
}

// NewMapRegistry returns an ObjectRegistry backed by an in-memory map.
func NewMapRegistry() ObjectRegistry {
	return &mapRegistry{objects: make(map[uintptr]*LocalObject)}
}

func (r *mapRegistry) Register(obj *LocalObject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[obj.Cookie] = obj
}

func (r *mapRegistry) Unregister(cookie uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, cookie)
}

func (r *mapRegistry) Lookup(cookie uintptr) (*LocalObject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[cookie]
	return obj, ok
}

func (r *mapRegistry) SetDisposition(d Disposition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposition = d
}

func (r *mapRegistry) Disposition() Disposition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disposition
}
