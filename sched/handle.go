package sched

import "unsafe"

// HandleState distinguishes a lazily-initialized guest handle from a fresh
// one, generalizing the source's "magic word equals zero" convention into
// an explicit sentinel enum (Design Notes §9 "Static-initializer
// detection").
type HandleState int32

const (
	HandleNeedsInit HandleState = iota
	HandleInitialized
)

// MutexHandle, CondHandle, RWLockHandle and SemHandle are the guest-visible
// synchronization handles. A real port keeps their layout byte-stable for
// ABI compatibility (Design Notes §9 "pointer-stuffing an index"); vgsched
// routes through ID into the Scheduler's fixed-capacity arena rather than
// embedding scheduler state in the handle itself.
type MutexHandle struct {
	State HandleState
	ID    MutexID
}

type CondHandle struct {
	State HandleState
	ID    CVID
}

type RWLockHandle struct {
	State HandleState
	ID    RWLockID
}

type SemHandle struct {
	State HandleState
	ID    SemID
}

// PointerArg marshals a guest handle pointer into a word-sized request
// argument, the role the trap transport's argument marshaling plays in
// spec.md §6's "Request channel" (code, arg1..arg4).
func PointerArg(p unsafe.Pointer) uintptr { return uintptr(p) }

func mutexHandle(arg uintptr) *MutexHandle   { return (*MutexHandle)(unsafe.Pointer(arg)) }
func condHandle(arg uintptr) *CondHandle     { return (*CondHandle)(unsafe.Pointer(arg)) }
func rwlockHandle(arg uintptr) *RWLockHandle { return (*RWLockHandle)(unsafe.Pointer(arg)) }
func semHandle(arg uintptr) *SemHandle       { return (*SemHandle)(unsafe.Pointer(arg)) }
