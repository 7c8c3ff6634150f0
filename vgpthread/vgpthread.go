// Package vgpthread is the guest-facing pthread replacement surface: the
// thin layer a guest program links against instead of the host's libpthread.
// Every call here builds the ClientRequestTrap a GuestRunner hands back to
// the scheduler in place of actually executing the guest's library call
// (spec.md §6 "Request channel"); the scheduler's dispatch loop is what
// turns the trap into an effect and a reply.
package vgpthread

import (
	"unsafe"

	"github.com/coresched/vgsched/sched"
)

func trap(code uint32, a0, a1, a2, a3 uintptr) sched.ClientRequestTrap {
	return sched.ClientRequestTrap{Code: code, Args: [4]uintptr{a0, a1, a2, a3}}
}

// MutexInit, MutexLock, MutexTryLock, MutexUnlock, MutexDestroy build the
// traps for spec.md §4.G's mutex operations.
func MutexInit(m *sched.MutexHandle) sched.ClientRequestTrap {
	return trap(sched.ReqMutexInit, sched.PointerArg(unsafe.Pointer(m)), 0, 0, 0)
}

func MutexLock(m *sched.MutexHandle) sched.ClientRequestTrap {
	return trap(sched.ReqMutexLock, sched.PointerArg(unsafe.Pointer(m)), 0, 0, 0)
}

func MutexTryLock(m *sched.MutexHandle) sched.ClientRequestTrap {
	return trap(sched.ReqMutexTryLock, sched.PointerArg(unsafe.Pointer(m)), 0, 0, 0)
}

func MutexUnlock(m *sched.MutexHandle) sched.ClientRequestTrap {
	return trap(sched.ReqMutexUnlock, sched.PointerArg(unsafe.Pointer(m)), 0, 0, 0)
}

func MutexDestroy(m *sched.MutexHandle) sched.ClientRequestTrap {
	return trap(sched.ReqMutexDestroy, sched.PointerArg(unsafe.Pointer(m)), 0, 0, 0)
}

// CondInit, CondWait, CondTimedWait, CondSignal, CondBroadcast, CondDestroy
// build the traps for spec.md §4.G's condition-variable operations.
func CondInit(cv *sched.CondHandle) sched.ClientRequestTrap {
	return trap(sched.ReqCondInit, sched.PointerArg(unsafe.Pointer(cv)), 0, 0, 0)
}

func CondWait(cv *sched.CondHandle, m *sched.MutexHandle) sched.ClientRequestTrap {
	return trap(sched.ReqCondWait, sched.PointerArg(unsafe.Pointer(cv)), sched.PointerArg(unsafe.Pointer(m)), 0, 0)
}

// CondTimedWait's deadlineMicros is an absolute deadline in microseconds
// (Design Notes §9.2 resolves the ms-conversion ambiguity as
// microseconds/1000).
func CondTimedWait(cv *sched.CondHandle, m *sched.MutexHandle, deadlineMicros uint64) sched.ClientRequestTrap {
	return trap(sched.ReqCondTimedWait, sched.PointerArg(unsafe.Pointer(cv)), sched.PointerArg(unsafe.Pointer(m)), uintptr(deadlineMicros), 0)
}

func CondSignal(cv *sched.CondHandle) sched.ClientRequestTrap {
	return trap(sched.ReqCondSignal, sched.PointerArg(unsafe.Pointer(cv)), 0, 0, 0)
}

func CondBroadcast(cv *sched.CondHandle) sched.ClientRequestTrap {
	return trap(sched.ReqCondBroadcast, sched.PointerArg(unsafe.Pointer(cv)), 0, 0, 0)
}

func CondDestroy(cv *sched.CondHandle) sched.ClientRequestTrap {
	return trap(sched.ReqCondDestroy, sched.PointerArg(unsafe.Pointer(cv)), 0, 0, 0)
}

// RWLockInit, RWLockRDLock, RWLockWRLock, RWLockUnlock, RWLockDestroy build
// the traps for spec.md §4.G's reader-writer lock operations.
func RWLockInit(rw *sched.RWLockHandle) sched.ClientRequestTrap {
	return trap(sched.ReqRWLockInit, sched.PointerArg(unsafe.Pointer(rw)), 0, 0, 0)
}

func RWLockRDLock(rw *sched.RWLockHandle) sched.ClientRequestTrap {
	return trap(sched.ReqRWLockRDLock, sched.PointerArg(unsafe.Pointer(rw)), 0, 0, 0)
}

func RWLockWRLock(rw *sched.RWLockHandle) sched.ClientRequestTrap {
	return trap(sched.ReqRWLockWRLock, sched.PointerArg(unsafe.Pointer(rw)), 0, 0, 0)
}

func RWLockUnlock(rw *sched.RWLockHandle) sched.ClientRequestTrap {
	return trap(sched.ReqRWLockUnlock, sched.PointerArg(unsafe.Pointer(rw)), 0, 0, 0)
}

func RWLockDestroy(rw *sched.RWLockHandle) sched.ClientRequestTrap {
	return trap(sched.ReqRWLockDestroy, sched.PointerArg(unsafe.Pointer(rw)), 0, 0, 0)
}

// SemInit, SemWait, SemTryWait, SemPost, SemGetValue, SemDestroy build the
// traps for spec.md §4.G's counting semaphore.
func SemInit(sem *sched.SemHandle, pshared int, value uint32) sched.ClientRequestTrap {
	return trap(sched.ReqSemInit, sched.PointerArg(unsafe.Pointer(sem)), uintptr(pshared), uintptr(value), 0)
}

func SemWait(sem *sched.SemHandle) sched.ClientRequestTrap {
	return trap(sched.ReqSemWait, sched.PointerArg(unsafe.Pointer(sem)), 0, 0, 0)
}

func SemTryWait(sem *sched.SemHandle) sched.ClientRequestTrap {
	return trap(sched.ReqSemTryWait, sched.PointerArg(unsafe.Pointer(sem)), 0, 0, 0)
}

func SemPost(sem *sched.SemHandle) sched.ClientRequestTrap {
	return trap(sched.ReqSemPost, sched.PointerArg(unsafe.Pointer(sem)), 0, 0, 0)
}

func SemGetValue(sem *sched.SemHandle) sched.ClientRequestTrap {
	return trap(sched.ReqSemGetValue, sched.PointerArg(unsafe.Pointer(sem)), 0, 0, 0)
}

func SemDestroy(sem *sched.SemHandle) sched.ClientRequestTrap {
	return trap(sched.ReqSemDestroy, sched.PointerArg(unsafe.Pointer(sem)), 0, 0, 0)
}

// KeyCreate, KeyDelete, SetSpecific, GetSpecific build the traps for
// spec.md §4.G's thread-specific data keys.
func KeyCreate() sched.ClientRequestTrap {
	return trap(sched.ReqKeyCreate, 0, 0, 0, 0)
}

func KeyDelete(key uintptr) sched.ClientRequestTrap {
	return trap(sched.ReqKeyDelete, key, 0, 0, 0)
}

func SetSpecific(key uintptr, value uintptr) sched.ClientRequestTrap {
	return trap(sched.ReqSetSpecific, key, value, 0, 0)
}

func GetSpecific(key uintptr) sched.ClientRequestTrap {
	return trap(sched.ReqGetSpecific, key, 0, 0, 0)
}

// Once builds the trap for pthread_once. completed must be false on the
// first call and true on the replay issued after the caller has run its
// init routine (spec.md §4.G "Once").
func Once(ctrl uintptr, completed bool) sched.ClientRequestTrap {
	var done uintptr
	if completed {
		done = 1
	}
	return trap(sched.ReqOnce, ctrl, done, 0, 0)
}

// Create, Join, Exit, Cancel, Detach build the traps for spec.md §4.G's
// thread lifecycle.
func Create(startPC, startArg uint64, stackBase, stackSize uintptr) sched.ClientRequestTrap {
	return trap(sched.ReqThreadCreate, uintptr(startPC), uintptr(startArg), stackBase, stackSize)
}

func Join(target uintptr) sched.ClientRequestTrap {
	return trap(sched.ReqThreadJoin, target, 0, 0, 0)
}

func Exit(retval uintptr) sched.ClientRequestTrap {
	return trap(sched.ReqThreadExit, retval, 0, 0, 0)
}

func Cancel(target uintptr) sched.ClientRequestTrap {
	return trap(sched.ReqThreadCancel, target, 0, 0, 0)
}

func Detach(target uintptr) sched.ClientRequestTrap {
	return trap(sched.ReqThreadDetach, target, 0, 0, 0)
}

// SigMask, Kill, Raise, SigWait, SigAction build the traps for spec.md
// §4.G's signal surface.
func SigMask(how int, mask uint64, wantOld bool) sched.ClientRequestTrap {
	var want uintptr
	if wantOld {
		want = 1
	}
	return trap(sched.ReqSigMask, uintptr(how), uintptr(mask), want, 0)
}

func Kill(target uintptr, sig int) sched.ClientRequestTrap {
	return trap(sched.ReqKill, target, uintptr(sig), 0, 0)
}

func Raise(sig int) sched.ClientRequestTrap {
	return trap(sched.ReqRaise, uintptr(sig), 0, 0, 0)
}

func SigWait(waitSet uint64) sched.ClientRequestTrap {
	return trap(sched.ReqSigWait, uintptr(waitSet), 0, 0, 0)
}

func SigAction(sig int, hasHandler bool) sched.ClientRequestTrap {
	var h uintptr
	if hasHandler {
		h = 1
	}
	return trap(sched.ReqSigAction, uintptr(sig), h, 0, 0)
}
