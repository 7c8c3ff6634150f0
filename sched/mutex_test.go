package sched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutexLockUnlockOwnership(t *testing.T) {
	s := newTestScheduler(t)
	h := &MutexHandle{}
	args := [4]uintptr{PointerArg(pointerOf(h))}

	res := s.reqMutexLock(0, args, false)
	require.False(t, res.parked)
	require.Equal(t, uintptr(EOK), res.value)
	require.True(t, s.mutexes[h.ID].held)
	require.Equal(t, ThreadID(0), s.mutexes[h.ID].owner)

	res = s.reqMutexUnlock(0, args)
	require.Equal(t, uintptr(EOK), res.value)
	require.False(t, s.mutexes[h.ID].held)
	require.Equal(t, NoThread, s.mutexes[h.ID].owner)
}

// TestMutexSelfRelockIsDeadlock covers universal property 1 indirectly: a
// thread can never observe holding its own mutex twice without detecting it.
func TestMutexSelfRelockIsDeadlock(t *testing.T) {
	s := newTestScheduler(t)
	h := &MutexHandle{}
	args := [4]uintptr{PointerArg(pointerOf(h))}

	require.Equal(t, uintptr(EOK), s.reqMutexLock(0, args, false).value)
	res := s.reqMutexLock(0, args, false)
	require.Equal(t, uintptr(EDeadlock), res.value)
}

func TestMutexTryLockBusy(t *testing.T) {
	s := newTestScheduler(t)
	h := &MutexHandle{}
	args := [4]uintptr{PointerArg(pointerOf(h))}

	require.Equal(t, uintptr(EOK), s.reqMutexLock(0, args, false).value)
	res := s.reqMutexLock(1, args, true)
	require.Equal(t, uintptr(EBusy), res.value)
	require.False(t, res.parked)
}

// TestMutexContendedLockParksAndHandsOff covers universal properties 2 and 7:
// a contended locker is parked in WaitMX, and on unlock is handed the mutex
// directly rather than having to race for it.
func TestMutexContendedLockParksAndHandsOff(t *testing.T) {
	s := newTestScheduler(t)
	h := &MutexHandle{}
	args := [4]uintptr{PointerArg(pointerOf(h))}

	require.Equal(t, uintptr(EOK), s.reqMutexLock(0, args, false).value)

	res := s.reqMutexLock(1, args, false)
	require.True(t, res.parked)
	require.Equal(t, StatusWaitMX, s.threads[1].status)
	require.Equal(t, h.ID, s.threads[1].waitedOnMutex)

	unlockRes := s.reqMutexUnlock(0, args)
	require.Equal(t, uintptr(EOK), unlockRes.value)

	require.Equal(t, StatusRunnable, s.threads[1].status)
	require.Equal(t, uintptr(EOK), s.threads[1].regs.Result)
	require.True(t, s.mutexes[h.ID].held)
	require.Equal(t, ThreadID(1), s.mutexes[h.ID].owner)
}

func TestMutexUnlockByNonOwnerIsNotPermitted(t *testing.T) {
	s := newTestScheduler(t)
	h := &MutexHandle{}
	args := [4]uintptr{PointerArg(pointerOf(h))}

	require.Equal(t, uintptr(EOK), s.reqMutexLock(0, args, false).value)
	res := s.reqMutexUnlock(1, args)
	require.Equal(t, uintptr(ENotPermitted), res.value)
}

func TestMutexDestroyWhileHeldIsBusy(t *testing.T) {
	s := newTestScheduler(t)
	h := &MutexHandle{}
	args := [4]uintptr{PointerArg(pointerOf(h))}

	require.Equal(t, uintptr(EOK), s.reqMutexLock(0, args, false).value)
	res := s.reqMutexDestroy(0, args)
	require.Equal(t, uintptr(EBusy), res.value)
}

func TestMutexTableExhaustionIsFatal(t *testing.T) {
	s := newTestScheduler(t, WithCapacities(8, 1, 8, 8, 8, 8, 8))
	h1 := &MutexHandle{}
	h2 := &MutexHandle{}
	require.Equal(t, uintptr(EOK), s.reqMutexInit(0, [4]uintptr{PointerArg(pointerOf(h1))}).value)

	_, hit := requireFatal(func() {
		s.reqMutexInit(0, [4]uintptr{PointerArg(pointerOf(h2))})
	})
	require.True(t, hit)
}
