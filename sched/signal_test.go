package sched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSigMaskBlockUnblockSetMask(t *testing.T) {
	s := newTestScheduler(t)

	res := s.reqSigMask(0, [4]uintptr{SigBlock, 1 << 5, 1})
	require.Equal(t, uintptr(0), res.value) // old mask was empty
	require.Equal(t, uint64(1<<5), s.threads[0].sigMask)

	res = s.reqSigMask(0, [4]uintptr{SigBlock, 1 << 9, 1})
	require.Equal(t, uintptr(1<<5), res.value)
	require.Equal(t, uint64(1<<5|1<<9), s.threads[0].sigMask)

	res = s.reqSigMask(0, [4]uintptr{SigUnblock, 1 << 5, 0})
	require.Equal(t, uintptr(EOK), res.value)
	require.Equal(t, uint64(1<<9), s.threads[0].sigMask)

	res = s.reqSigMask(0, [4]uintptr{SigSetMask, 0, 0})
	require.Equal(t, uint64(0), s.threads[0].sigMask)
}

func TestKillQueuesSignalForTarget(t *testing.T) {
	s := newTestScheduler(t)
	s.reqThreadCreate(0, [4]uintptr{0, 0, 0, 0}) // thread 1

	res := s.reqKill(0, [4]uintptr{1, 7})
	require.Equal(t, uintptr(EOK), res.value)
	require.Equal(t, []int{7}, s.pendingSigs[1])
}

func TestKillInvalidTargetIsRejected(t *testing.T) {
	s := newTestScheduler(t)
	res := s.reqKill(0, [4]uintptr{99, 7})
	require.Equal(t, uintptr(EInvalid), res.value)
}

func TestSigWaitConsumesAlreadyPendingSignal(t *testing.T) {
	s := newTestScheduler(t)
	s.pendingSigs[0] = []int{3, 9}

	res := s.reqSigWait(0, [4]uintptr{sigBit(9)})
	require.False(t, res.parked)
	require.Equal(t, uintptr(9), res.value)
	require.Equal(t, []int{3}, s.pendingSigs[0])
}

func TestSigWaitParksUntilDeliverPendingSignals(t *testing.T) {
	s := newTestScheduler(t)
	res := s.reqSigWait(0, [4]uintptr{sigBit(5)})
	require.True(t, res.parked)
	require.Equal(t, StatusWaitSignal, s.threads[0].status)

	require.Equal(t, uintptr(EOK), s.reqKill(0, [4]uintptr{0, 5}).value)
	s.deliverPendingSignals()

	require.Equal(t, StatusRunnable, s.threads[0].status)
	require.Equal(t, uintptr(5), s.threads[0].regs.Result)
}

func TestDeliverPendingSignalsRespectsMask(t *testing.T) {
	s := newTestScheduler(t)
	require.Equal(t, uintptr(EOK), s.reqSigMask(0, [4]uintptr{SigBlock, sigBit(5), 0}).value)
	require.Equal(t, uintptr(EOK), s.reqKill(0, [4]uintptr{0, 5}).value)

	s.deliverPendingSignals()

	require.Equal(t, StatusRunnable, s.threads[0].status, "a blocked signal must not change thread status")
	require.Equal(t, []int{5}, s.pendingSigs[0], "a blocked signal stays queued")
}

func TestDeliverPendingSignalsInterruptsWaitFD(t *testing.T) {
	s := newTestScheduler(t)
	s.threads[0].status = StatusWaitFD
	s.fdwaits[0] = fdWaitSlot{inUse: true, tid: 0, fd: 3, syscallNo: SysRead}

	require.Equal(t, uintptr(EOK), s.reqKill(0, [4]uintptr{0, 2}).value)
	s.deliverPendingSignals()

	require.Equal(t, StatusRunnable, s.threads[0].status)
	require.False(t, s.fdwaits[0].inUse, "the interrupted descriptor-wait slot must be released")
}

func TestSigActionRecordsHandlerPresence(t *testing.T) {
	s := newTestScheduler(t)
	res := s.reqSigAction(0, [4]uintptr{11, 1})
	require.Equal(t, uintptr(EOK), res.value)
	require.True(t, s.sigActions[11].hasHandler)
}

func TestSigActionRejectsOutOfRangeSignal(t *testing.T) {
	s := newTestScheduler(t)
	res := s.reqSigAction(0, [4]uintptr{999, 1})
	require.Equal(t, uintptr(EInvalid), res.value)
}
