package sched

// Request codes recognized by the demux (spec.md §6 "Request channel").
// The first block ("trivial") is answered inline in Phase 2 without the
// thread leaving dispatch; everything after falls through to Phase 3.
const (
	ReqMalloc uint32 = iota
	ReqFree
	ReqRealloc
	ReqCalloc
	ReqMemalign
	ReqOpNew
	ReqOpNewArray
	ReqOpDelete
	ReqOpDeleteArray
	ReqSelfID // identity-of-calling-thread

	reqTrivialBoundary // everything before this line is trivial

	ReqThreadCreate
	ReqThreadJoin
	ReqThreadExit
	ReqThreadCancel
	ReqThreadDetach

	ReqMutexInit
	ReqMutexLock
	ReqMutexTryLock
	ReqMutexUnlock
	ReqMutexDestroy

	ReqCondInit
	ReqCondWait
	ReqCondTimedWait
	ReqCondSignal
	ReqCondBroadcast
	ReqCondDestroy

	ReqRWLockInit
	ReqRWLockRDLock
	ReqRWLockWRLock
	ReqRWLockUnlock
	ReqRWLockDestroy

	ReqSemInit
	ReqSemWait
	ReqSemTryWait
	ReqSemPost
	ReqSemGetValue
	ReqSemDestroy

	ReqKeyCreate
	ReqKeyDelete
	ReqSetSpecific
	ReqGetSpecific

	ReqOnce

	ReqSigMask
	ReqKill
	ReqRaise
	ReqSigWait
	ReqSigAction

	ReqReadMillisTimer
	ReqGetTraceLevel
	ReqShutdown

	ReqMemAnnotation // routed to the external shadow-memory collaborator
)

// isTrivial reports whether code is purely thread-local and must be
// answered inline in Phase 2 (spec.md §4.F Phase 2).
func (s *Scheduler) isTrivial(code uint32) bool {
	return code < reqTrivialBoundary
}

// requestResult is the outcome of handling one client request.
type requestResult struct {
	// parked is true when the caller's status has already been set to a
	// Wait* state by the handler and no reply should be written yet
	// (spec.md §4.G mutex lock: "no reply yet").
	parked bool
	value  uintptr
}

func ok() requestResult                   { return requestResult{value: uintptr(EOK)} }
func errResult(e Errno) requestResult     { return requestResult{value: uintptr(e)} }
func valueResult(v uintptr) requestResult { return requestResult{value: v} }
func parkedResult() requestResult         { return requestResult{parked: true} }

// handleTrivialRequest answers a trivial client request (spec.md §6:
// "heap allocation ... and identity-of-calling-thread"). These never touch
// scheduling state.
func (s *Scheduler) handleTrivialRequest(tid ThreadID, req ClientRequestTrap) uintptr {
	switch req.Code {
	case ReqSelfID:
		return uintptr(tid)
	case ReqMalloc, ReqCalloc, ReqRealloc, ReqMemalign, ReqOpNew, ReqOpNewArray:
		return s.fakeAlloc(req.Args[0])
	case ReqFree, ReqOpDelete, ReqOpDeleteArray:
		return 0
	default:
		s.fatalf("unknown trivial request code %d", req.Code)
		return 0
	}
}

// fakeAllocState is a monotonically increasing stand-in for a real heap
// allocator. Real client-heap bookkeeping is out of scope (spec.md §1); a
// bump cursor is enough to give every allocation request a distinct,
// non-zero handle for a guest program to round-trip.
var fakeAllocState uint64 = 0x1000

func (s *Scheduler) fakeAlloc(size uintptr) uintptr {
	fakeAllocState += uint64(size) + 16
	return uintptr(fakeAllocState)
}

// handleNonTrivialRequest routes a non-trivial client request to its
// component handler (spec.md §4.H), writing the reply into the caller's
// result register unless the handler parked the caller.
func (s *Scheduler) handleNonTrivialRequest(tid ThreadID, req ClientRequestTrap) {
	// A pending deferred cancellation takes effect at the caller's next
	// non-trivial request, which is then not performed.
	if t := s.thread(tid); t.cancelPending && t.cancelState == CancelEnable {
		s.cancelNow(tid)
		return
	}

	var res requestResult
	switch req.Code {
	case ReqThreadCreate:
		res = s.reqThreadCreate(tid, req.Args)
	case ReqThreadJoin:
		res = s.reqThreadJoin(tid, req.Args)
	case ReqThreadExit:
		res = s.reqThreadExit(tid, req.Args)
	case ReqThreadCancel:
		res = s.reqThreadCancel(tid, req.Args)
	case ReqThreadDetach:
		res = s.reqThreadDetach(tid, req.Args)

	case ReqMutexInit:
		res = s.reqMutexInit(tid, req.Args)
	case ReqMutexLock:
		res = s.reqMutexLock(tid, req.Args, false)
	case ReqMutexTryLock:
		res = s.reqMutexLock(tid, req.Args, true)
	case ReqMutexUnlock:
		res = s.reqMutexUnlock(tid, req.Args)
	case ReqMutexDestroy:
		res = s.reqMutexDestroy(tid, req.Args)

	case ReqCondInit:
		res = s.reqCondInit(tid, req.Args)
	case ReqCondWait:
		res = s.reqCondWait(tid, req.Args, false)
	case ReqCondTimedWait:
		res = s.reqCondWait(tid, req.Args, true)
	case ReqCondSignal:
		res = s.reqCondSignal(tid, req.Args, false)
	case ReqCondBroadcast:
		res = s.reqCondSignal(tid, req.Args, true)
	case ReqCondDestroy:
		res = s.reqCondDestroy(tid, req.Args)

	case ReqRWLockInit:
		res = s.reqRWLockInit(tid, req.Args)
	case ReqRWLockRDLock:
		res = s.reqRWLockLock(tid, req.Args, false)
	case ReqRWLockWRLock:
		res = s.reqRWLockLock(tid, req.Args, true)
	case ReqRWLockUnlock:
		res = s.reqRWLockUnlock(tid, req.Args)
	case ReqRWLockDestroy:
		res = s.reqRWLockDestroy(tid, req.Args)

	case ReqSemInit:
		res = s.reqSemInit(tid, req.Args)
	case ReqSemWait:
		res = s.reqSemWait(tid, req.Args, false)
	case ReqSemTryWait:
		res = s.reqSemWait(tid, req.Args, true)
	case ReqSemPost:
		res = s.reqSemPost(tid, req.Args)
	case ReqSemGetValue:
		res = s.reqSemGetValue(tid, req.Args)
	case ReqSemDestroy:
		res = s.reqSemDestroy(tid, req.Args)

	case ReqKeyCreate:
		res = s.reqKeyCreate(tid, req.Args)
	case ReqKeyDelete:
		res = s.reqKeyDelete(tid, req.Args)
	case ReqSetSpecific:
		res = s.reqSetSpecific(tid, req.Args)
	case ReqGetSpecific:
		res = s.reqGetSpecific(tid, req.Args)

	case ReqOnce:
		res = s.reqOnce(tid, req.Args)

	case ReqSigMask:
		res = s.reqSigMask(tid, req.Args)
	case ReqKill:
		res = s.reqKill(tid, req.Args)
	case ReqRaise:
		res = s.reqRaise(tid, req.Args)
	case ReqSigWait:
		res = s.reqSigWait(tid, req.Args)
	case ReqSigAction:
		res = s.reqSigAction(tid, req.Args)

	case ReqReadMillisTimer:
		res = valueResult(uintptr(s.cfg.Clock().UnixMilli()))
	case ReqGetTraceLevel:
		res = valueResult(0)
	case ReqShutdown:
		s.shutdownRequested = true
		res = ok()
	case ReqMemAnnotation:
		res = ok() // external shadow-memory collaborator, out of scope.

	default:
		s.fatalf("unknown non-trivial request code %d", req.Code)
	}

	if !res.parked {
		s.thread(tid).regs.Result = res.value
	}
}
