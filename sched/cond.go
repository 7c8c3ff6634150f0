package sched

import "time"

func (s *Scheduler) ensureCondInit(h *CondHandle) CVID {
	if h.State == HandleNeedsInit {
		h.ID = s.allocCV()
		h.State = HandleInitialized
	}
	return h.ID
}

func (s *Scheduler) reqCondInit(tid ThreadID, args [4]uintptr) requestResult {
	h := condHandle(args[0])
	h.ID = s.allocCV()
	h.State = HandleInitialized
	return ok()
}

// reqCondWait implements spec.md §4.G cond_wait/cond_timedwait: atomically
// (from the guest's perspective — spec.md §5 needs no real atomics here)
// unlocks the associated mutex and parks the caller on the cv; on wake the
// scheduler reacquires the mutex on the caller's behalf (wakeCondWaiter),
// so the wait reply is delivered only once the caller owns it again.
func (s *Scheduler) reqCondWait(tid ThreadID, args [4]uintptr, timed bool) requestResult {
	cvH := condHandle(args[0])
	mxH := mutexHandle(args[1])
	cvID := s.ensureCondInit(cvH)
	mid := s.ensureMutexInit(mxH)

	// Unlock the mutex on the caller's behalf (spec.md: "atomically unlocks
	// m, parks the caller on cv").
	m := &s.mutexes[mid]
	if !m.held || m.owner != tid {
		return errResult(ENotPermitted)
	}
	unlockRes := s.reqMutexUnlock(tid, [4]uintptr{args[1]})
	if unlockRes.value != uintptr(EOK) {
		return unlockRes
	}

	t := s.thread(tid)
	t.status = StatusWaitCV
	t.waitedOnCV = cvID
	t.cvMutex = mid
	t.cvHasDeadline = false
	if timed {
		// args[2] is an absolute deadline in microseconds since the Unix
		// epoch, converted to a time.Time at full microsecond precision
		// (no division by 1_000_000 as in the source's suspected bug).
		deadlineMicros := int64(args[2])
		t.cvDeadline = time.Unix(0, deadlineMicros*int64(time.Microsecond))
		t.cvHasDeadline = true
	}
	return parkedResult()
}

// reqCondSignal implements cond_signal (wake at most one) and
// cond_broadcast (wake all). Waiters are recovered by scanning the thread
// table (spec.md §4.G "Waiters are kept ... as the set of threads with
// status == WaitCV").
func (s *Scheduler) reqCondSignal(tid ThreadID, args [4]uintptr, broadcast bool) requestResult {
	h := condHandle(args[0])
	if h.State == HandleNeedsInit {
		return ok()
	}
	cvID := h.ID
	for i := range s.threads {
		waiter := &s.threads[i]
		if waiter.status != StatusWaitCV || waiter.waitedOnCV != cvID {
			continue
		}
		s.wakeCondWaiter(ThreadID(i), uintptr(EOK))
		if !broadcast {
			break
		}
	}
	return ok()
}

// wakeCondWaiter reacquires the cv's associated mutex on the waiter's
// behalf if free, or parks it in WaitMX if contended — mirroring a real
// pthread implementation's "reacquire on wake" contract without requiring
// the client surface to issue a second request.
func (s *Scheduler) wakeCondWaiter(tid ThreadID, result uintptr) {
	t := s.thread(tid)
	mid := t.cvMutex
	t.waitedOnCV = NoCV
	t.cvHasDeadline = false

	m := &s.mutexes[mid]
	if !m.held {
		m.held = true
		m.owner = tid
		t.status = StatusRunnable
		t.regs.Result = result
		return
	}
	t.status = StatusWaitMX
	t.waitedOnMutex = mid
	t.hasResultOnGrant = true
	t.resultOnGrant = result // delivered once the mutex is actually granted
}

func (s *Scheduler) reqCondDestroy(tid ThreadID, args [4]uintptr) requestResult {
	h := condHandle(args[0])
	if h.State == HandleNeedsInit {
		return ok()
	}
	cvID := h.ID
	for i := range s.threads {
		if s.threads[i].status == StatusWaitCV && s.threads[i].waitedOnCV == cvID {
			return errResult(EBusy)
		}
	}
	s.conds[cvID] = cvSlot{}
	h.State = HandleNeedsInit
	return ok()
}

// expireTimedWaits promotes WaitCV threads whose deadline has passed,
// replaying the same "reacquire on wake" path as a signal (spec.md §4.G:
// "awoken with a timed-out reply and still must reacquire m"). Folded into
// Phase 1's wake-sleepers step since both are deadline-driven promotions.
func (s *Scheduler) expireTimedWaits() {
	now := s.cfg.Clock()
	for i := range s.threads {
		t := &s.threads[i]
		if t.status == StatusWaitCV && t.cvHasDeadline && !now.Before(t.cvDeadline) {
			s.wakeCondWaiter(ThreadID(i), uintptr(EWouldBlock)) // "timed-out" reply
		}
	}
}
