package sched

// ensureMutexInit performs the lazy-initialization-on-first-use described
// in spec.md §4.G: "a guest 'count' word signals initialization (0 =
// uninitialized; lazy-init on first lock)", generalized per Design Notes
// §9 into the explicit HandleState sentinel.
func (s *Scheduler) ensureMutexInit(h *MutexHandle) MutexID {
	if h.State == HandleNeedsInit {
		h.ID = s.allocMutex()
		h.State = HandleInitialized
	}
	return h.ID
}

func (s *Scheduler) reqMutexInit(tid ThreadID, args [4]uintptr) requestResult {
	h := mutexHandle(args[0])
	h.ID = s.allocMutex()
	h.State = HandleInitialized
	return ok()
}

// reqMutexLock implements spec.md §4.G lock/trylock. Tie-break among
// waiters is "lowest thread index wins" (deterministic, documented
// contract), enforced by unlock's linear scan in reqMutexUnlock.
func (s *Scheduler) reqMutexLock(tid ThreadID, args [4]uintptr, try bool) requestResult {
	h := mutexHandle(args[0])
	mid := s.ensureMutexInit(h)
	m := &s.mutexes[mid]

	if m.held && m.owner == tid {
		return errResult(EDeadlock)
	}
	if m.held {
		if try {
			return errResult(EBusy)
		}
		t := s.thread(tid)
		t.status = StatusWaitMX
		t.waitedOnMutex = mid
		return parkedResult()
	}

	m.held = true
	m.owner = tid
	return ok()
}

// reqMutexUnlock implements spec.md §4.G unlock: validates ownership, then
// hands the mutex to the lowest-indexed waiter if any, else clears held.
func (s *Scheduler) reqMutexUnlock(tid ThreadID, args [4]uintptr) requestResult {
	h := mutexHandle(args[0])
	if h.State == HandleNeedsInit {
		return errResult(EInvalid)
	}
	mid := h.ID
	m := &s.mutexes[mid]
	if !m.held || m.owner != tid {
		return errResult(ENotPermitted)
	}

	for i := range s.threads {
		waiter := &s.threads[i]
		if waiter.status == StatusWaitMX && waiter.waitedOnMutex == mid {
			waiter.status = StatusRunnable
			if waiter.hasResultOnGrant {
				waiter.regs.Result = waiter.resultOnGrant
				waiter.hasResultOnGrant = false
			} else {
				waiter.regs.Result = uintptr(EOK)
			}
			m.owner = ThreadID(i)
			return ok()
		}
	}

	m.held = false
	m.owner = NoThread
	return ok()
}

func (s *Scheduler) reqMutexDestroy(tid ThreadID, args [4]uintptr) requestResult {
	h := mutexHandle(args[0])
	if h.State == HandleNeedsInit {
		return ok()
	}
	m := &s.mutexes[h.ID]
	if m.held {
		return errResult(EBusy)
	}
	*m = mutexSlot{}
	h.State = HandleNeedsInit
	return ok()
}
