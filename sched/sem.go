package sched

// ensureSemInit lazily allocates a semaphore shadow's backing condition
// variable (spec.md §3: "internal_mutex, internal_cond, count"). The
// internal_mutex of the spec's shadow model needs no table slot of its own:
// wait/post run directly against scheduler-owned state under the
// single-host-thread invariant, the same way mutex.go itself does, so there
// is nothing for a separate guest-visible mutex handle to serialize.
func (s *Scheduler) ensureSemInit(h *SemHandle, initial int64) SemID {
	if h.State == HandleNeedsInit {
		id := s.allocSem()
		sem := &s.sems[id]
		sem.cv = s.allocCV()
		sem.count = initial
		h.ID = id
		h.State = HandleInitialized
	}
	return h.ID
}

// reqSemInit implements sem_init. Process-shared semaphores have no
// meaning under a single-host-thread scheduler with no shared memory
// segment backing them, so pshared != 0 is rejected (spec.md §4.G
// "reject process-shared").
func (s *Scheduler) reqSemInit(tid ThreadID, args [4]uintptr) requestResult {
	pshared := args[1]
	if pshared != 0 {
		return errResult(ENotSupported)
	}
	h := semHandle(args[0])
	h.State = HandleNeedsInit
	s.ensureSemInit(h, int64(args[2]))
	return ok()
}

// reqSemWait implements sem_wait/sem_trywait: decrements count if positive,
// else parks the caller as a condition-variable waiter on the semaphore's
// internal cv (spec.md §4.G).
func (s *Scheduler) reqSemWait(tid ThreadID, args [4]uintptr, try bool) requestResult {
	h := semHandle(args[0])
	id := s.ensureSemInit(h, 0)
	sem := &s.sems[id]

	if sem.count > 0 {
		sem.count--
		return ok()
	}
	if try {
		return errResult(EWouldBlock)
	}

	t := s.thread(tid)
	t.status = StatusWaitCV
	t.waitedOnCV = sem.cv
	t.cvMutex = NoMutex
	t.cvHasDeadline = false
	return parkedResult()
}

// reqSemPost implements sem_post: if a waiter is parked, the post is handed
// directly to the lowest-indexed one (it becomes Runnable and count stays
// unchanged); otherwise count is incremented.
func (s *Scheduler) reqSemPost(tid ThreadID, args [4]uintptr) requestResult {
	h := semHandle(args[0])
	if h.State == HandleNeedsInit {
		return errResult(EInvalid)
	}
	sem := &s.sems[h.ID]

	for i := range s.threads {
		waiter := &s.threads[i]
		if waiter.status == StatusWaitCV && waiter.waitedOnCV == sem.cv {
			waiter.status = StatusRunnable
			waiter.waitedOnCV = NoCV
			waiter.regs.Result = uintptr(EOK)
			return ok()
		}
	}
	sem.count++
	return ok()
}

func (s *Scheduler) reqSemGetValue(tid ThreadID, args [4]uintptr) requestResult {
	h := semHandle(args[0])
	if h.State == HandleNeedsInit {
		return valueResult(0)
	}
	return valueResult(uintptr(s.sems[h.ID].count))
}

func (s *Scheduler) reqSemDestroy(tid ThreadID, args [4]uintptr) requestResult {
	h := semHandle(args[0])
	if h.State == HandleNeedsInit {
		return ok()
	}
	sem := &s.sems[h.ID]
	for i := range s.threads {
		if s.threads[i].status == StatusWaitCV && s.threads[i].waitedOnCV == sem.cv {
			return errResult(EBusy)
		}
	}
	s.conds[sem.cv] = cvSlot{}
	*sem = semShadow{}
	h.State = HandleNeedsInit
	return ok()
}
