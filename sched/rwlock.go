package sched

// ensureRWLockInit lazily allocates the rwlock shadow and its two
// condition variables (spec.md §3 "Reader-writer lock shadow").
func (s *Scheduler) ensureRWLockInit(h *RWLockHandle) RWLockID {
	if h.State == HandleNeedsInit {
		id := s.allocRWLock()
		rw := &s.rwlocks[id]
		rw.readCV = s.allocCV()
		rw.writeCV = s.allocCV()
		h.ID = id
		h.State = HandleInitialized
	}
	return h.ID
}

func (s *Scheduler) reqRWLockInit(tid ThreadID, args [4]uintptr) requestResult {
	h := rwlockHandle(args[0])
	h.State = HandleNeedsInit
	s.ensureRWLockInit(h)
	return ok()
}

// reqRWLockLock implements spec.md §4.G rdlock/wrlock.
func (s *Scheduler) reqRWLockLock(tid ThreadID, args [4]uintptr, write bool) requestResult {
	h := rwlockHandle(args[0])
	id := s.ensureRWLockInit(h)
	rw := &s.rwlocks[id]
	t := s.thread(tid)

	if write {
		if rw.writerActive || rw.readersActive > 0 {
			rw.writersWaiting++
			t.status = StatusWaitCV
			t.waitedOnCV = rw.writeCV
			t.cvMutex = NoMutex
			return parkedResult()
		}
		rw.writerActive = true
		return ok()
	}

	if rw.writerActive {
		rw.readersWaiting++
		t.status = StatusWaitCV
		t.waitedOnCV = rw.readCV
		t.cvMutex = NoMutex
		return parkedResult()
	}
	rw.readersActive++
	return ok()
}

// reqRWLockUnlock implements spec.md §4.G unlock: determine which side
// held, release, and wake according to the preference policy.
func (s *Scheduler) reqRWLockUnlock(tid ThreadID, args [4]uintptr) requestResult {
	h := rwlockHandle(args[0])
	if h.State == HandleNeedsInit {
		return errResult(EInvalid)
	}
	rw := &s.rwlocks[h.ID]

	switch {
	case rw.writerActive:
		rw.writerActive = false
		s.rwlockWake(rw)
	case rw.readersActive > 0:
		rw.readersActive--
		if rw.readersActive == 0 {
			s.rwlockWake(rw)
		}
	default:
		return errResult(ENotPermitted)
	}
	return ok()
}

// rwlockWake implements the writer-preference handoff: on last-reader
// release or writer release, prefer the configured side; fall back to the
// other side if the preferred side is empty (spec.md §4.G).
func (s *Scheduler) rwlockWake(rw *rwlockShadow) {
	wakeWriter := func() bool {
		if rw.writersWaiting == 0 {
			return false
		}
		rw.writersWaiting--
		rw.writerActive = true
		s.wakeOneOnCV(rw.writeCV, NoMutex)
		return true
	}
	wakeAllReaders := func() bool {
		if rw.readersWaiting == 0 {
			return false
		}
		n := rw.readersWaiting
		rw.readersWaiting = 0
		rw.readersActive += n
		s.wakeAllOnCV(rw.readCV, NoMutex)
		return true
	}

	if rw.preferWriter {
		if wakeWriter() {
			return
		}
		wakeAllReaders()
		return
	}
	if wakeAllReaders() {
		return
	}
	wakeWriter()
}

func (s *Scheduler) reqRWLockDestroy(tid ThreadID, args [4]uintptr) requestResult {
	h := rwlockHandle(args[0])
	if h.State == HandleNeedsInit {
		return ok()
	}
	rw := &s.rwlocks[h.ID]
	if rw.writerActive || rw.readersActive > 0 || rw.readersWaiting > 0 || rw.writersWaiting > 0 {
		return errResult(EBusy)
	}
	s.conds[rw.readCV] = cvSlot{}
	s.conds[rw.writeCV] = cvSlot{}
	*rw = rwlockShadow{}
	h.State = HandleNeedsInit
	return ok()
}

// wakeOneOnCV and wakeAllOnCV promote WaitCV threads that are not bound to
// a guest mutex (rwlock waiters use cvMutex == NoMutex and go straight to
// Runnable rather than through the mutex-reacquire path cond_wait uses).
func (s *Scheduler) wakeOneOnCV(cv CVID, mutexBinding MutexID) {
	for i := range s.threads {
		t := &s.threads[i]
		if t.status == StatusWaitCV && t.waitedOnCV == cv {
			t.status = StatusRunnable
			t.waitedOnCV = NoCV
			t.regs.Result = uintptr(EOK)
			return
		}
	}
}

func (s *Scheduler) wakeAllOnCV(cv CVID, mutexBinding MutexID) {
	for i := range s.threads {
		t := &s.threads[i]
		if t.status == StatusWaitCV && t.waitedOnCV == cv {
			t.status = StatusRunnable
			t.waitedOnCV = NoCV
			t.regs.Result = uintptr(EOK)
		}
	}
}
