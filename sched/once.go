package sched

// onceMaster tracks in-flight pthread_once control words, guarded by a
// single global master lock (spec.md §4.G "Once"). There is exactly one
// master lock for the whole scheduler, not one per once_t: the real
// libpthread serializes all once-control execution through one
// non-recursive lock, and a guest that recurses into pthread_once from
// inside its own init routine has hit undefined behavior we treat as fatal.
type onceMaster struct {
	holder  ThreadID
	done    map[uintptr]bool
}

// reqOnce implements pthread_once: args[0] is the guest once-control word's
// address, args[1] is non-zero if the caller's init routine already ran to
// completion (the client surface runs the routine itself and replays this
// request to record completion — spec.md §1 notes routine dispatch is the
// external GuestRunner's concern, not the scheduler's).
func (s *Scheduler) reqOnce(tid ThreadID, args [4]uintptr) requestResult {
	ctrl := args[0]
	completed := args[1] != 0

	if s.onceState.done == nil {
		s.onceState.done = make(map[uintptr]bool)
		s.onceState.holder = NoThread
	}

	if completed {
		s.onceState.done[ctrl] = true
		if s.onceState.holder == tid {
			s.onceState.holder = NoThread
		}
		return ok()
	}

	if s.onceState.done[ctrl] {
		return valueResult(1) // already run; client surface skips the routine
	}

	if s.onceState.holder == tid {
		s.fatalf("pthread_once recursively entered by thread %d", tid)
	}
	if s.onceState.holder != NoThread {
		// Another thread is mid-init; Design Notes §9 resolves this by
		// leaving recursive/concurrent contention management to the client
		// surface instead of modeling a second wait queue here.
		return errResult(EBusy)
	}

	s.onceState.holder = tid
	return valueResult(0) // caller must run the routine, then replay with completed=1
}
