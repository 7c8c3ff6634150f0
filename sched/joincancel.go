package sched

// reqThreadCreate implements pthread_create: allocates a fresh thread
// record, seeds its register file with the start routine's entry point and
// argument, and leaves it Runnable for Phase 1 to pick up (spec.md §4.G
// "Thread lifecycle").
func (s *Scheduler) reqThreadCreate(tid ThreadID, args [4]uintptr) requestResult {
	startPC := uint64(args[0])
	startArg := uint64(args[1])
	stackBase := args[2]
	stackSize := args[3]

	child := s.allocThread()
	t := s.thread(child)
	t.status = StatusRunnable
	t.regs.PC = startPC
	t.regs.GPR[0] = startArg
	t.stackBase = stackBase
	t.stackSize = stackSize
	t.ownsStack = true
	return valueResult(uintptr(child))
}

// reqThreadJoin implements pthread_join. If the target already exited, the
// retval is collected immediately; otherwise the caller parks as
// StatusWaitJoinee and the target records the joiner so reqThreadExit can
// wake it directly (spec.md §4.G). A self-join is rejected with EDeadlock.
func (s *Scheduler) reqThreadJoin(tid ThreadID, args [4]uintptr) requestResult {
	target := ThreadID(args[0])
	if target == tid {
		return errResult(EDeadlock)
	}
	if target < 0 || int(target) >= len(s.threads) {
		return errResult(EInvalid)
	}
	tt := s.thread(target)
	if tt.status == StatusEmpty {
		return errResult(EInvalid)
	}
	if tt.detached {
		return errResult(ENotPermitted)
	}
	if tt.joiner != NoThread && tt.joiner != tid {
		return errResult(EBusy) // only one joiner permitted at a time
	}

	if tt.exited {
		retval := tt.retval
		s.freeThread(target)
		return valueResult(retval)
	}

	tt.joiner = tid
	t := s.thread(tid)
	t.status = StatusWaitJoinee
	t.waitedOnCV = NoCV
	return parkedResult()
}

// reqThreadExit implements pthread_exit: records the return value and
// either hands off directly to a waiting joiner or marks the slot exited
// for a joiner that arrives later (spec.md §4.G).
func (s *Scheduler) reqThreadExit(tid ThreadID, args [4]uintptr) requestResult {
	t := s.thread(tid)
	t.retval = args[0]
	t.exited = true

	if t.joiner != NoThread {
		joiner := s.thread(t.joiner)
		joiner.status = StatusRunnable
		joiner.regs.Result = t.retval
		s.freeThread(tid)
		return parkedResult()
	}

	if t.detached {
		s.freeThread(tid)
		return parkedResult()
	}

	// Exited but undetached with no joiner yet: keep the slot (marked
	// exited) so a future pthread_join can still collect it.
	t.status = StatusWaitJoiner
	return parkedResult()
}

// reqThreadCancel implements pthread_cancel: marks cancellation pending.
// Deferred-cancel threads only act on it at the next cancellation point
// (modeled here as the next client request dispatch); asynchronous-cancel
// threads are torn down immediately if not already inside a non-cancelable
// region (spec.md §4.G "Cancellation").
func (s *Scheduler) reqThreadCancel(tid ThreadID, args [4]uintptr) requestResult {
	target := ThreadID(args[0])
	if target < 0 || int(target) >= len(s.threads) {
		return errResult(EInvalid)
	}
	tt := s.thread(target)
	if tt.status == StatusEmpty || tt.exited {
		return errResult(EInvalid)
	}
	if tt.cancelState == CancelDisable {
		tt.cancelPending = true
		return ok()
	}

	tt.cancelPending = true
	if tt.cancelType == CancelAsynchronous {
		s.cancelNow(target)
	}
	return ok()
}

// cancelNow runs the cancellation trampoline: the thread's retval becomes
// the PTHREAD_CANCELED sentinel (spec.md uses -1 cast to uintptr) and it
// exits exactly as if it had called pthread_exit with that value.
// A target parked in WaitCV, WaitMX or WaitFD gets no special handling: it
// is torn down like any other target, and a descriptor-wait slot or rwlock
// waiting count it holds is left as it was.
func (s *Scheduler) cancelNow(target ThreadID) {
	t := s.thread(target)
	if t.canceled {
		return
	}
	t.canceled = true
	t.cancelPending = false
	t.status = StatusRunnable
	s.reqThreadExit(target, [4]uintptr{uintptr(^uint(0))})
}

func (s *Scheduler) reqThreadDetach(tid ThreadID, args [4]uintptr) requestResult {
	target := ThreadID(args[0])
	if target < 0 || int(target) >= len(s.threads) {
		return errResult(EInvalid)
	}
	tt := s.thread(target)
	if tt.status == StatusEmpty {
		return errResult(EInvalid)
	}
	if tt.joiner != NoThread {
		return errResult(EBusy) // someone is already joining it
	}
	tt.detached = true
	if tt.exited {
		s.freeThread(target)
	}
	return ok()
}
