package sched

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/coresched/vgsched/sched/hostio"
)

// Syscall numbers classified specially by the shim (spec.md §4.E). All
// other numbers are assumed non-blocking and executed straight through.
const (
	SysNanosleep = uintptr(unix.SYS_NANOSLEEP)
	SysRead      = uintptr(unix.SYS_READ)
	SysWrite     = uintptr(unix.SYS_WRITE)
)

// HostSyscall lets tests substitute a fake host syscall executor; the
// production implementation shells out to golang.org/x/sys/unix directly.
// Guest memory is out of scope (spec.md §1 "shadow-memory bookkeeping"),
// so Read/Write operate on scheduler-owned scratch buffers sized by the
// guest-requested length rather than a guest virtual address.
type HostSyscall interface {
	Read(fd int, length int) (int, error)
	Write(fd int, length int) (int, error)
}

// unixHostSyscall is the production HostSyscall, grounded directly on
// golang.org/x/sys/unix (the same package the teacher uses for its
// ptrace/wait4 plumbing).
type unixHostSyscall struct{}

func (unixHostSyscall) Read(fd int, length int) (int, error) {
	return unix.Read(fd, make([]byte, length))
}

func (unixHostSyscall) Write(fd int, length int) (int, error) {
	return unix.Write(fd, make([]byte, length))
}

// handleSyscallTrap implements §4.E's per-number classification. Called
// from Phase 3 with the trapping thread's id and the decoded syscall.
func (s *Scheduler) handleSyscallTrap(tid ThreadID, call SyscallTrap) {
	switch call.No {
	case SysNanosleep:
		s.startNanosleep(tid, call)
	case SysRead:
		s.startNonblockingIO(tid, call, false)
	case SysWrite:
		s.startNonblockingIO(tid, call, true)
	default:
		// "All other syscalls are assumed non-blocking and executed
		// straight through." vgsched has no host process to execute
		// arbitrary syscalls against on the caller's behalf; the result
		// register is left untouched and the thread stays Runnable, which
		// is the correct externally-observable effect for a syscall that
		// the shim does not need to intercept.
	}
}

// startNanosleep marks the thread Sleeping with an absolute deadline; it
// never reaches the host (spec.md §4.E).
func (s *Scheduler) startNanosleep(tid ThreadID, call SyscallTrap) {
	requestedNanos := int64(call.Args[0])
	t := s.thread(tid)
	t.status = StatusSleeping
	t.awakenAt = s.cfg.Clock().Add(time.Duration(requestedNanos))
}

// startNonblockingIO implements the read/write speculative-execution
// protocol of spec.md §4.E: flip non-blocking, execute speculatively; if it
// doesn't return EAGAIN, treat as a normal completion; otherwise park the
// thread in a descriptor-wait slot.
func (s *Scheduler) startNonblockingIO(tid ThreadID, call SyscallTrap, write bool) {
	fd := int(call.Args[0])
	length := int(call.Args[2])
	savedResult := s.thread(tid).regs.Result

	wasNonblocking, err := s.fdIsNonblocking(fd)
	if err != nil {
		s.completeSyscall(tid, negatedErrno(err))
		return
	}
	if !wasNonblocking {
		if err := hostio.SetNonblock(fd, true); err != nil {
			s.completeSyscall(tid, negatedErrno(err))
			return
		}
	}

	n, ioErr := s.speculativeIO(fd, length, write)
	if ioErr == unix.EAGAIN || ioErr == unix.EWOULDBLOCK {
		s.thread(tid).regs.Result = savedResult
		s.parkOnFD(tid, fd, call.No, length)
		return
	}
	if !wasNonblocking {
		_ = hostio.SetNonblock(fd, false)
	}
	if ioErr != nil {
		s.completeSyscall(tid, negatedErrno(ioErr))
		return
	}
	s.completeSyscall(tid, uintptr(n))
}

func (s *Scheduler) speculativeIO(fd int, length int, write bool) (int, error) {
	if !s.probeLimiter.TryAcquire() {
		return 0, unix.EAGAIN
	}
	defer s.probeLimiter.Release()

	if write {
		return s.hostSyscall.Write(fd, length)
	}
	return s.hostSyscall.Read(fd, length)
}

// fdIsNonblocking queries the host for a descriptor's current blocking
// mode, so the shim can restore it after a completed speculative syscall.
func (s *Scheduler) fdIsNonblocking(fd int) (bool, error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return false, err
	}
	return flags&unix.O_NONBLOCK != 0, nil
}

// parkOnFD inserts a descriptor-wait slot and parks the thread (spec.md
// §4.E).
func (s *Scheduler) parkOnFD(tid ThreadID, fd int, syscallNo uintptr, length int) {
	slot := s.allocFDWait()
	s.fdwaits[slot] = fdWaitSlot{inUse: true, tid: tid, fd: fd, syscallNo: syscallNo, length: length}
	s.thread(tid).status = StatusWaitFD
}

func (s *Scheduler) completeSyscall(tid ThreadID, result uintptr) {
	t := s.thread(tid)
	t.regs.Result = result
	t.status = StatusRunnable
}

// negatedErrno implements the "host syscall error propagated as the
// negated host errno" contract (spec.md §7).
func negatedErrno(err error) uintptr {
	if errno, ok := err.(unix.Errno); ok {
		return uintptr(-int64(errno))
	}
	return uintptr(^uintptr(0)) // -1
}

// pollReadiness implements Phase 1 step 4: build descriptor sets from
// not-yet-ready fd-wait slots, poll the host, and mark slots ready. A fd
// firing in more than one set is a fatal invariant violation (spec.md
// §4.E). Host signals are masked around the poll.
func (s *Scheduler) pollReadiness() {
	var sets hostio.ReadinessSets
	indexOf := map[int][]int{} // fd -> fdwait slot indices pending
	for i := range s.fdwaits {
		slot := &s.fdwaits[i]
		if !slot.inUse || slot.ready {
			continue
		}
		switch slot.syscallNo {
		case SysRead:
			sets.Read = append(sets.Read, slot.fd)
		case SysWrite:
			sets.Write = append(sets.Write, slot.fd)
		}
		indexOf[slot.fd] = append(indexOf[slot.fd], i)
	}
	if len(sets.Read) == 0 && len(sets.Write) == 0 {
		return
	}

	restore, err := hostio.MaskAllSignals()
	if err != nil {
		s.fatalf("unable to mask signals around readiness poll: %v", err)
	}
	res, err := hostio.Poll(sets)
	restore()
	if err != nil {
		s.fatalf("host readiness poll failed: %v", err)
	}

	for fd, fired := range res.ReadReady {
		if !fired {
			continue
		}
		if res.WriteReady[fd] || res.ExceptReady[fd] {
			s.fatalf("fd %d fired in more than one readiness set", fd)
		}
		for _, idx := range indexOf[fd] {
			s.fdwaits[idx].ready = true
		}
	}
	for fd, fired := range res.WriteReady {
		if !fired {
			continue
		}
		for _, idx := range indexOf[fd] {
			s.fdwaits[idx].ready = true
		}
	}
}

// deliverFDCompletions implements the completion-delivery half of Phase 1
// step 4, fused with polling: for each ready slot whose thread is
// currently WaitFD, re-execute the syscall (now guaranteed non-blocking),
// store the result, clear the slot, promote the thread to Runnable. A
// ready slot whose thread was pre-empted into Runnable by a signal is left
// alone until it returns to WaitFD (spec.md §4.E, resolving Open Question
// 1 by simply not implementing the dead duplicate branch).
func (s *Scheduler) deliverFDCompletions() {
	for i := range s.fdwaits {
		slot := s.fdwaits[i]
		if !slot.inUse || !slot.ready {
			continue
		}
		t := s.thread(slot.tid)
		if t.status != StatusWaitFD {
			continue
		}

		n, err := s.speculativeIO(slot.fd, slot.length, slot.syscallNo == SysWrite)
		s.fdwaits[i] = fdWaitSlot{}
		if err != nil {
			s.completeSyscall(slot.tid, negatedErrno(err))
		} else {
			s.completeSyscall(slot.tid, uintptr(n))
		}
	}
}

// interruptFDWait is called by the signal component when a signal
// preempts a WaitFD thread: SA_RESTART semantics do not hold here (spec.md
// §4.E); the result register is forced to "interrupted".
func (s *Scheduler) interruptFDWait(tid ThreadID) {
	for i := range s.fdwaits {
		slot := &s.fdwaits[i]
		if slot.inUse && slot.tid == tid {
			*slot = fdWaitSlot{}
			break
		}
	}
	t := s.thread(tid)
	t.regs.Result = negatedErrno(unix.EINTR)
	t.status = StatusRunnable
}
