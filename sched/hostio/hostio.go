// Package hostio wraps the host-level, non-blocking syscall primitives the
// I/O shim needs: flipping a descriptor non-blocking, a zero-timeout
// readiness poll, and masking signals around that poll. Grounded on
// golang.org/x/sys/unix, the same package the teacher
// (IreliaTable-gvisor/pkg/sentry/platform/systrap/subprocess.go) uses for
// its ptrace/wait4/signal plumbing.
package hostio

import (
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

// ProbeLimiter bounds how many speculative host syscall probes (the
// flip-to-nonblocking-and-try step of spec.md §4.E) may be outstanding at
// once. Under the single-host-thread scheduling model probes never
// actually overlap, but the shim guards the invariant explicitly rather
// than relying on it silently holding.
type ProbeLimiter struct {
	sem *semaphore.Weighted
}

// NewProbeLimiter builds a limiter admitting at most n concurrent probes.
func NewProbeLimiter(n int64) *ProbeLimiter {
	return &ProbeLimiter{sem: semaphore.NewWeighted(n)}
}

// TryAcquire reports whether a probe slot was claimed without blocking.
func (p *ProbeLimiter) TryAcquire() bool {
	return p.sem.TryAcquire(1)
}

// Release returns a claimed probe slot.
func (p *ProbeLimiter) Release() {
	p.sem.Release(1)
}

// SetNonblock flips fd to non-blocking at the host level.
func SetNonblock(fd int, nonblocking bool) error {
	return unix.SetNonblock(fd, nonblocking)
}

// ReadinessSets are descriptor sets built from pending descriptor-wait
// slots, passed to Poll.
type ReadinessSets struct {
	Read, Write, Except []int
}

// PollResult reports, per polled fd, which single set it fired in. A fd
// firing in more than one set is a fatal invariant violation the caller
// must detect (spec.md §4.E).
type PollResult struct {
	ReadReady, WriteReady, ExceptReady map[int]bool
}

// fdSetBit and fdIsSet manipulate an unix.FdSet by hand: the x/sys/unix
// FdSet type is a plain bitmask struct with no Set/IsSet helpers.
func fdSetBit(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

// Poll invokes a host-level select with a zero timeout, matching spec.md
// §4.E's literal "invoke a host-level select with zero timeout" contract.
func Poll(sets ReadinessSets) (PollResult, error) {
	var rfds, wfds, efds unix.FdSet
	maxFd := -1
	add := func(set *unix.FdSet, fds []int) {
		for _, fd := range fds {
			fdSetBit(set, fd)
			if fd > maxFd {
				maxFd = fd
			}
		}
	}
	add(&rfds, sets.Read)
	add(&wfds, sets.Write)
	add(&efds, sets.Except)

	res := PollResult{
		ReadReady:   map[int]bool{},
		WriteReady:  map[int]bool{},
		ExceptReady: map[int]bool{},
	}
	if maxFd < 0 {
		return res, nil
	}

	timeout := unix.Timeval{Sec: 0, Usec: 0}
	n, err := unix.Select(maxFd+1, &rfds, &wfds, &efds, &timeout)
	if err != nil {
		if err == unix.EINTR {
			return res, nil
		}
		return res, err
	}
	if n == 0 {
		return res, nil
	}
	for _, fd := range sets.Read {
		if fdIsSet(&rfds, fd) {
			res.ReadReady[fd] = true
		}
	}
	for _, fd := range sets.Write {
		if fdIsSet(&wfds, fd) {
			res.WriteReady[fd] = true
		}
	}
	for _, fd := range sets.Except {
		if fdIsSet(&efds, fd) {
			res.ExceptReady[fd] = true
		}
	}
	return res, nil
}

// MaskAllSignals blocks all signals on the calling OS thread for the
// duration of a select call, matching spec.md §4.E "Host signals are masked
// around the select to avoid spurious interruption", and returns a restore
// function.
func MaskAllSignals() (restore func(), err error) {
	var full, old unix.Sigset_t
	for i := range full.Val {
		full.Val[i] = ^uint64(0)
	}
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &full, &old); err != nil {
		return func() {}, err
	}
	return func() {
		_ = unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil)
	}, nil
}
