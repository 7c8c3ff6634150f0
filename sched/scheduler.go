// Package sched implements the cooperative virtual-thread scheduler core:
// a fixed-capacity thread table, resource tables for mutexes/semaphores/
// rwlocks/descriptor-waits, a bounded-quantum dispatch driver, a
// non-blocking I/O shim, and the pthread-equivalent synchronization
// primitives, all owned by one *Scheduler value (Design Notes §9 "global
// mutable tables" — model as a single scheduler context, not singletons).
package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coresched/vgsched/sched/hostio"
)

// Result is returned by Run when the scheduler terminates.
type Result int

const (
	ResultBudgetDone Result = iota
	ResultShutdown
	ResultDeadlock
)

func (r Result) String() string {
	switch r {
	case ResultBudgetDone:
		return "budget-done"
	case ResultShutdown:
		return "shutdown"
	case ResultDeadlock:
		return "deadlock"
	default:
		return "unknown-result"
	}
}

// Scheduler is the single owner of every component table (spec.md §5
// "Shared-resource policy"). It is not safe for concurrent use from more
// than one goroutine: all virtual threads are multiplexed onto exactly one
// host execution context, by design.
type Scheduler struct {
	cfg    Config
	log    zerolog.Logger
	driver *driver

	threads []threadRecord
	mutexes []mutexSlot
	conds   []cvSlot
	sems    []semShadow
	rwlocks []rwlockShadow
	keys    []keySlot
	fdwaits []fdWaitSlot

	hostSyscall  HostSyscall
	probeLimiter *hostio.ProbeLimiter

	lastRun        ThreadID
	blocksExecuted uint64
	blockBudget    uint64 // remaining; unused when unbounded (BlockBudget == 0)
	unbounded      bool
	epochCounter   uint64

	onceState onceMaster

	pendingSigs map[ThreadID][]int // signals queued for delivery in Phase 1
	sigActions  [64]sigActionSlot

	shutdownRequested bool
}

// New constructs a Scheduler with the given GuestRunner and options. The
// initial thread (index 0) is allocated Runnable immediately, matching
// spec.md §3's "index 0 reserved for the initial thread."
func New(runner GuestRunner, opts ...Option) *Scheduler {
	cfg := newConfig(opts...)
	s := &Scheduler{
		cfg:          cfg,
		log:          cfg.Logger,
		driver:       newDriver(runner),
		threads:      make([]threadRecord, cfg.MaxThreads),
		mutexes:      make([]mutexSlot, cfg.MaxMutexes),
		conds:        make([]cvSlot, cfg.MaxConds),
		sems:         make([]semShadow, cfg.MaxSems),
		rwlocks:      make([]rwlockShadow, cfg.MaxRWLocks),
		keys:         make([]keySlot, cfg.MaxKeys),
		fdwaits:      make([]fdWaitSlot, cfg.MaxFDWaits),
		hostSyscall:  unixHostSyscall{},
		probeLimiter: hostio.NewProbeLimiter(1),
		lastRun:      -1,
		blockBudget:  cfg.BlockBudget,
		unbounded:    cfg.BlockBudget == 0,
		pendingSigs:  make(map[ThreadID][]int),
	}
	for i := range s.threads {
		s.threads[i] = emptyThreadRecord()
	}
	s.threads[InitialThread] = emptyThreadRecord()
	s.threads[InitialThread].status = StatusRunnable
	return s
}

// SetHostSyscall overrides the production host syscall executor; used by
// tests driving the non-blocking I/O shim against a fake.
func (s *Scheduler) SetHostSyscall(h HostSyscall) { s.hostSyscall = h }

// Run drives the three-phase scheduler loop (spec.md §4.F) until shutdown,
// budget exhaustion, or deadlock.
func (s *Scheduler) Run(ctx context.Context) Result {
	for {
		tid, res, done := s.phase1(ctx)
		if done {
			return res
		}

		s.lastRun = tid
		outcome := s.phase2(ctx, tid)
		if res, done := s.phase3(tid, outcome); done {
			return res
		}
	}
}

// phase1 is spec.md §4.F Phase 1: pre-dispatch bookkeeping. Returns the
// thread to dispatch, or (_, result, true) if the loop should terminate.
func (s *Scheduler) phase1(ctx context.Context) (ThreadID, Result, bool) {
	for {
		if s.shutdownRequested {
			return NoThread, ResultShutdown, true
		}
		if !s.unbounded && s.blockBudget == 0 {
			return NoThread, ResultBudgetDone, true
		}

		if s.epochCounter >= s.cfg.EpochBlocks {
			s.cfg.CodeCache.AgeEpoch()
			s.epochCounter = 0
		}

		s.wakeSleepers()
		s.expireTimedWaits()
		s.pollReadiness()
		s.deliverFDCompletions()
		s.deliverPendingSignals()

		if tid := s.selectRunnable(); tid != NoThread {
			return tid, 0, false
		}

		if s.anyWaitingOnTimeOrIO() {
			sleepHost(s.cfg.PollBackoff)
			continue
		}

		s.logDeadlockTable()
		return NoThread, ResultDeadlock, true
	}
}

// wakeSleepers implements Phase 1 step 3.
func (s *Scheduler) wakeSleepers() {
	now := s.cfg.Clock()
	for i := range s.threads {
		t := &s.threads[i]
		if t.status == StatusSleeping && !now.Before(t.awakenAt) {
			t.regs.Result = 0 // synthesize a zero return from nanosleep
			t.status = StatusRunnable
		}
	}
}

// selectRunnable implements Phase 1 step 6's round-robin pick.
func (s *Scheduler) selectRunnable() ThreadID {
	n := ThreadID(len(s.threads))
	for i := ThreadID(1); i <= n; i++ {
		idx := (s.lastRun + i) % n
		if s.threads[idx].status == StatusRunnable {
			return idx
		}
	}
	return NoThread
}

// anyWaitingOnTimeOrIO implements Phase 1 step 6's "at least one is WaitFD
// or Sleeping" check. A WaitCV thread with a pending timed-wait deadline is
// also time-driven rather than stuck — without this it would be
// indistinguishable from a genuine deadlock once it is the only thread
// left runnable-eventually, which would contradict spec.md S3 (a lone
// cond_timedwait must resolve on its own, not be declared deadlocked).
func (s *Scheduler) anyWaitingOnTimeOrIO() bool {
	for i := range s.threads {
		t := &s.threads[i]
		switch {
		case t.status == StatusWaitFD, t.status == StatusSleeping, t.status == StatusWaitSignal:
			return true
		case t.status == StatusWaitCV && t.cvHasDeadline:
			return true
		}
	}
	return false
}

// phase2 is spec.md §4.F Phase 2: dispatch, handling trivial traps inline
// and retrying the same thread until a non-trivial trap falls through.
func (s *Scheduler) phase2(ctx context.Context, tid ThreadID) DispatchOutcome {
	for {
		t := s.thread(tid)
		quantum := s.cfg.Quantum
		if !s.unbounded && s.blockBudget < quantum {
			quantum = s.blockBudget
		}
		quantum++ // "the inner loop decrements before testing"

		outcome := s.driver.dispatch(ctx, &t.regs, quantum)
		s.accountBlocks(outcome.BlocksConsumed)

		switch outcome.Trap {
		case TrapFastDispatchMiss:
			s.cfg.CodeCache.TranslateAndInsert(t.regs.PC)
		case TrapClientRequest:
			if s.isTrivial(outcome.Request.Code) {
				result := s.handleTrivialRequest(tid, outcome.Request)
				s.thread(tid).regs.Result = result
			} else {
				return outcome
			}
		default:
			return outcome
		}

		if !s.unbounded && s.blockBudget == 0 {
			// A thread issuing nothing but trivial requests or dispatch misses
			// never falls through to Phase 3 on its own; without this check it
			// could spin here forever and phase1 would never observe the
			// exhausted budget.
			return DispatchOutcome{Trap: TrapQuantumExhausted}
		}
	}
}

// phase3 is spec.md §4.F Phase 3: handle a non-trivial trap. outcome's
// BlocksConsumed was already folded into blocksExecuted/blockBudget by
// phase2, along with every trivial dispatch that preceded it in the same
// quantum (spec.md §8 property 5).
func (s *Scheduler) phase3(tid ThreadID, outcome DispatchOutcome) (Result, bool) {
	switch outcome.Trap {
	case TrapQuantumExhausted:
		// no-op; Phase 1 reselects.
	case TrapFatalSignal:
		// no-op; signal will be delivered in Phase 1.
	case TrapSyscall:
		s.handleSyscallTrap(tid, outcome.Syscall)
	case TrapClientRequest:
		s.handleNonTrivialRequest(tid, outcome.Request)
	case TrapShutdown:
		return ResultShutdown, true
	}
	return 0, false
}

func (s *Scheduler) accountBlocks(n uint64) {
	s.blocksExecuted += n
	s.epochCounter += n
	if !s.unbounded {
		if n > s.blockBudget {
			s.blockBudget = 0
		} else {
			s.blockBudget -= n
		}
	}
}

// BlocksExecuted returns the running total of basic blocks executed,
// testable per spec.md §8 property 5.
func (s *Scheduler) BlocksExecuted() uint64 { return s.blocksExecuted }

// sleepHost is the Phase 1 step 6 backoff: "nanosleep on the host for a
// small interval and retry Phase 1." This is an ambient scheduling pause on
// the host goroutine, not a guest-visible primitive, so stdlib time is the
// correct tool — no domain library in the retrieval pack covers "sleep the
// driving goroutine for a bit."
func sleepHost(d time.Duration) {
	time.Sleep(d)
}

// logDeadlockTable prints the status table before reporting deadlock
// (spec.md §8 S6: "exits with the deadlock result code after printing the
// status table").
func (s *Scheduler) logDeadlockTable() {
	ev := s.log.Error().Str("result", ResultDeadlock.String())
	for i := range s.threads {
		t := &s.threads[i]
		if t.status == StatusEmpty {
			continue
		}
		ev = ev.Str(fmt.Sprintf("thread[%d]", i), t.status.String())
	}
	ev.Msg("deadlock detected: no runnable, waitfd, or sleeping thread")
}
