package sched

import (
	"context"
	"time"
	"unsafe"
)

// pointerOf converts any guest handle pointer into the unsafe.Pointer
// PointerArg expects, letting tests build request args without repeating the
// cast at every call site.
func pointerOf[T any](h *T) unsafe.Pointer { return unsafe.Pointer(h) }

// step is one leg of a scripted guest thread: given the reply to the
// previous trap (0 for a thread's very first call), it returns the next
// trap to raise and the continuation to run once that trap's reply is
// delivered. A nil continuation ends that thread's script.
type step func(prevResult uintptr) (DispatchOutcome, step)

type threadScript struct {
	cur step
}

// scriptedRunner is a GuestRunner whose "guest code" is a fixed Go
// continuation per virtual thread, keyed by the value the thread's creator
// placed in its start argument (reqThreadCreate copies it verbatim into the
// new thread's regs.GPR[0] — see joincancel.go), so the initial thread is
// always key 0.
type scriptedRunner struct {
	states map[uint64]*threadScript
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{states: make(map[uint64]*threadScript)}
}

func (r *scriptedRunner) program(id uint64, first step) {
	r.states[id] = &threadScript{cur: first}
}

func (r *scriptedRunner) Run(ctx context.Context, regs *RegisterFile, quantum uint64) (DispatchOutcome, error) {
	ts := r.states[regs.GPR[0]]
	if ts == nil || ts.cur == nil {
		return DispatchOutcome{Trap: TrapQuantumExhausted, BlocksConsumed: quantum}, nil
	}
	outcome, next := ts.cur(regs.Result)
	ts.cur = next
	return outcome, nil
}

func req(t ClientRequestTrap) DispatchOutcome {
	return DispatchOutcome{Trap: TrapClientRequest, BlocksConsumed: 1, Request: t}
}

func syscallTrap(no uintptr, a0, a1, a2 uintptr) DispatchOutcome {
	return DispatchOutcome{
		Trap:           TrapSyscall,
		BlocksConsumed: 1,
		Syscall:        SyscallTrap{No: no, Args: [6]uintptr{a0, a1, a2, 0, 0, 0}},
	}
}

func shutdown() (DispatchOutcome, step) {
	return DispatchOutcome{Trap: TrapShutdown}, nil
}

// The trap builders below stand in for vgpthread's client-library surface:
// sched's own tests cannot import vgpthread (it imports sched), so they
// build ClientRequestTrap values directly against the request codes.
func threadCreateTrap(startArg uint64) ClientRequestTrap {
	return ClientRequestTrap{Code: ReqThreadCreate, Args: [4]uintptr{0, uintptr(startArg), 0, 0}}
}

func joinTrap(target uintptr) ClientRequestTrap {
	return ClientRequestTrap{Code: ReqThreadJoin, Args: [4]uintptr{target}}
}

func exitTrap(retval uintptr) ClientRequestTrap {
	return ClientRequestTrap{Code: ReqThreadExit, Args: [4]uintptr{retval}}
}

func mutexLockTrap(m *MutexHandle) ClientRequestTrap {
	return ClientRequestTrap{Code: ReqMutexLock, Args: [4]uintptr{PointerArg(pointerOf(m))}}
}

func mutexUnlockTrap(m *MutexHandle) ClientRequestTrap {
	return ClientRequestTrap{Code: ReqMutexUnlock, Args: [4]uintptr{PointerArg(pointerOf(m))}}
}

func condWaitTrap(cv *CondHandle, m *MutexHandle) ClientRequestTrap {
	return ClientRequestTrap{Code: ReqCondWait, Args: [4]uintptr{PointerArg(pointerOf(cv)), PointerArg(pointerOf(m))}}
}

func condTimedWaitTrap(cv *CondHandle, m *MutexHandle, deadlineMicros uint64) ClientRequestTrap {
	return ClientRequestTrap{Code: ReqCondTimedWait, Args: [4]uintptr{PointerArg(pointerOf(cv)), PointerArg(pointerOf(m)), uintptr(deadlineMicros)}}
}

func condSignalTrap(cv *CondHandle) ClientRequestTrap {
	return ClientRequestTrap{Code: ReqCondSignal, Args: [4]uintptr{PointerArg(pointerOf(cv))}}
}

// fastClock lets tests advance the scheduler's notion of time instantly
// instead of sleeping for real (spec.md §6 Config.Clock override point).
type fastClock struct {
	now time.Time
}

func newFastClock() *fastClock { return &fastClock{now: time.Unix(1700000000, 0)} }

func (c *fastClock) Now() time.Time { return c.now }

func (c *fastClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testScheduler(runner GuestRunner, opts ...Option) *Scheduler {
	base := []Option{WithQuantum(64), WithBlockBudget(0)}
	return New(runner, append(base, opts...)...)
}

// noopRunner satisfies GuestRunner for white-box tests that exercise request
// handlers and phase helpers directly, never calling Scheduler.Run.
type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, regs *RegisterFile, quantum uint64) (DispatchOutcome, error) {
	return DispatchOutcome{Trap: TrapQuantumExhausted, BlocksConsumed: quantum}, nil
}

// newTestScheduler builds a Scheduler for white-box unit tests, with small
// capacities so table-exhaustion paths are reachable without a long loop,
// and a recoverable Fatal so invariant-violation tests can assert on the
// message instead of crashing the test binary.
func newTestScheduler(t interface{ Helper() }, opts ...Option) *Scheduler {
	t.Helper()
	base := []Option{
		WithCapacities(8, 8, 8, 8, 8, 8, 8),
		WithFatal(func(msg string) { panic(fatalSentinel(msg)) }),
	}
	return New(noopRunner{}, append(base, opts...)...)
}

// fatalSentinel marks a panic raised through the recoverable Fatal hook so
// tests can distinguish an intentional fatal-path assertion from a genuine
// test bug.
type fatalSentinel string

// requireFatal runs fn and asserts it invoked the scheduler's Fatal hook.
func requireFatal(fn func()) (msg string, hit bool) {
	defer func() {
		if r := recover(); r != nil {
			if s, ok := r.(fatalSentinel); ok {
				msg, hit = string(s), true
				return
			}
			panic(r)
		}
	}()
	fn()
	return "", false
}
