package sched

import "context"

// TrapCode classifies why the dispatch driver's inner loop returned control
// to the scheduler (spec.md §4.F, GLOSSARY "Trap code").
type TrapCode int

const (
	TrapQuantumExhausted TrapCode = iota
	TrapFastDispatchMiss
	TrapSyscall
	TrapClientRequest
	TrapFatalSignal
	TrapShutdown
)

func (t TrapCode) String() string {
	switch t {
	case TrapQuantumExhausted:
		return "quantum-exhausted"
	case TrapFastDispatchMiss:
		return "fast-dispatch-miss"
	case TrapSyscall:
		return "syscall"
	case TrapClientRequest:
		return "client-request"
	case TrapFatalSignal:
		return "fatal-signal"
	case TrapShutdown:
		return "shutdown"
	default:
		return "unknown-trap"
	}
}

// SyscallTrap carries the syscall number and arguments for a TrapSyscall.
type SyscallTrap struct {
	No   uintptr
	Args [6]uintptr
}

// ClientRequestTrap carries a client request code and its up-to-four
// word-sized arguments (spec.md §6 "Request channel").
type ClientRequestTrap struct {
	Code uint32
	Args [4]uintptr
}

// DispatchOutcome is what a GuestRunner reports after running a bounded
// quantum of guest code.
type DispatchOutcome struct {
	Trap           TrapCode
	BlocksConsumed uint64
	Syscall        SyscallTrap
	Request        ClientRequestTrap
	Signal         int // valid iff Trap == TrapFatalSignal
}

// GuestRunner is the external collaborator that actually executes guest
// basic blocks. Guest-code translation/caching and the dispatch inner loop
// are explicitly out of scope (spec.md §1); this interface is the in-scope
// contract the scheduler drives it through. Run must not run more than
// quantum basic blocks before returning.
type GuestRunner interface {
	Run(ctx context.Context, regs *RegisterFile, quantum uint64) (DispatchOutcome, error)
}

// driver invokes the GuestRunner for a bounded block count and classifies
// the trap reason (spec.md §4.A "Dispatch driver").
type driver struct {
	runner GuestRunner
}

func newDriver(r GuestRunner) *driver {
	return &driver{runner: r}
}

// dispatch copies regs into a scratch dispatch block, invokes the runner,
// copies results back into regs, and fills the vacated scratch block with a
// sentinel pattern so stale reads are detectable (spec.md §4.A). A non-local
// exit out of the runner (panic, standing in for the external signal
// handler's non-local exit out of the inner loop) is caught by the rescue
// point and reclassified as an unresumable fatal signal trap.
func (d *driver) dispatch(ctx context.Context, regs *RegisterFile, quantum uint64) (outcome DispatchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = DispatchOutcome{Trap: TrapFatalSignal, Signal: -1}
		}
	}()

	scratch := *regs
	out, err := d.runner.Run(ctx, &scratch, quantum)
	if err != nil {
		*regs = scratch
		return DispatchOutcome{Trap: TrapFatalSignal, Signal: -1}
	}
	*regs = scratch
	fillSentinel(&scratch)
	return out
}
