// Command vgsched-trace is a manual diagnostic harness: it drives one of
// the canned end-to-end scenarios against a live scheduler and prints the
// result, matching the scheduler's own phase-1 status table on deadlock.
// It is not part of the embeddable library; vgsched has no production CLI
// surface (spec.md §6 "CLI surface: none").
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/coresched/vgsched/sched"
	"github.com/coresched/vgsched/sched/vglog"
	"github.com/coresched/vgsched/vgpthread"
)

// defaultLevel keeps the CLI quiet except for the scheduler's own
// error-level status-table print on deadlock.
const defaultLevel = zerolog.ErrorLevel

// step is one leg of a scripted guest thread: given the reply to the
// previous trap (0 for a thread's very first call), it returns the next
// trap to raise and the continuation to run once that trap's reply is
// delivered. A nil continuation ends that thread's script.
type step func(prevResult uintptr) (sched.DispatchOutcome, step)

type threadState struct {
	cur step
}

// scriptedRunner is a GuestRunner whose "guest code" is a fixed Go
// continuation per virtual thread, keyed by the value the thread's creator
// placed in its start argument (which reqThreadCreate copies verbatim into
// the new thread's regs.GPR[0] — see sched/joincancel.go), so the initial
// thread is always key 0.
type scriptedRunner struct {
	states map[uint64]*threadState
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{states: make(map[uint64]*threadState)}
}

func (r *scriptedRunner) program(id uint64, first step) {
	r.states[id] = &threadState{cur: first}
}

func (r *scriptedRunner) Run(ctx context.Context, regs *sched.RegisterFile, quantum uint64) (sched.DispatchOutcome, error) {
	ts := r.states[regs.GPR[0]]
	if ts == nil || ts.cur == nil {
		return sched.DispatchOutcome{Trap: sched.TrapQuantumExhausted, BlocksConsumed: quantum}, nil
	}
	outcome, next := ts.cur(regs.Result)
	ts.cur = next
	return outcome, nil
}

func req(t sched.ClientRequestTrap) sched.DispatchOutcome {
	return sched.DispatchOutcome{Trap: sched.TrapClientRequest, BlocksConsumed: 1, Request: t}
}

func syscallTrap(no uintptr, a0, a1, a2 uintptr) sched.DispatchOutcome {
	return sched.DispatchOutcome{
		Trap:           sched.TrapSyscall,
		BlocksConsumed: 1,
		Syscall:        sched.SyscallTrap{No: no, Args: [6]uintptr{a0, a1, a2, 0, 0, 0}},
	}
}

func shutdown() (sched.DispatchOutcome, step) {
	return sched.DispatchOutcome{Trap: sched.TrapShutdown}, nil
}

func newScenarioScheduler(runner sched.GuestRunner) *sched.Scheduler {
	return sched.New(runner, sched.WithLogger(vglog.New(os.Stderr, defaultLevel)))
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: vgsched-trace <S1|S2|S3|S4|S5|S6>")
		os.Exit(2)
	}

	scenarios := map[string]func() (*sched.Scheduler, sched.Result){
		"S1": runS1, "S2": runS2, "S3": runS3, "S4": runS4, "S5": runS5, "S6": runS6,
	}
	run, ok := scenarios[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", os.Args[1])
		os.Exit(2)
	}

	start := time.Now()
	s, result := run()
	elapsed := time.Since(start)

	fmt.Printf("result=%s elapsed=%s blocks=%d\n", result, elapsed, s.BlocksExecuted())
	if result == sched.ResultDeadlock {
		os.Exit(1)
	}
}

// runS1 — ping-pong on a mutex: two threads loop 1000 times each doing
// lock/increment/unlock on a shared mutex and counter (spec.md §8 S1).
func runS1() (*sched.Scheduler, sched.Result) {
	m := &sched.MutexHandle{}
	counter := 0
	runner := newScriptedRunner()

	runner.program(1, pingPongProgram(m, &counter, 1000))
	runner.program(2, pingPongProgram(m, &counter, 1000))

	createBoth := func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.Create(0, 1, 0, 0)), func(child1 uintptr) (sched.DispatchOutcome, step) {
			return req(vgpthread.Create(0, 2, 0, 0)), func(child2 uintptr) (sched.DispatchOutcome, step) {
				return req(vgpthread.Join(child1)), func(prev uintptr) (sched.DispatchOutcome, step) {
					return req(vgpthread.Join(child2)), func(prev uintptr) (sched.DispatchOutcome, step) {
						fmt.Printf("S1: counter=%d (want 2000)\n", counter)
						return shutdown()
					}
				}
			}
		}
	}
	runner.program(0, createBoth)

	s := newScenarioScheduler(runner)
	return s, s.Run(context.Background())
}

func pingPongProgram(m *sched.MutexHandle, counter *int, iterations int) step {
	remaining := iterations
	var lockStep, incStep, loopStep step
	lockStep = func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.MutexLock(m)), incStep
	}
	incStep = func(prev uintptr) (sched.DispatchOutcome, step) {
		*counter++
		return req(vgpthread.MutexUnlock(m)), loopStep
	}
	loopStep = func(prev uintptr) (sched.DispatchOutcome, step) {
		remaining--
		if remaining <= 0 {
			return req(vgpthread.Exit(0)), nil
		}
		return req(vgpthread.MutexLock(m)), incStep
	}
	return lockStep
}

// runS2 — producer/consumer over a 4-slot bounded buffer guarded by a
// mutex and two condition variables (spec.md §8 S2).
func runS2() (*sched.Scheduler, sched.Result) {
	const capacity = 4
	const items = 10

	m := &sched.MutexHandle{}
	notEmpty := &sched.CondHandle{}
	notFull := &sched.CondHandle{}
	buf := make([]int, 0, capacity)
	delivered := make([]int, 0, items)

	runner := newScriptedRunner()
	runner.program(1, producerProgram(m, notEmpty, notFull, &buf, capacity, items))
	runner.program(2, consumerProgram(m, notEmpty, notFull, &buf, &delivered, items))

	joinBoth := func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.Create(0, 1, 0, 0)), func(child1 uintptr) (sched.DispatchOutcome, step) {
			return req(vgpthread.Create(0, 2, 0, 0)), func(child2 uintptr) (sched.DispatchOutcome, step) {
				return req(vgpthread.Join(child1)), func(prev uintptr) (sched.DispatchOutcome, step) {
					return req(vgpthread.Join(child2)), func(prev uintptr) (sched.DispatchOutcome, step) {
						fmt.Printf("S2: delivered=%v (want 0..9 in order)\n", delivered)
						return shutdown()
					}
				}
			}
		}
	}
	runner.program(0, joinBoth)

	s := newScenarioScheduler(runner)
	return s, s.Run(context.Background())
}

func producerProgram(m *sched.MutexHandle, notEmpty, notFull *sched.CondHandle, buf *[]int, capacity, items int) step {
	nextItem := 0
	var lockStep, checkFullStep, pushStep step
	lockStep = func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.MutexLock(m)), checkFullStep
	}
	checkFullStep = func(prev uintptr) (sched.DispatchOutcome, step) {
		if len(*buf) >= capacity {
			return req(vgpthread.CondWait(notFull, m)), checkFullStep
		}
		return pushStep(prev)
	}
	pushStep = func(prev uintptr) (sched.DispatchOutcome, step) {
		*buf = append(*buf, nextItem)
		nextItem++
		return req(vgpthread.CondSignal(notEmpty)), func(prev uintptr) (sched.DispatchOutcome, step) {
			return req(vgpthread.MutexUnlock(m)), func(prev uintptr) (sched.DispatchOutcome, step) {
				if nextItem >= items {
					return req(vgpthread.Exit(0)), nil
				}
				return lockStep(prev)
			}
		}
	}
	return lockStep
}

func consumerProgram(m *sched.MutexHandle, notEmpty, notFull *sched.CondHandle, buf *[]int, delivered *[]int, items int) step {
	var lockStep, checkEmptyStep, popStep step
	lockStep = func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.MutexLock(m)), checkEmptyStep
	}
	checkEmptyStep = func(prev uintptr) (sched.DispatchOutcome, step) {
		if len(*buf) == 0 {
			return req(vgpthread.CondWait(notEmpty, m)), checkEmptyStep
		}
		return popStep(prev)
	}
	popStep = func(prev uintptr) (sched.DispatchOutcome, step) {
		v := (*buf)[0]
		*buf = (*buf)[1:]
		*delivered = append(*delivered, v)
		return req(vgpthread.CondSignal(notFull)), func(prev uintptr) (sched.DispatchOutcome, step) {
			return req(vgpthread.MutexUnlock(m)), func(prev uintptr) (sched.DispatchOutcome, step) {
				if len(*delivered) >= items {
					return req(vgpthread.Exit(0)), nil
				}
				return lockStep(prev)
			}
		}
	}
	return lockStep
}

// runS3 — timed condition wait: a thread waits on a cv that is never
// signaled with a 100ms absolute deadline (spec.md §8 S3).
func runS3() (*sched.Scheduler, sched.Result) {
	m := &sched.MutexHandle{}
	cv := &sched.CondHandle{}
	runner := newScriptedRunner()

	var lockStep, waitStep, unlockStep step
	lockStep = func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.MutexLock(m)), waitStep
	}
	waitStep = func(prev uintptr) (sched.DispatchOutcome, step) {
		deadline := uint64(time.Now().Add(100 * time.Millisecond).UnixNano() / 1000)
		return req(vgpthread.CondTimedWait(cv, m, deadline)), unlockStep
	}
	unlockStep = func(timedOutReply uintptr) (sched.DispatchOutcome, step) {
		fmt.Printf("S3: cond_timedwait reply=%d (want timed-out)\n", timedOutReply)
		return req(vgpthread.MutexUnlock(m)), func(prev uintptr) (sched.DispatchOutcome, step) {
			return req(vgpthread.Exit(0)), nil
		}
	}
	runner.program(1, lockStep)

	mainStep := func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.Create(0, 1, 0, 0)), func(child uintptr) (sched.DispatchOutcome, step) {
			return req(vgpthread.Join(child)), func(prev uintptr) (sched.DispatchOutcome, step) {
				return shutdown()
			}
		}
	}
	runner.program(0, mainStep)

	s := newScenarioScheduler(runner)
	return s, s.Run(context.Background())
}

// runS4 — non-blocking read: thread A reads from an initially-empty pipe;
// thread B sleeps 50ms then writes 5 bytes (spec.md §8 S4).
func runS4() (*sched.Scheduler, sched.Result) {
	r, w, err := os.Pipe()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pipe:", err)
		os.Exit(1)
	}
	readFD := int(r.Fd())
	writeFD := int(w.Fd())

	runner := newScriptedRunner()
	readStep := func(prev uintptr) (sched.DispatchOutcome, step) {
		return syscallTrap(sched.SysRead, uintptr(readFD), 0, 5), func(n uintptr) (sched.DispatchOutcome, step) {
			fmt.Printf("S4: read returned %d (want 5)\n", int(n))
			return req(vgpthread.Exit(0)), nil
		}
	}
	runner.program(1, readStep)

	sleepStep := func(prev uintptr) (sched.DispatchOutcome, step) {
		return syscallTrap(sched.SysNanosleep, uintptr(50*time.Millisecond), 0, 0), func(prev uintptr) (sched.DispatchOutcome, step) {
			return syscallTrap(sched.SysWrite, uintptr(writeFD), 0, 5), func(n uintptr) (sched.DispatchOutcome, step) {
				fmt.Printf("S4: write returned %d (want 5)\n", int(n))
				return req(vgpthread.Exit(0)), nil
			}
		}
	}
	runner.program(2, sleepStep)

	mainStep := func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.Create(0, 1, 0, 0)), func(child1 uintptr) (sched.DispatchOutcome, step) {
			return req(vgpthread.Create(0, 2, 0, 0)), func(child2 uintptr) (sched.DispatchOutcome, step) {
				return req(vgpthread.Join(child1)), func(prev uintptr) (sched.DispatchOutcome, step) {
					return req(vgpthread.Join(child2)), func(prev uintptr) (sched.DispatchOutcome, step) {
						return shutdown()
					}
				}
			}
		}
	}
	runner.program(0, mainStep)

	s := newScenarioScheduler(runner)
	result := s.Run(context.Background())
	r.Close()
	w.Close()
	return s, result
}

// runS5 — join-after-exit: thread A exits with retval 0x1234 before
// anyone joins it; 10ms later thread B joins A (spec.md §8 S5).
func runS5() (*sched.Scheduler, sched.Result) {
	runner := newScriptedRunner()
	runner.program(1, func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.Exit(0x1234)), nil
	})

	mainStep := func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.Create(0, 1, 0, 0)), func(child uintptr) (sched.DispatchOutcome, step) {
			return syscallTrap(sched.SysNanosleep, uintptr(10*time.Millisecond), 0, 0), func(prev uintptr) (sched.DispatchOutcome, step) {
				return req(vgpthread.Join(child)), func(retval uintptr) (sched.DispatchOutcome, step) {
					fmt.Printf("S5: join retval=0x%x (want 0x1234)\n", retval)
					return shutdown()
				}
			}
		}
	}
	runner.program(0, mainStep)

	s := newScenarioScheduler(runner)
	return s, s.Run(context.Background())
}

// runS6 — deadlock: two threads each hold one mutex and block trying to
// acquire the other's (spec.md §8 S6).
func runS6() (*sched.Scheduler, sched.Result) {
	m1 := &sched.MutexHandle{}
	m2 := &sched.MutexHandle{}
	runner := newScriptedRunner()

	runner.program(1, func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.MutexLock(m1)), func(prev uintptr) (sched.DispatchOutcome, step) {
			return req(vgpthread.MutexLock(m2)), nil // never returns: deadlocked
		}
	})
	runner.program(2, func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.MutexLock(m2)), func(prev uintptr) (sched.DispatchOutcome, step) {
			return req(vgpthread.MutexLock(m1)), nil // never returns: deadlocked
		}
	})

	mainStep := func(prev uintptr) (sched.DispatchOutcome, step) {
		return req(vgpthread.Create(0, 1, 0, 0)), func(prev uintptr) (sched.DispatchOutcome, step) {
			return req(vgpthread.Create(0, 2, 0, 0)), func(prev uintptr) (sched.DispatchOutcome, step) {
				return req(vgpthread.Exit(0)), nil
			}
		}
	}
	runner.program(0, mainStep)

	s := newScenarioScheduler(runner)
	return s, s.Run(context.Background())
}
