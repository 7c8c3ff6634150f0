package sched

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestS1PingPongOnMutex is spec.md §8 S1: two threads each loop 1000 times
// doing lock/increment/unlock on a shared mutex and counter.
func TestS1PingPongOnMutex(t *testing.T) {
	m := &MutexHandle{}
	counter := 0
	runner := newScriptedRunner()

	runner.program(1, pingPongProgram(m, &counter, 1000))
	runner.program(2, pingPongProgram(m, &counter, 1000))

	runner.program(0, func(prev uintptr) (DispatchOutcome, step) {
		return req(threadCreateTrap(1)), func(child1 uintptr) (DispatchOutcome, step) {
			return req(threadCreateTrap(2)), func(child2 uintptr) (DispatchOutcome, step) {
				return req(joinTrap(child1)), func(prev uintptr) (DispatchOutcome, step) {
					return req(joinTrap(child2)), func(prev uintptr) (DispatchOutcome, step) {
						return shutdown()
					}
				}
			}
		}
	})

	s := testScheduler(runner)
	result := s.Run(context.Background())

	require.Equal(t, ResultShutdown, result)
	require.Equal(t, 2000, counter)
}

func pingPongProgram(m *MutexHandle, counter *int, iterations int) step {
	remaining := iterations
	var lockStep, incStep, loopStep step
	lockStep = func(prev uintptr) (DispatchOutcome, step) {
		return req(mutexLockTrap(m)), incStep
	}
	incStep = func(prev uintptr) (DispatchOutcome, step) {
		*counter++
		return req(mutexUnlockTrap(m)), loopStep
	}
	loopStep = func(prev uintptr) (DispatchOutcome, step) {
		remaining--
		if remaining <= 0 {
			return req(exitTrap(0)), nil
		}
		return req(mutexLockTrap(m)), incStep
	}
	return lockStep
}

// TestS2ProducerConsumerBoundedBuffer is spec.md §8 S2: a producer posts 10
// items onto a 4-slot bounded buffer guarded by a mutex and two condition
// variables; a consumer dequeues all 10 in order.
func TestS2ProducerConsumerBoundedBuffer(t *testing.T) {
	const capacity = 4
	const items = 10

	m := &MutexHandle{}
	notEmpty := &CondHandle{}
	notFull := &CondHandle{}
	buf := make([]int, 0, capacity)
	delivered := make([]int, 0, items)

	runner := newScriptedRunner()
	runner.program(1, producerProgram(m, notEmpty, notFull, &buf, capacity, items))
	runner.program(2, consumerProgram(m, notEmpty, notFull, &buf, &delivered, items))

	runner.program(0, func(prev uintptr) (DispatchOutcome, step) {
		return req(threadCreateTrap(1)), func(child1 uintptr) (DispatchOutcome, step) {
			return req(threadCreateTrap(2)), func(child2 uintptr) (DispatchOutcome, step) {
				return req(joinTrap(child1)), func(prev uintptr) (DispatchOutcome, step) {
					return req(joinTrap(child2)), func(prev uintptr) (DispatchOutcome, step) {
						return shutdown()
					}
				}
			}
		}
	})

	s := testScheduler(runner)
	result := s.Run(context.Background())

	require.Equal(t, ResultShutdown, result)
	require.Len(t, delivered, items)
	for i, v := range delivered {
		require.Equal(t, i, v)
	}
}

func producerProgram(m *MutexHandle, notEmpty, notFull *CondHandle, buf *[]int, capacity, items int) step {
	nextItem := 0
	var lockStep, checkFullStep, pushStep step
	lockStep = func(prev uintptr) (DispatchOutcome, step) {
		return req(mutexLockTrap(m)), checkFullStep
	}
	checkFullStep = func(prev uintptr) (DispatchOutcome, step) {
		if len(*buf) >= capacity {
			return req(condWaitTrap(notFull, m)), checkFullStep
		}
		return pushStep(prev)
	}
	pushStep = func(prev uintptr) (DispatchOutcome, step) {
		*buf = append(*buf, nextItem)
		nextItem++
		return req(condSignalTrap(notEmpty)), func(prev uintptr) (DispatchOutcome, step) {
			return req(mutexUnlockTrap(m)), func(prev uintptr) (DispatchOutcome, step) {
				if nextItem >= items {
					return req(exitTrap(0)), nil
				}
				return lockStep(prev)
			}
		}
	}
	return lockStep
}

func consumerProgram(m *MutexHandle, notEmpty, notFull *CondHandle, buf *[]int, delivered *[]int, items int) step {
	var lockStep, checkEmptyStep, popStep step
	lockStep = func(prev uintptr) (DispatchOutcome, step) {
		return req(mutexLockTrap(m)), checkEmptyStep
	}
	checkEmptyStep = func(prev uintptr) (DispatchOutcome, step) {
		if len(*buf) == 0 {
			return req(condWaitTrap(notEmpty, m)), checkEmptyStep
		}
		return popStep(prev)
	}
	popStep = func(prev uintptr) (DispatchOutcome, step) {
		v := (*buf)[0]
		*buf = (*buf)[1:]
		*delivered = append(*delivered, v)
		return req(condSignalTrap(notFull)), func(prev uintptr) (DispatchOutcome, step) {
			return req(mutexUnlockTrap(m)), func(prev uintptr) (DispatchOutcome, step) {
				if len(*delivered) >= items {
					return req(exitTrap(0)), nil
				}
				return lockStep(prev)
			}
		}
	}
	return lockStep
}

// TestS6DeadlockDetection is spec.md §8 S6: two threads each hold one mutex
// and block trying to acquire the other's.
func TestS6DeadlockDetection(t *testing.T) {
	m1 := &MutexHandle{}
	m2 := &MutexHandle{}
	runner := newScriptedRunner()

	runner.program(1, func(prev uintptr) (DispatchOutcome, step) {
		return req(mutexLockTrap(m1)), func(prev uintptr) (DispatchOutcome, step) {
			return req(mutexLockTrap(m2)), nil
		}
	})
	runner.program(2, func(prev uintptr) (DispatchOutcome, step) {
		return req(mutexLockTrap(m2)), func(prev uintptr) (DispatchOutcome, step) {
			return req(mutexLockTrap(m1)), nil
		}
	})
	runner.program(0, func(prev uintptr) (DispatchOutcome, step) {
		return req(threadCreateTrap(1)), func(prev uintptr) (DispatchOutcome, step) {
			return req(threadCreateTrap(2)), func(prev uintptr) (DispatchOutcome, step) {
				return req(exitTrap(0)), nil
			}
		}
	})

	s := testScheduler(runner)
	result := s.Run(context.Background())

	require.Equal(t, ResultDeadlock, result)
}

// TestBudgetAccounting covers universal property 5: blocks_executed equals
// the sum of per-dispatch consumed counts.
func TestBudgetAccounting(t *testing.T) {
	runner := newScriptedRunner()
	var consumed uint64
	runner.program(0, func(prev uintptr) (DispatchOutcome, step) {
		consumed += 7
		return DispatchOutcome{Trap: TrapQuantumExhausted, BlocksConsumed: 7}, func(prev uintptr) (DispatchOutcome, step) {
			consumed += 3
			return DispatchOutcome{Trap: TrapShutdown, BlocksConsumed: 3}, nil
		}
	})

	s := testScheduler(runner)
	_ = s.Run(context.Background())

	require.Equal(t, consumed, s.BlocksExecuted())
}

// TestRoundRobinFairness covers universal property 4: while two threads are
// both continuously Runnable, each is dispatched at least once across a
// dispatch window.
func TestRoundRobinFairness(t *testing.T) {
	s := testScheduler(noopRunner{})
	s.threads[1] = s.threads[0]
	s.threads[1].status = StatusRunnable
	s.lastRun = 0

	first := s.selectRunnable()
	require.Equal(t, ThreadID(1), first)
	s.lastRun = first

	second := s.selectRunnable()
	require.Equal(t, ThreadID(0), second)
}

// TestTableSlotUniqueness covers universal property 6: a thread id is in
// exactly one of {free, in-use} at all times, checked on the thread table.
func TestTableSlotUniqueness(t *testing.T) {
	s := newTestScheduler(t)
	for i := range s.threads {
		busy := s.threads[i].status != StatusEmpty
		require.Equal(t, i == int(InitialThread), busy, "exactly thread 0 starts in-use")
	}

	child := ThreadID(s.reqThreadCreate(0, [4]uintptr{0, 0, 0, 0}).value)
	inUse := 0
	for i := range s.threads {
		if s.threads[i].status != StatusEmpty {
			inUse++
		}
	}
	require.Equal(t, 2, inUse)

	require.True(t, s.reqThreadExit(child, [4]uintptr{0}).parked)
	require.Equal(t, uintptr(EOK), s.reqThreadDetach(0, [4]uintptr{uintptr(child)}).value)

	inUse = 0
	for i := range s.threads {
		if s.threads[i].status != StatusEmpty {
			inUse++
		}
	}
	require.Equal(t, 1, inUse, "the exited-and-detached slot must return to free")
}
