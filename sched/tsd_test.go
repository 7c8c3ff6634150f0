package sched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTSDSetGetPerThread(t *testing.T) {
	s := newTestScheduler(t)
	res := s.reqKeyCreate(0, [4]uintptr{})
	require.False(t, res.parked)
	key := res.value

	require.Equal(t, uintptr(EOK), s.reqSetSpecific(0, [4]uintptr{key, 0xabc}).value)
	require.Equal(t, uintptr(EOK), s.reqSetSpecific(1, [4]uintptr{key, 0xdef}).value)

	require.Equal(t, uintptr(0xabc), s.reqGetSpecific(0, [4]uintptr{key}).value)
	require.Equal(t, uintptr(0xdef), s.reqGetSpecific(1, [4]uintptr{key}).value)
}

func TestTSDGetSpecificDefaultsToZero(t *testing.T) {
	s := newTestScheduler(t)
	key := s.reqKeyCreate(0, [4]uintptr{}).value

	res := s.reqGetSpecific(0, [4]uintptr{key})
	require.Equal(t, uintptr(0), res.value)
}

// TestTSDDeleteDoesNotRunDestructors asserts the spec's explicit departure
// from pthread_key_delete semantics: deletion succeeds and clears every
// thread's value without ever invoking a destructor.
func TestTSDDeleteDoesNotRunDestructors(t *testing.T) {
	s := newTestScheduler(t)
	key := s.reqKeyCreate(0, [4]uintptr{}).value
	require.Equal(t, uintptr(EOK), s.reqSetSpecific(0, [4]uintptr{key, 0x1}).value)

	res := s.reqKeyDelete(0, [4]uintptr{key})
	require.Equal(t, uintptr(EOK), res.value)
	_, stillSet := s.threads[0].tsd[KeyID(key)]
	require.False(t, stillSet)

	// The key is no longer valid for any per-thread operation.
	invalid := s.reqSetSpecific(0, [4]uintptr{key, 0x2})
	require.Equal(t, uintptr(EInvalid), invalid.value)
}

func TestTSDInvalidKeyIsRejected(t *testing.T) {
	s := newTestScheduler(t)
	res := s.reqSetSpecific(0, [4]uintptr{999, 0x1})
	require.Equal(t, uintptr(EInvalid), res.value)
}
