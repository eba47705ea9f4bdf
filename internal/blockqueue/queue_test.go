// ABOUTME: Tests for the bounded block queue
// ABOUTME: Tests FIFO ordering, full/empty boundaries and slot isolation
package blockqueue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type op int

const (
	opWrite op = iota
	opRead
)

func TestQueueVector(t *testing.T) {
	// Five blocks; each step performs an operation and checks its result and HasBlock.
	steps := []struct {
		op       op
		ok       bool
		value    byte
		hasBlock bool
	}{
		{opRead, false, 1, false},
		{opRead, false, 1, false},
		{opWrite, true, 1, true},
		{opRead, true, 1, false},
		{opRead, false, 1, false},
		{opRead, false, 1, false},
		{opWrite, true, 2, true},
		{opWrite, true, 3, true},
		{opWrite, true, 4, true},
		{opRead, true, 2, true},
		{opWrite, true, 5, true},
		{opRead, true, 3, true},
		{opRead, true, 4, true},
		{opRead, true, 5, false},
		{opWrite, true, 6, true},
		{opWrite, true, 7, true},
		{opWrite, true, 8, true},
		{opWrite, true, 9, true},
		{opWrite, true, 10, true},
		{opWrite, false, 11, true},
		{opWrite, false, 12, true},
		{opRead, true, 6, true},
	}

	q, err := New(5, 4)
	require.NoError(t, err)

	for i, step := range steps {
		switch step.op {
		case opWrite:
			slot, ok := q.AcquireWriteSlot()
			require.Equal(t, step.ok, ok, "step %d", i)
			if ok {
				require.Len(t, slot, 4)
				slot[0] = step.value
			}
		case opRead:
			slot, ok := q.AcquireReadSlot()
			require.Equal(t, step.ok, ok, "step %d", i)
			if ok {
				assert.Equal(t, step.value, slot[0], "step %d", i)
			}
		}
		assert.Equal(t, step.hasBlock, q.HasBlock(), "step %d", i)
	}
}

func TestQueueFullAndEmpty(t *testing.T) {
	const capacity = 8
	q, err := New(capacity, 2)
	require.NoError(t, err)

	for i := 0; i < capacity; i++ {
		require.NoError(t, q.Push([]byte{byte(i), 0}))
	}
	assert.Equal(t, capacity, q.Len())
	assert.Equal(t, 0, q.Free())

	_, ok := q.AcquireWriteSlot()
	assert.False(t, ok)
	assert.True(t, errors.Is(q.Push([]byte{0, 0}), ErrQueueFull))

	for i := 0; i < capacity; i++ {
		block, ok := q.AcquireReadSlot()
		require.True(t, ok)
		assert.Equal(t, byte(i), block[0])
	}

	_, ok = q.AcquireReadSlot()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, capacity, q.Free())
}

func TestQueueFIFOUnderInterleaving(t *testing.T) {
	q, err := New(3, 1)
	require.NoError(t, err)

	next := byte(0)
	expected := byte(0)
	for round := 0; round < 50; round++ {
		// write two, read one, with occasional drains
		for i := 0; i < 2; i++ {
			if q.Push([]byte{next}) == nil {
				next++
			}
		}
		if block, ok := q.AcquireReadSlot(); ok {
			assert.Equal(t, expected, block[0])
			expected++
		}
		if round%7 == 0 {
			for q.HasBlock() {
				block, _ := q.AcquireReadSlot()
				assert.Equal(t, expected, block[0])
				expected++
			}
		}
		assert.GreaterOrEqual(t, q.Len(), 0)
		assert.LessOrEqual(t, q.Len(), q.Cap())
	}
}

func TestQueuePushRejectsWrongSize(t *testing.T) {
	q, err := New(2, 4)
	require.NoError(t, err)

	err = q.Push([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBlockSize)
	assert.Equal(t, 0, q.Len())
}

func TestQueueSlotsDoNotOverlap(t *testing.T) {
	q, err := New(2, 2)
	require.NoError(t, err)

	a, _ := q.AcquireWriteSlot()
	b, _ := q.AcquireWriteSlot()
	_ = append(a, 0xff) // must not spill into b
	b[0], b[1] = 7, 7

	assert.Equal(t, 2, cap(a))
	assert.Equal(t, []byte{7, 7}, b)
}

func TestNewRejectsInvalidSizes(t *testing.T) {
	_, err := New(0, 4)
	assert.Error(t, err)
	_, err = New(4, 0)
	assert.Error(t, err)
}

func TestResetAndClose(t *testing.T) {
	q, err := New(2, 1)
	require.NoError(t, err)
	require.NoError(t, q.Push([]byte{1}))

	q.Reset()
	assert.False(t, q.HasBlock())
	assert.Equal(t, 2, q.Free())

	q.Close()
	_, ok := q.AcquireWriteSlot()
	assert.False(t, ok)
	_, ok = q.AcquireReadSlot()
	assert.False(t, ok)
}
