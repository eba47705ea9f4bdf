// ABOUTME: Bounded FIFO of fixed-size audio blocks
// ABOUTME: Arena-backed circular buffer owned by the playout scheduler
package blockqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned when every slot holds an unread block
	ErrQueueFull = errors.New("block queue full")
	// ErrBlockSize is returned when a pushed block is not exactly BlockSize bytes
	ErrBlockSize = errors.New("block size mismatch")
)

// Queue is a circular buffer of capacity blocks of blockSize bytes each.
//
// A Queue is not safe for concurrent use: it belongs to a single event loop.
// A slot returned by AcquireReadSlot stays valid until the writer wraps
// around onto it, so callers must consume it before the next write.
type Queue struct {
	arena     []byte
	blocks    [][]byte
	blockSize int
	writeIdx  int // next free slot
	readIdx   int // oldest filled slot
	count     int // filled slots
}

// New creates a queue with capacity blocks of blockSize bytes
func New(capacity, blockSize int) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid queue capacity: %d", capacity)
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size: %d", blockSize)
	}

	arena := make([]byte, capacity*blockSize)
	blocks := make([][]byte, capacity)
	for i := range blocks {
		start := i * blockSize
		end := start + blockSize
		blocks[i] = arena[start:end:end]
	}

	return &Queue{
		arena:     arena,
		blocks:    blocks,
		blockSize: blockSize,
	}, nil
}

// AcquireWriteSlot reserves the next free slot and returns it for filling.
// It returns false when the queue is full.
func (q *Queue) AcquireWriteSlot() ([]byte, bool) {
	if q.count == len(q.blocks) {
		return nil, false
	}

	slot := q.blocks[q.writeIdx]
	q.writeIdx = (q.writeIdx + 1) % len(q.blocks)
	q.count++
	return slot, true
}

// HasBlock reports whether at least one block is waiting to be read
func (q *Queue) HasBlock() bool {
	return q.count > 0
}

// AcquireReadSlot returns the oldest block and releases its slot.
// It returns false when the queue is empty.
func (q *Queue) AcquireReadSlot() ([]byte, bool) {
	if q.count == 0 {
		return nil, false
	}

	slot := q.blocks[q.readIdx]
	q.readIdx = (q.readIdx + 1) % len(q.blocks)
	q.count--
	return slot, true
}

// Push copies block into the next free slot
func (q *Queue) Push(block []byte) error {
	if len(block) != q.blockSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrBlockSize, len(block), q.blockSize)
	}

	slot, ok := q.AcquireWriteSlot()
	if !ok {
		return ErrQueueFull
	}
	copy(slot, block)
	return nil
}

// Len returns the number of filled blocks
func (q *Queue) Len() int { return q.count }

// Cap returns the number of slots
func (q *Queue) Cap() int { return len(q.blocks) }

// Free returns the number of empty slots
func (q *Queue) Free() int { return len(q.blocks) - q.count }

// BlockSize returns the size of every block in bytes
func (q *Queue) BlockSize() int { return q.blockSize }

// Reset discards all blocks without releasing memory
func (q *Queue) Reset() {
	q.writeIdx = 0
	q.readIdx = 0
	q.count = 0
}

// Close releases the arena. The queue behaves as empty and full afterwards.
func (q *Queue) Close() {
	q.Reset()
	q.arena = nil
	q.blocks = nil
}
