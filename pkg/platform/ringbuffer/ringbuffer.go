package ringbuffer

import "sync"

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 10000

// Buffer is a bounded, thread-safe log. When full, the oldest entries are
// dropped to make room for new ones.
type Buffer[T any] struct {
	mu       sync.Mutex
	entries  []T
	head     int // next write position
	count    int
	capacity int

	dropped int64
}

// New creates a buffer with the given capacity.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{
		entries:  make([]T, capacity),
		capacity: capacity,
	}
}

// Append adds an entry, dropping the oldest if necessary.
func (b *Buffer[T]) Append(entry T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.dropped++
	} else {
		b.count++
	}
	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
}

// Snapshot returns the retained entries, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]T, b.count)
	tail := (b.head - b.count + b.capacity) % b.capacity
	for i := 0; i < b.count; i++ {
		result[i] = b.entries[(tail+i)%b.capacity]
	}
	return result
}

// Len returns the number of retained entries.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the total number of entries evicted so far.
func (b *Buffer[T]) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
