// Package ring implements the circular-buffer FIFO the proposer uses
// for pending client values and for its prepare instance queue (its
// accept set is a map). Grown by doubling, same as the C carray it
// replaces.
package ring

// Buffer is a FIFO over interface{} elements with O(1) push/pop at
// either end and O(1) indexed reads. It is not safe for concurrent
// use; callers serialize access the way the rest of this module does.
type Buffer struct {
	items []interface{}
	head  int
	count int
}

// New returns an empty buffer with room for size elements before it
// first needs to grow.
func New(size int) *Buffer {
	if size <= 0 {
		size = 16
	}
	return &Buffer{items: make([]interface{}, size)}
}

// Len reports the number of elements currently stored.
func (b *Buffer) Len() int { return b.count }

// Empty reports whether the buffer holds no elements.
func (b *Buffer) Empty() bool { return b.count == 0 }

func (b *Buffer) full() bool { return b.count == len(b.items) }

func (b *Buffer) grow() {
	grown := make([]interface{}, len(b.items)*2)
	for i := 0; i < b.count; i++ {
		grown[i] = b.items[(b.head+i)%len(b.items)]
	}
	b.items = grown
	b.head = 0
}

// PushBack appends p to the tail of the FIFO.
func (b *Buffer) PushBack(p interface{}) {
	if b.full() {
		b.grow()
	}
	tail := (b.head + b.count) % len(b.items)
	b.items[tail] = p
	b.count++
}

// PushFront prepends p to the head of the FIFO.
func (b *Buffer) PushFront(p interface{}) {
	if b.full() {
		b.grow()
	}
	if b.Empty() {
		b.PushBack(p)
		return
	}
	b.head = (b.head - 1 + len(b.items)) % len(b.items)
	b.items[b.head] = p
	b.count++
}

// Front returns the head element, or nil if the buffer is empty.
func (b *Buffer) Front() interface{} {
	if b.Empty() {
		return nil
	}
	return b.items[b.head]
}

// PopFront removes and returns the head element, or nil if empty.
func (b *Buffer) PopFront() interface{} {
	if b.Empty() {
		return nil
	}
	p := b.items[b.head]
	b.items[b.head] = nil
	b.head = (b.head + 1) % len(b.items)
	b.count--
	return p
}

// At returns the i'th element from the head (0-indexed), or nil if
// out of range.
func (b *Buffer) At(i int) interface{} {
	if i < 0 || i >= b.count {
		return nil
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Collect returns a new buffer holding only the elements for which
// match returns true, in order.
func (b *Buffer) Collect(match func(interface{}) bool) *Buffer {
	return b.filter(match, true)
}

// Reject returns a new buffer holding only the elements for which
// match returns false, in order.
func (b *Buffer) Reject(match func(interface{}) bool) *Buffer {
	return b.filter(match, false)
}

func (b *Buffer) filter(match func(interface{}) bool, want bool) *Buffer {
	out := New(len(b.items))
	for i := 0; i < b.count; i++ {
		p := b.items[(b.head+i)%len(b.items)]
		if match(p) == want {
			out.PushBack(p)
		}
	}
	return out
}
