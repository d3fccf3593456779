// Package fbb implements the framed byte buffer used pervasively by
// the resumable copy protocol to marshal outbound records and parse
// inbound ones. It is a single-producer, single-consumer growable
// byte queue with an append region and a consume cursor, plus
// read-only views that borrow a window into another buffer without
// copying or owning the bytes.
//
// Buffers are not safe for concurrent use: the refcount and backing
// region are only ever touched by the owning goroutine, mirroring the
// ownership rules the teacher repo uses for its byte buffers (see
// lib/pool, which is likewise single-goroutine per checked-out
// buffer).
package fbb

import (
	"errors"
	"fmt"
)

// Tunables for the growth and packing policy (spec.md §4.1).
const (
	// defaultCapacity is the initial backing size for a fresh buffer.
	defaultCapacity = 4 * 1024
	// growIncrement is the step naive growth rounds up to.
	growIncrement = 32 * 1024
	// growWatershed is the size past which a window hint, if set and
	// still bigger than the current capacity, short-circuits to the
	// hint instead of incrementing; once the capacity has reached the
	// hint, growth past the watershed continues in hint-sized steps.
	growWatershed = 256 * 1024
	// packThreshold is the minimum consumed-prefix size that makes
	// packing worthwhile outside of a forced pack.
	packThreshold = 4 * 1024
	// hardCeiling bounds SetMaxCapacity; no buffer may be told to grow
	// past this regardless of caller-supplied max capacity.
	hardCeiling = 1 << 30 // 1 GiB
)

// Sentinel errors returned by Buffer operations. Each corresponds to a
// named "Failure" case in spec.md's operation table.
var (
	ErrReadOnly       = errors.New("fbb: buffer is read-only")
	ErrShared         = errors.New("fbb: buffer is shared (refcount > 1)")
	ErrExceedsMax     = errors.New("fbb: operation would exceed max capacity")
	ErrExceedsCeiling = errors.New("fbb: max capacity exceeds hard ceiling")
	ErrBelowLiveSize  = errors.New("fbb: max capacity below current live size")
	ErrShortBuffer    = errors.New("fbb: n exceeds available bytes")
	ErrInvalid        = errors.New("fbb: buffer is invalid (nil or released)")
)

// Buffer is a growable byte region with an append boundary (size) and
// a consume cursor (off), or a read-only view over externally owned
// bytes.
type Buffer struct {
	buf []byte // backing region; cap(buf) is the allocated capacity

	size int // live-size watermark, off <= size <= cap(buf)
	off  int // consume offset, 0 <= off <= size

	maxCapacity int // 0 means "use hardCeiling"
	readOnly    bool

	refs     *int32 // shared refcount cell; nil for a buffer with no children yet
	parent   *Buffer
	released bool

	windowHint int // advisory growth target; 0 means unset
}

// New creates an empty, mutable buffer with the default capacity.
func New() *Buffer {
	return &Buffer{
		buf: make([]byte, 0, defaultCapacity),
	}
}

// NewView creates a read-only buffer over externally owned bytes. The
// bytes are not copied and are never freed by Release; the caller
// retains ownership of b's backing array.
func NewView(b []byte) (*Buffer, error) {
	if len(b) > hardCeiling {
		return nil, fmt.Errorf("%w: view length %d", ErrExceedsMax, len(b))
	}
	return &Buffer{
		buf:      b,
		size:     len(b),
		off:      0,
		readOnly: true,
	}, nil
}

// AttachParent makes child borrow a read-only window into parent,
// extending parent's lifetime: parent is not actually released until
// every attached child has been released. child becomes read-only.
func AttachParent(child, parent *Buffer, start, length int) error {
	if child == nil || parent == nil || child.released || parent.released {
		return ErrInvalid
	}
	if start < 0 || length < 0 || start+length > parent.size-parent.off {
		return fmt.Errorf("%w: child window out of parent range", ErrInvalid)
	}
	if parent.refs == nil {
		var n int32 = 1
		parent.refs = &n
	}
	*parent.refs++
	child.buf = parent.buf[parent.off+start : parent.off+start+length : parent.off+start+length]
	child.size = length
	child.off = 0
	child.readOnly = true
	child.parent = parent
	return nil
}

func (b *Buffer) checkSane() {
	if b == nil || b.released {
		panic("fbb: invariant violation: operation on nil/released buffer")
	}
	if b.off < 0 || b.size < b.off || cap(b.buf) < b.size {
		panic(fmt.Sprintf("fbb: invariant violation: off=%d size=%d cap=%d", b.off, b.size, cap(b.buf)))
	}
	if b.refs != nil && *b.refs < 1 {
		panic(fmt.Sprintf("fbb: invariant violation: refcount %d", *b.refs))
	}
}

// shared reports whether more than one reference (this buffer plus
// any attached children) is outstanding.
func (b *Buffer) shared() bool {
	return b.refs != nil && *b.refs > 1
}

// mutable reports whether b may currently be grown or written to.
func (b *Buffer) mutable() bool {
	return !b.readOnly && !b.shared()
}

// IsReadOnly reports whether b is a read-only view.
func (b *Buffer) IsReadOnly() bool {
	b.checkSane()
	return b.readOnly
}

// Len returns the number of unconsumed bytes currently available.
func (b *Buffer) Len() int {
	b.checkSane()
	return b.size - b.off
}

// Cap returns the current allocated capacity.
func (b *Buffer) Cap() int {
	b.checkSane()
	return cap(b.buf)
}

// MaxCapacity returns the buffer's current growth ceiling.
func (b *Buffer) MaxCapacity() int {
	b.checkSane()
	if b.maxCapacity == 0 {
		return hardCeiling
	}
	return b.maxCapacity
}

// SetWindowHint sets the advisory growth target used by the growth
// policy to skip intermediate reallocations on high-throughput
// streams (spec.md §4.1, "window hint").
func (b *Buffer) SetWindowHint(n int) {
	b.checkSane()
	b.windowHint = n
}

// Bytes returns the unconsumed portion of the buffer. The slice is
// only valid until the next mutating call.
func (b *Buffer) Bytes() []byte {
	b.checkSane()
	return b.buf[b.off:b.size]
}

// SetMaxCapacity bounds all future growth to n bytes, shrinking the
// backing region if it currently exceeds n.
func (b *Buffer) SetMaxCapacity(n int) error {
	b.checkSane()
	if b.readOnly {
		return ErrReadOnly
	}
	if b.shared() {
		return ErrShared
	}
	if n > hardCeiling {
		return ErrExceedsCeiling
	}
	if n < b.size {
		return ErrBelowLiveSize
	}
	b.pack(true)
	if cap(b.buf) > n {
		shrunk := make([]byte, b.size, n)
		copy(shrunk, b.buf[:b.size])
		b.buf = shrunk
	}
	b.maxCapacity = n
	return nil
}

// Reset clears the buffer's contents and, if the backing region has
// grown past the default capacity, shrinks it back toward that
// default. It is a no-op on read-only or shared buffers.
func (b *Buffer) Reset() error {
	b.checkSane()
	if b.readOnly {
		return ErrReadOnly
	}
	if b.shared() {
		return ErrShared
	}
	b.size = 0
	b.off = 0
	if cap(b.buf) > defaultCapacity {
		b.buf = make([]byte, 0, defaultCapacity)
	} else {
		b.buf = b.buf[:0]
	}
	return nil
}

// Reserve grows the live region by n bytes and returns a slice over
// the freshly appended, zero-valued bytes.
func (b *Buffer) Reserve(n int) ([]byte, error) {
	b.checkSane()
	if b.readOnly {
		return nil, ErrReadOnly
	}
	if b.shared() {
		return nil, ErrShared
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative reserve", ErrInvalid)
	}
	needed := b.size + n
	if needed > b.MaxCapacity() {
		return nil, ErrExceedsMax
	}
	if needed > cap(b.buf) {
		b.pack(false)
		needed = b.size + n
		if err := b.growTo(needed); err != nil {
			return nil, err
		}
	}
	b.buf = b.buf[:needed]
	for i := b.size; i < needed; i++ {
		b.buf[i] = 0
	}
	out := b.buf[b.size:needed]
	b.size = needed
	b.checkSane()
	return out, nil
}

// growTo reallocates the backing region so cap(buf) >= needed,
// applying the window-hint shortcut described in spec.md §4.1.
func (b *Buffer) growTo(needed int) error {
	max := b.MaxCapacity()
	if needed > max {
		return ErrExceedsMax
	}
	newCap := roundUp(needed, growIncrement)
	if b.windowHint > 0 && needed > growWatershed {
		if cap(b.buf) < b.windowHint {
			newCap = b.windowHint
			if newCap < needed {
				newCap = needed
			}
		} else if b.windowHint > growIncrement {
			newCap = roundUp(needed, b.windowHint)
		}
	}
	if newCap > max {
		newCap = max
	}
	if newCap < needed {
		return ErrExceedsMax
	}
	grown := make([]byte, b.size, newCap)
	copy(grown, b.buf[:b.size])
	b.buf = grown
	return nil
}

func roundUp(n, increment int) int {
	if n <= 0 {
		return increment
	}
	return ((n + increment - 1) / increment) * increment
}

// pack shifts the live region down to offset 0 when forced, or when
// the consumed prefix is large enough to be worth the copy (spec.md
// §4.1, "Packing policy"). It is a no-op on shared or read-only
// buffers, and on buffers with nothing consumed.
func (b *Buffer) pack(forced bool) {
	if b.off == 0 || b.readOnly || b.shared() {
		return
	}
	liveSize := b.size - b.off
	worthwhile := b.off >= packThreshold && b.off >= liveSize
	if !forced && !worthwhile {
		return
	}
	copy(b.buf[:liveSize], b.buf[b.off:b.size])
	b.buf = b.buf[:liveSize]
	b.size = liveSize
	b.off = 0
}

// ConsumeHead advances the consume cursor by n bytes. If this empties
// the buffer, the offset and size opportunistically reset to zero.
func (b *Buffer) ConsumeHead(n int) error {
	b.checkSane()
	if n < 0 || n > b.Len() {
		return ErrShortBuffer
	}
	b.off += n
	if b.off == b.size {
		b.off = 0
		b.size = 0
		if !b.readOnly && !b.shared() {
			b.buf = b.buf[:0]
		}
	}
	b.checkSane()
	return nil
}

// ConsumeTail shrinks the live region by n bytes from the tail.
func (b *Buffer) ConsumeTail(n int) error {
	b.checkSane()
	if n < 0 || n > b.Len() {
		return ErrShortBuffer
	}
	b.size -= n
	if b.off == b.size {
		b.off = 0
		b.size = 0
	}
	if !b.readOnly && !b.shared() {
		b.buf = b.buf[:b.size]
	}
	b.checkSane()
	return nil
}

// Release marks b done. A buffer with live children (b.refs > 1,
// meaning other buffers still hold a window into b's own backing
// array via AttachParent) defers the actual zeroing and free: b's own
// share of the refcount is consumed here, but the backing array stays
// intact until the last outstanding child releases too (spec.md §3:
// "freed when its own refcount reaches zero AND all children have
// been freed"). Releasing a buffer more than once is a programmer
// error and will panic via the sanity check on next use.
func (b *Buffer) Release() {
	if b == nil || b.released {
		return
	}
	b.released = true

	if b.refs != nil {
		*b.refs--
		if *b.refs > 0 {
			return
		}
	}
	b.finalize()
}

// finalize performs the actual backing-array teardown for b once b's
// own share of holders has dropped to zero: it zeroes the memory only
// if b is a genuine owner (no parent of its own — a child's buf is
// just a window into someone else's array), then releases b's hold on
// its parent's refcount, if any, recursing into the parent's own
// finalize once that refcount reaches zero too.
func (b *Buffer) finalize() {
	if b.parent == nil && !b.readOnly {
		for i := range b.buf[:cap(b.buf)] {
			b.buf[i] = 0
		}
	}
	b.buf = nil
	if b.parent != nil {
		p := b.parent
		b.parent = nil
		if p.refs != nil {
			*p.refs--
			if *p.refs == 0 {
				p.finalize()
			}
		}
	}
}
