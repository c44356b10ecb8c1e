// Package bufferpool hands out fixed-size executable buffers carved from a single mapping.
// Acquire and Release never block and never enter the kernel.
package bufferpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/colorfulnotion/cpjit/log"
)

const (
	DefaultBufferSize = 4096
	DefaultCapacity   = 64

	// TrapByte (int3) fills every released buffer.
	TrapByte = 0xCC
)

var (
	ErrInvalidSize        = errors.New("bufferpool: buffer size must be a positive multiple of the page size")
	ErrInvalidCapacity    = errors.New("bufferpool: capacity must be positive")
	ErrBuffersOutstanding = errors.New("bufferpool: buffers still in use")
	ErrCodeTooLarge       = errors.New("bufferpool: code larger than buffer")
	ErrBufferReleased     = errors.New("bufferpool: buffer already released")
)

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Capacity  int
	InUse     int
	Acquired  uint64
	Released  uint64
	Exhausted uint64
}

// Pool owns capacity buffers of bufferSize bytes each.
type Pool struct {
	mem        []byte
	bufferSize int
	capacity   int
	executable bool
	free       *ring

	inUse     atomic.Int64
	acquired  atomic.Uint64
	released  atomic.Uint64
	exhausted atomic.Uint64

	// pending counts Acquire calls between their closed check and their return.
	pending  atomic.Int64
	closed   atomic.Bool
	closeMu  sync.Mutex
	unmapped bool
}

// New maps capacity*bufferSize bytes and fills them with TrapByte.
func New(capacity, bufferSize int) (*Pool, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if bufferSize <= 0 || bufferSize%pageSize() != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, bufferSize)
	}
	mem, exec, err := mapRegion(capacity * bufferSize)
	if err != nil {
		return nil, err
	}
	for i := range mem {
		mem[i] = TrapByte
	}
	p := &Pool{
		mem:        mem,
		bufferSize: bufferSize,
		capacity:   capacity,
		executable: exec,
		free:       newRing(capacity),
	}
	for i := 0; i < capacity; i++ {
		p.free.push(uint32(i))
	}
	log.Debug(log.PoolMonitoring, "buffer pool mapped", "capacity", capacity, "bufferSize", bufferSize, "executable", exec)
	return p, nil
}

// Acquire takes a free buffer. It reports false when the pool is exhausted or closed;
// callers treat that as resource exhaustion rather than retrying.
func (p *Pool) Acquire() (*Buffer, bool) {
	p.pending.Add(1)
	defer p.pending.Add(-1)
	if p.closed.Load() {
		return nil, false
	}
	slot, ok := p.free.pop()
	if !ok {
		p.exhausted.Add(1)
		log.Debug(log.PoolMonitoring, "buffer pool exhausted", "capacity", p.capacity)
		return nil, false
	}
	p.inUse.Add(1)
	p.acquired.Add(1)
	off := int(slot) * p.bufferSize
	return &Buffer{pool: p, slot: slot, mem: p.mem[off : off+p.bufferSize : off+p.bufferSize]}, true
}

// Release returns b to the pool. Releasing a buffer twice is a no-op.
func (p *Pool) Release(b *Buffer) {
	if b != nil {
		b.Release()
	}
}

func (p *Pool) Capacity() int { return p.capacity }

// BufferSize is the size in bytes of every buffer.
func (p *Pool) BufferSize() int { return p.bufferSize }

func (p *Pool) InUse() int { return int(p.inUse.Load()) }

// Available is Capacity minus InUse.
func (p *Pool) Available() int { return p.capacity - p.InUse() }

// Executable reports whether buffers are mapped with execute permission.
func (p *Pool) Executable() bool { return p.executable }

func (p *Pool) Stats() Stats {
	return Stats{
		Capacity:  p.capacity,
		InUse:     p.InUse(),
		Acquired:  p.acquired.Load(),
		Released:  p.released.Load(),
		Exhausted: p.exhausted.Load(),
	}
}

// Close unmaps the pool. It fails while any buffer is still held or an Acquire is in flight.
// closed is set before the counters are read, so an Acquire racing with Close either sees
// the pool closed or is seen by Close.
func (p *Pool) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.unmapped {
		return nil
	}
	p.closed.Store(true)
	if p.pending.Load() > 0 || p.InUse() > 0 {
		p.closed.Store(false)
		return fmt.Errorf("%w: %d", ErrBuffersOutstanding, p.InUse())
	}
	p.unmapped = true
	return unmapRegion(p.mem)
}

// Buffer is one single-owner slice of executable memory.
type Buffer struct {
	pool     *Pool
	slot     uint32
	mem      []byte
	released atomic.Bool
}

// Bytes exposes the whole buffer for writing. The contents are untrusted until fully written.
func (b *Buffer) Bytes() []byte { return b.mem }

func (b *Buffer) Len() int { return len(b.mem) }

// Addr is the address of the first byte.
func (b *Buffer) Addr() uintptr { return uintptr(unsafe.Pointer(&b.mem[0])) }

func (b *Buffer) Executable() bool { return b.pool.executable }

// Write copies code to the start of the buffer.
func (b *Buffer) Write(code []byte) error {
	if b.released.Load() {
		return ErrBufferReleased
	}
	if len(code) > len(b.mem) {
		return fmt.Errorf("%w: %d > %d", ErrCodeTooLarge, len(code), len(b.mem))
	}
	copy(b.mem, code)
	return nil
}

// Release overwrites the buffer with TrapByte and returns its slot. Subsequent calls do nothing.
func (b *Buffer) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	for i := range b.mem {
		b.mem[i] = TrapByte
	}
	p := b.pool
	p.inUse.Add(-1)
	p.released.Add(1)
	p.free.push(b.slot)
}
