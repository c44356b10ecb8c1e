package bufferpool

import "sync/atomic"

const cacheLine = 64

type cell struct {
	seq atomic.Uint64
	val uint32
}

// ring is a bounded multi-producer multi-consumer queue of slot indices. Each cell carries a
// sequence number: seq == pos means free for the producer at pos, seq == pos+1 means filled
// for the consumer at pos.
type ring struct {
	mask  uint64
	cells []cell
	_     [cacheLine]byte
	enq   atomic.Uint64
	_     [cacheLine - 8]byte
	deq   atomic.Uint64
	_     [cacheLine - 8]byte
}

func newRing(capacity int) *ring {
	n := 1
	for n < capacity {
		n <<= 1
	}
	r := &ring{mask: uint64(n - 1), cells: make([]cell, n)}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
	}
	return r
}

func (r *ring) push(v uint32) bool {
	pos := r.enq.Load()
	for {
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()
		switch dif := int64(seq - pos); {
		case dif == 0:
			if r.enq.CompareAndSwap(pos, pos+1) {
				c.val = v
				c.seq.Store(pos + 1)
				return true
			}
			pos = r.enq.Load()
		case dif < 0:
			return false
		default:
			pos = r.enq.Load()
		}
	}
}

func (r *ring) pop() (uint32, bool) {
	pos := r.deq.Load()
	for {
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()
		switch dif := int64(seq - (pos + 1)); {
		case dif == 0:
			if r.deq.CompareAndSwap(pos, pos+1) {
				v := c.val
				c.seq.Store(pos + r.mask + 1)
				return v, true
			}
			pos = r.deq.Load()
		case dif < 0:
			return 0, false
		default:
			pos = r.deq.Load()
		}
	}
}
