// Package shmring provides handle-registered single-producer single-consumer
// byte rings. A device hands the integer handle to its peer over the bus; the
// peer resolves it with Get and reads or writes the ring directly, so bulk
// bytes never travel through bus messages.
package shmring

import (
	"sync"
	"sync/atomic"
)

type Handle uint32

// global registry
var (
	regMu   sync.RWMutex
	rings          = map[Handle]*Ring{}
	nextHdl Handle = 1
)

// New registers a ring of the given size. Size must be a power of two.
func New(size int) (Handle, *Ring) {
	if size < 2 || (size&(size-1)) != 0 {
		panic("shmring: size must be power of two >= 2")
	}
	r := &Ring{
		buf:      make([]byte, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
	regMu.Lock()
	h := nextHdl
	nextHdl++
	rings[h] = r
	regMu.Unlock()
	return h, r
}

// Get resolves a handle. Returns nil for 0 or a closed handle.
func Get(h Handle) *Ring {
	if h == 0 {
		return nil
	}
	regMu.RLock()
	r := rings[h]
	regMu.RUnlock()
	return r
}

func Close(h Handle) {
	regMu.Lock()
	delete(rings, h)
	regMu.Unlock()
}

// Ring is a single-producer, single-consumer byte ring. Indices are monotonic
// uint32 counters; the buffer offset is index & mask.
type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index
	wr   atomic.Uint32 // producer index

	readable chan struct{} // empty -> non-empty edge
	writable chan struct{} // full -> non-full edge
}

func (r *Ring) size() uint32 { return uint32(len(r.buf)) }

// WriteFrom copies as much of src as fits and returns the count. Producer
// side only. Signals Readable on the empty to non-empty transition.
func (r *Ring) WriteFrom(src []byte) (n int) {
	if len(src) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	beforeAvail := wr - rd
	space := int(r.size() - beforeAvail)
	if space <= 0 {
		return 0
	}
	if len(src) < space {
		space = len(src)
	}
	n = space

	size := r.size()
	wrIdx := wr & r.mask
	first := int(size - wrIdx)
	if first > n {
		first = n
	}
	copy(r.buf[wrIdx:wrIdx+uint32(first)], src[:first])
	if second := n - first; second > 0 {
		copy(r.buf[:second], src[first:n])
	}
	r.wr.Store(wr + uint32(n)) // release

	if beforeAvail == 0 {
		select {
		case r.readable <- struct{}{}:
		default:
		}
	}
	return n
}

// ReadInto copies up to len(dst) available bytes and returns the count.
// Consumer side only. Signals Writable on the full to non-full transition.
func (r *Ring) ReadInto(dst []byte) (n int) {
	if len(dst) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	avail := int(wr - rd)
	if avail <= 0 {
		return 0
	}
	if len(dst) < avail {
		avail = len(dst)
	}
	n = avail

	size := r.size()
	rdIdx := rd & r.mask
	first := int(size - rdIdx)
	if first > n {
		first = n
	}
	copy(dst[:first], r.buf[rdIdx:rdIdx+uint32(first)])
	if second := n - first; second > 0 {
		copy(dst[first:n], r.buf[:second])
	}
	r.rd.Store(rd + uint32(n)) // release

	beforeSpace := int(size - (wr - rd))
	if beforeSpace == 0 {
		select {
		case r.writable <- struct{}{}:
		default:
		}
	}
	return n
}

// Readable signals the empty to non-empty transition, coalesced to one token.
func (r *Ring) Readable() <-chan struct{} { return r.readable }

// Writable signals the full to non-full transition, coalesced to one token.
func (r *Ring) Writable() <-chan struct{} { return r.writable }
