package core

import (
	"container/heap"
	"context"
	"math/rand"
	"sync"
	"time"

	"flightcode-go/types"
)

// PollReq asks the HAL loop to run a verb against a capability.
type PollReq struct {
	Domain string
	Kind   types.Kind
	Name   string
	Verb   string
}

type schedKey struct {
	domain string
	kind   types.Kind
	name   string
	verb   string
}

type schedule struct {
	key    schedKey
	due    int64 // unix nanos
	every  time.Duration
	jitter time.Duration
	index  int
}

type schedHeap []*schedule

func (h schedHeap) Len() int           { return len(h) }
func (h schedHeap) Less(i, j int) bool { return h[i].due < h[j].due }
func (h schedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *schedHeap) Push(x any)        { s := x.(*schedule); s.index = len(*h); *h = append(*h, s) }
func (h *schedHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	s.index = -1
	*h = old[:n-1]
	return s
}

// Poller owns the capability poll schedules. Due entries are delivered to the
// out channel; a full channel drops the tick rather than blocking the timer
// loop (the next re-arm fires it again).
type Poller struct {
	mu    sync.Mutex
	wake  chan struct{}
	byKey map[schedKey]*schedule
	h     schedHeap
	rand  *rand.Rand
	out   chan<- PollReq
}

func NewPoller(out chan<- PollReq) *Poller {
	return &Poller{
		wake:  make(chan struct{}, 1),
		byKey: make(map[schedKey]*schedule),
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
		out:   out,
	}
}

// Upsert adds or replaces a schedule. The first fire happens one interval
// from now; a random jitter in [0..jitter] is added to every arm so
// same-interval sensors spread out.
func (p *Poller) Upsert(domain string, kind types.Kind, name, verb string, interval, jitter time.Duration) {
	if interval <= 0 || verb == "" {
		return
	}
	if jitter < 0 {
		jitter = 0
	}
	key := schedKey{domain: domain, kind: kind, name: name, verb: verb}
	due := time.Now().Add(p.jittered(interval, jitter)).UnixNano()

	p.mu.Lock()
	if s := p.byKey[key]; s != nil {
		s.every = interval
		s.jitter = jitter
		s.due = due
		heap.Fix(&p.h, s.index)
	} else {
		s = &schedule{key: key, due: due, every: interval, jitter: jitter, index: -1}
		p.byKey[key] = s
		heap.Push(&p.h, s)
	}
	p.mu.Unlock()
	p.wakeup()
}

func (p *Poller) Stop(domain string, kind types.Kind, name, verb string) {
	key := schedKey{domain: domain, kind: kind, name: name, verb: verb}
	p.mu.Lock()
	if s := p.byKey[key]; s != nil {
		heap.Remove(&p.h, s.index)
		delete(p.byKey, key)
	}
	p.mu.Unlock()
	p.wakeup()
}

func (p *Poller) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := p.nextWait()
		if wait < 0 {
			// Nothing scheduled.
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
				continue
			}
		}
		if wait == 0 {
			p.fireDue()
			continue
		}

		timer.Reset(time.Duration(wait))
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}
	}
}

// fireDue pops the head if due, re-arms it, and hands the request off.
func (p *Poller) fireDue() {
	var due *schedule

	p.mu.Lock()
	now := time.Now().UnixNano()
	if len(p.h) > 0 && p.h[0].due <= now {
		due = heap.Pop(&p.h).(*schedule)
		due.due = time.Now().Add(p.jittered(due.every, due.jitter)).UnixNano()
		heap.Push(&p.h, due)
	}
	p.mu.Unlock()

	if due == nil {
		return
	}
	select {
	case p.out <- PollReq{
		Domain: due.key.domain,
		Kind:   due.key.kind,
		Name:   due.key.name,
		Verb:   due.key.verb,
	}:
	default:
	}
}

// nextWait returns nanos until the head is due, 0 if already due, -1 if the
// schedule is empty.
func (p *Poller) nextWait() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.h) == 0 {
		return -1
	}
	now := time.Now().UnixNano()
	if p.h[0].due <= now {
		return 0
	}
	return p.h[0].due - now
}

func (p *Poller) wakeup() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) jittered(interval, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return interval
	}
	return interval + time.Duration(p.rand.Int63n(int64(jitter)+1))
}
