package state

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Scheduler is the single timer substrate shared by every component: hold
// timers, retransmit sweeps, refresh timers and debounce delays all live in
// one min-heap served by one goroutine. Callbacks are opaque; components
// typically wrap a Dispatch so the work lands on the owning loop.
type Scheduler struct {
	mu   sync.Mutex
	heap timerHeap
	wake chan struct{}
	ctx  context.Context
}

// Timer is a handle to one scheduled callback.
type Timer struct {
	sched *Scheduler
	fn    func()
	at    time.Time
	index int // heap index, -1 when not queued
}

type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { t := x.(*Timer); t.index = len(*h); *h = append(*h, t) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func NewScheduler(ctx context.Context) *Scheduler {
	s := &Scheduler{
		wake: make(chan struct{}, 1),
		ctx:  ctx,
	}
	go s.run()
	return s
}

// Schedule queues fn to run after d. The returned Timer may be cancelled or
// reset from any goroutine.
func (s *Scheduler) Schedule(d time.Duration, fn func()) *Timer {
	t := &Timer{
		sched: s,
		fn:    fn,
		at:    time.Now().Add(d),
		index: -1,
	}
	s.mu.Lock()
	heap.Push(&s.heap, t)
	s.mu.Unlock()
	s.kick()
	return t
}

// Cancel removes the timer if it has not fired yet.
func (t *Timer) Cancel() {
	t.sched.mu.Lock()
	if t.index >= 0 {
		heap.Remove(&t.sched.heap, t.index)
	}
	t.sched.mu.Unlock()
}

// Reset re-arms the timer to fire after d, whether or not it already fired.
func (t *Timer) Reset(d time.Duration) {
	t.sched.mu.Lock()
	t.at = time.Now().Add(d)
	if t.index >= 0 {
		heap.Fix(&t.sched.heap, t.index)
	} else {
		heap.Push(&t.sched.heap, t)
	}
	t.sched.mu.Unlock()
	t.sched.kick()
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) next() (*Timer, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return nil, 0
	}
	t := s.heap[0]
	d := time.Until(t.at)
	if d > 0 {
		return nil, d
	}
	heap.Pop(&s.heap)
	return t, 0
}

func (s *Scheduler) run() {
	idle := time.NewTimer(time.Hour)
	defer idle.Stop()
	for {
		t, wait := s.next()
		if t != nil {
			t.fn()
			continue
		}
		if wait == 0 {
			wait = time.Hour
		}
		idle.Reset(wait)
		select {
		case <-s.wake:
		case <-idle.C:
		case <-s.ctx.Done():
			return
		}
	}
}
