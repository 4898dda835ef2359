// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package timer implements the Timer subsystem described in spec §4.1: a
// single timer queue worker that fires TimerExpiry(id) callbacks, posted
// onto a caller-supplied Looper, in FIFO order of their deadlines. Timer
// IDs are opaque integers unique for the process lifetime.
//
// Grounded on client2/timer_queue.go's TimerQueue: a container/heap
// priority queue ordered by absolute deadline, woken either by its own
// timer firing or by a sync.Cond signal when a new, earlier deadline is
// pushed.
package timer

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Pakkapon0000/vpn-libraries/looper"
	"github.com/Pakkapon0000/vpn-libraries/pqueue"
)

// ID identifies one scheduled timer. Unique for the process lifetime.
type ID uint64

// lastID is shared by every Queue, so IDs never repeat across queues.
var lastID uint64

// Driver is the Timer subsystem contract consumed by Session and the
// krypton Facade.
type Driver interface {
	// StartTimer schedules a TimerExpiry(id) to fire after d, posted onto
	// the Looper given at construction time. It returns the new timer's
	// ID.
	StartTimer(d time.Duration) ID
	// CancelTimer cancels a pending timer. Canceling an already-fired or
	// already-canceled timer is a no-op.
	CancelTimer(id ID)
	// Halt stops the worker goroutine backing this Driver and waits for
	// it to exit.
	Halt()
}

// Queue is the default Driver implementation.
type Queue struct {
	onExpiry func(ID)
	target   *looper.Looper

	cond  *sync.Cond
	mu    sync.Mutex
	heap  *pqueue.PriorityQueue

	halt     chan struct{}
	haltOnce sync.Once
	wg       sync.WaitGroup

	canceled map[ID]bool

	wakech chan struct{}
}

// NewQueue constructs a Queue that posts TimerExpiry(id) onto target
// whenever a scheduled timer fires.
func NewQueue(target *looper.Looper, onExpiry func(ID)) *Queue {
	q := &Queue{
		onExpiry: onExpiry,
		target:   target,
		cond:     sync.NewCond(new(sync.Mutex)),
		heap:     pqueue.New(),
		halt:     make(chan struct{}),
		canceled: make(map[ID]bool),
	}
	return q
}

// Start launches the Queue's worker goroutine.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Halt stops the Queue's worker goroutine and waits for it to exit.
func (q *Queue) Halt() {
	q.haltOnce.Do(func() { close(q.halt) })
	q.cond.Signal()
	q.wg.Wait()
}

// StartTimer implements Driver.
func (q *Queue) StartTimer(d time.Duration) ID {
	q.mu.Lock()
	id := ID(atomic.AddUint64(&lastID, 1))
	deadline := time.Now().Add(d).UnixNano()
	heap.Push(q.heap, &pqueue.Entry{Priority: uint64(deadline), Value: id})
	q.mu.Unlock()

	q.cond.Signal()
	return id
}

// CancelTimer implements Driver.
func (q *Queue) CancelTimer(id ID) {
	q.mu.Lock()
	q.canceled[id] = true
	q.mu.Unlock()
}

func (q *Queue) isCanceled(id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	canceled := q.canceled[id]
	if canceled {
		delete(q.canceled, id)
	}
	return canceled
}

// wakeupCh returns the channel that fires on every Signal of the Queue's
// sync.Cond. It is created once and reused so that at most one goroutine
// is ever parked in cond.Wait.
func (q *Queue) wakeupCh() <-chan struct{} {
	if q.wakech != nil {
		return q.wakech
	}
	c := make(chan struct{})
	go func() {
		defer close(c)
		for {
			q.cond.L.Lock()
			q.cond.Wait()
			q.cond.L.Unlock()
			select {
			case <-q.halt:
				return
			case c <- struct{}{}:
			}
		}
	}()
	q.wakech = c
	return c
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		var waitCh <-chan time.Time
		q.mu.Lock()
		if e := q.heap.Peek(); e != nil {
			left := int64(e.Priority) - time.Now().UnixNano()
			if left <= 0 {
				q.mu.Unlock()
				q.fireDue()
				continue
			}
			waitCh = time.After(time.Duration(left))
		}
		q.mu.Unlock()

		select {
		case <-q.halt:
			return
		case <-q.wakeupCh():
		case <-waitChOrNever(waitCh):
			q.fireDue()
		}
	}
}

// waitChOrNever returns waitCh unchanged. When the queue is empty waitCh
// is nil, and a nil channel never fires in a select, so the worker then
// waits only on halt and on wakeupCh, which fires when a timer is pushed.
func waitChOrNever(waitCh <-chan time.Time) <-chan time.Time {
	if waitCh == nil {
		return nil
	}
	return waitCh
}

func (q *Queue) fireDue() {
	q.mu.Lock()
	var due []ID
	now := time.Now().UnixNano()
	for {
		e := q.heap.Peek()
		if e == nil || int64(e.Priority) > now {
			break
		}
		heap.Pop(q.heap)
		due = append(due, e.Value.(ID))
	}
	q.mu.Unlock()

	for _, id := range due {
		if q.isCanceled(id) {
			continue
		}
		fired := id
		q.target.Post(func() {
			q.onExpiry(fired)
		})
	}
}
