// Package packetpool implements a fixed-capacity reusable buffer
// allocator with a bounded, blocking borrow: the datapath's packet
// arena, never the datapath itself.
package packetpool

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultCapacity is the default number of buffers in a Pool.
	DefaultCapacity = 400

	// DefaultBorrowTimeout is the default bound on how long Borrow
	// waits for a buffer to free up before giving up.
	DefaultBorrowTimeout = 50 * time.Millisecond
)

// Pool is a fixed-capacity set of byte buffers, each bufSize bytes.
// Borrow never allocates past capacity: once all buffers are checked
// out, callers block (bounded) until one is Released.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	bufSize int
	free    [][]byte
	outCount int

	borrowTimeout time.Duration

	closed     bool
	closeWaitC chan struct{}
}

// New creates a Pool of capacity buffers, each bufSize bytes, with the
// default borrow timeout.
func New(capacity, bufSize int) *Pool {
	return NewWithTimeout(capacity, bufSize, DefaultBorrowTimeout)
}

// NewWithTimeout is New with an explicit borrow timeout.
func NewWithTimeout(capacity, bufSize int, borrowTimeout time.Duration) *Pool {
	p := &Pool{
		bufSize:       bufSize,
		borrowTimeout: borrowTimeout,
	}
	p.cond = sync.NewCond(&p.mu)
	p.free = make([][]byte, 0, capacity)
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, make([]byte, bufSize))
	}
	return p
}

// Handle is a single borrowed buffer. It must be released exactly once.
type Handle struct {
	pool *Pool
	buf  []byte
	once sync.Once
}

// Bytes returns the underlying buffer. It is only valid until Release.
func (h *Handle) Bytes() []byte {
	return h.buf
}

// Release returns the buffer to the pool. Safe to call more than once;
// only the first call has effect.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.pool.release(h.buf)
	})
}

// Borrow waits up to the pool's borrow timeout (bounded further by
// ctx's deadline, if any) for a free buffer. It returns nil, nil on
// timeout or pool exhaustion, and a non-nil error only if the pool has
// been closed or ctx is done, including ctx's deadline passing while it
// waits.
func (p *Pool) Borrow(ctx context.Context) (*Handle, error) {
	deadline := time.Now().Add(p.borrowTimeout)
	ctxBound := false
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
		ctxBound = true
	}

	timer := time.AfterFunc(time.Until(deadline), func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.closed {
			return nil, fmt.Errorf("packetpool: pool is closed")
		}
		if n := len(p.free); n > 0 {
			buf := p.free[n-1]
			p.free = p.free[:n-1]
			p.outCount++
			return &Handle{pool: p, buf: buf}, nil
		}
		if !time.Now().Before(deadline) {
			if ctxBound {
				return nil, context.DeadlineExceeded
			}
			return nil, nil
		}
		p.cond.Wait()
	}
}

func (p *Pool) release(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, buf)
	p.outCount--
	if p.closed && p.outCount == 0 && p.closeWaitC != nil {
		close(p.closeWaitC)
		p.closeWaitC = nil
	}
	p.cond.Broadcast()
}

// Close marks the pool closed (Borrow starts failing) and blocks until
// every outstanding Handle has been Released.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	outstanding := p.outCount
	var waitC chan struct{}
	if outstanding > 0 {
		waitC = make(chan struct{})
		p.closeWaitC = waitC
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	if waitC != nil {
		<-waitC
	}
}
