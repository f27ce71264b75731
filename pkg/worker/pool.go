// Package worker implements the fixed-size execution pool the session
// layer dispatches into. The session layer is a fully event-driven
// reactor; every query is parsed and executed on this pool so that the
// storage engine's blocking file I/O never stalls other connections'
// socket reads and writes.
package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rustbase/rustbase/pkg/metrics"
)

// Pool is a fixed-size set of goroutines draining a shared job queue.
type Pool struct {
	jobs   chan func()
	quit   chan struct{}
	wg     sync.WaitGroup
	queued int64
}

// New starts a Pool with size worker goroutines. size <= 0 defaults to
// the number of CPUs.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}

	p := &Pool{
		jobs: make(chan func()),
		quit: make(chan struct{}),
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.loop()
	}
	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job()
		case <-p.quit:
			return
		}
	}
}

// Submit enqueues fn to run on whichever worker goroutine becomes free
// next. It blocks until the job has been accepted or the pool is
// stopped.
func (p *Pool) Submit(fn func()) {
	atomic.AddInt64(&p.queued, 1)
	metrics.WorkerPoolQueueDepth.Set(float64(atomic.LoadInt64(&p.queued)))

	dequeue := func() {
		atomic.AddInt64(&p.queued, -1)
		metrics.WorkerPoolQueueDepth.Set(float64(atomic.LoadInt64(&p.queued)))
	}
	wrapped := func() {
		dequeue()
		fn()
	}

	select {
	case p.jobs <- wrapped:
	case <-p.quit:
		dequeue()
	}
}

// Execute submits fn and blocks until it has run (or ctx is canceled),
// returning its result. This is the shape the session layer uses: submit
// one query's execution and await its completion before writing the
// response.
func (p *Pool) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	// Submit blocks while every worker is busy, so it runs on its own
	// goroutine; a job abandoned by a canceled ctx still runs once a worker
	// frees up, and its result is dropped into the buffered channel.
	go p.Submit(func() {
		v, err := fn()
		done <- outcome{value: v, err: err}
	})

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop signals every worker goroutine to exit once its current job (if
// any) completes, and waits for them all to return.
func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
}
