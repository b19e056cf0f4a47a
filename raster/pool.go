package raster

import (
	"context"
	"sync"
)

// Job is a unit of work run by a Pool worker.
type Job func(ctx context.Context) error

// Pool runs jobs on a fixed number of goroutines. Callers submit with Do and
// block until their job has run.
type Pool struct {
	jobs    chan func(ctx context.Context)
	wg      sync.WaitGroup
	workers int

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool with the given number of workers and queue capacity.
func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers * 2
	}
	return &Pool{
		jobs:    make(chan func(ctx context.Context), queue),
		workers: workers,
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Start launches the workers. Jobs run with ctx; once ctx is done, queued
// jobs still run (with the cancelled ctx) so no caller is left waiting.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					for job := range p.jobs {
						job(ctx)
					}
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					job(ctx)
				}
			}
		}()
	}
}

// Do queues fn and waits for its result. It returns ErrPoolClosed after Close,
// or ctx.Err() if ctx ends before the job is queued or finished.
func (p *Pool) Do(ctx context.Context, fn Job) error {
	res := make(chan error, 1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	select {
	case p.jobs <- func(jobCtx context.Context) { res <- fn(jobCtx) }:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for the workers to drain the queue.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// ErrPoolClosed is returned if Do is called after Close.
var ErrPoolClosed = &PoolError{"raster pool closed"}

// PoolError is a typed error for pool operations.
type PoolError struct{ msg string }

func (e *PoolError) Error() string { return e.msg }

// Pooled runs every Rasterize call of r on pool.
func Pooled(r Rasterizer, pool *Pool) Rasterizer {
	return &pooled{r: r, pool: pool}
}

type pooled struct {
	r    Rasterizer
	pool *Pool
}

func (p *pooled) Rasterize(ctx context.Context, pdf []byte, prof Profile, rng *Range) ([][]byte, error) {
	var out [][]byte
	err := p.pool.Do(ctx, func(jobCtx context.Context) error {
		// The caller's ctx governs cancellation; the worker ctx only
		// signals pool shutdown.
		if err := jobCtx.Err(); err != nil {
			return err
		}
		var err error
		out, err = p.r.Rasterize(ctx, pdf, prof, rng)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
