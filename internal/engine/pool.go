package engine

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	ErrPoolBusy   = errors.New("worker pool already running a job")
	ErrPoolClosed = errors.New("worker pool closed")
)

// Pool splits index ranges across a fixed number of workers. A Pool belongs
// to one session and runs a single job at a time.
type Pool struct {
	workers int
	busy    atomic.Bool
	closed  atomic.Bool
}

func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers}
}

func (p *Pool) Workers() int { return p.workers }

// Run calls fn over contiguous chunks covering [0, n), one chunk per worker,
// and returns the first error.
func (p *Pool) Run(ctx context.Context, n int, fn func(lo, hi int) error) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if !p.busy.CompareAndSwap(false, true) {
		return ErrPoolBusy
	}
	defer p.busy.Store(false)

	if n <= 0 {
		return nil
	}

	workers := p.workers
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}

// Close rejects further jobs.
func (p *Pool) Close() {
	p.closed.Store(true)
}
