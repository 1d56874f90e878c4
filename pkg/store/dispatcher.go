package store

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("store is closed")

// SyncHandle reports the outcome of a remote call issued by the store.
// The local part of an operation has always been applied by the time a
// handle is returned.
type SyncHandle struct {
	done chan struct{}
	err  error
}

func newSyncHandle() *SyncHandle {
	return &SyncHandle{done: make(chan struct{})}
}

// completedHandle returns a handle for an operation that issued no call.
func completedHandle(err error) *SyncHandle {
	h := newSyncHandle()
	h.finish(err)
	return h
}

func (h *SyncHandle) finish(err error) {
	h.err = err
	close(h.done)
}

// Done is closed once the remote call has finished.
func (h *SyncHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the remote call finishes or ctx is done. Cancelling ctx
// only stops the wait, not the call.
func (h *SyncHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	ctx context.Context
	fn  func(ctx context.Context) error
	h   *SyncHandle
}

// dispatcher runs remote calls in the background. Jobs are queued in
// submission order and drained by at most maxInflight workers, so submit
// never blocks on the limit.
type dispatcher struct {
	mu          sync.Mutex
	group       errgroup.Group
	queue       []job
	workers     int
	maxInflight int
	timeout     time.Duration
	closed      bool
}

func newDispatcher(maxInflight int, timeout time.Duration) *dispatcher {
	return &dispatcher{maxInflight: maxInflight, timeout: timeout}
}

// submit queues fn to run on a context detached from ctx's cancellation and
// bounded by the dispatcher timeout.
func (d *dispatcher) submit(ctx context.Context, fn func(ctx context.Context) error) *SyncHandle {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return completedHandle(ErrClosed)
	}

	h := newSyncHandle()
	d.queue = append(d.queue, job{ctx: context.WithoutCancel(ctx), fn: fn, h: h})
	if d.maxInflight <= 0 || d.workers < d.maxInflight {
		d.workers++
		d.group.Go(d.work)
	}
	return h
}

func (d *dispatcher) work() error {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.workers--
			d.mu.Unlock()
			return nil
		}
		j := d.queue[0]
		d.queue[0] = job{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
		j.h.finish(j.fn(ctx))
		cancel()
	}
}

// close stops accepting jobs and waits for the queued and running ones.
func (d *dispatcher) close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
