// Package leaselock provides named, expiring locks. Inference passes take a
// lease so that only one worker scans a scope at a time.
package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

// Locker runs fn while holding the lease named key. The context passed to
// fn is cancelled when the lease is lost.
type Locker interface {
	WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// Wait retries acquisition until ctx is done instead of failing with
	// ErrBusy.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	if o.WaitJitter < 0 {
		o.WaitJitter = 0
	}
	return o
}

// Lease is a held lock. Context is done once the lease is released or lost.
type Lease struct {
	Key   string
	Token string

	Context context.Context

	cancel   context.CancelCauseFunc
	release  func(ctx context.Context) error
	stopOnce sync.Once
	stopCh   chan struct{}
}

func newLease(ctx context.Context, key, token string, release func(ctx context.Context) error) *Lease {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	return &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		cancel:  cancel,
		release: release,
		stopCh:  make(chan struct{}),
	}
}

func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})
	return l.release(ctx)
}

// lose cancels the lease context with cause.
func (l *Lease) lose(cause error) {
	l.cancel(cause)
}

func withLease(ctx context.Context, acquire func(ctx context.Context) (*Lease, error), fn func(ctx context.Context) error) error {
	lease, err := acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	if err := fn(lease.Context); err != nil {
		if cause := context.Cause(lease.Context); errors.Is(cause, ErrLost) {
			return errors.Join(err, ErrLost)
		}
		return err
	}
	return nil
}

// acquireLoop calls try until it succeeds, fails, or (without Wait)
// reports the lock as taken.
func acquireLoop(ctx context.Context, opts Options, try func(ctx context.Context) (bool, error)) error {
	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !opts.Wait {
			return ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return err
		}
	}
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
