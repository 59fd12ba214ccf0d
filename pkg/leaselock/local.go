package leaselock

import (
	"context"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Local is an in-process Locker for single-process deployments. Leases
// expire after TTL unless renewed, like the database variant.
type Local struct {
	mu     sync.Mutex
	leases map[string]localEntry
}

type localEntry struct {
	token   string
	expires time.Time
}

var _ Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{leases: make(map[string]localEntry)}
}

func (c *Local) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	return withLease(ctx, func(ctx context.Context) (*Lease, error) {
		return c.Acquire(ctx, key, opts)
	}, fn)
}

func (c *Local) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	opts = opts.withDefaults()
	tok, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + tok

	err = acquireLoop(ctx, opts, func(context.Context) (bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		now := time.Now()
		if cur, ok := c.leases[key]; ok && cur.expires.After(now) && cur.token != token {
			return false, nil
		}
		c.leases[key] = localEntry{token: token, expires: now.Add(opts.TTL)}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	l := newLease(ctx, key, token, func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.leases[key]; ok && cur.token == token {
			delete(c.leases, key)
		}
		return nil
	})
	go func() {
		t := time.NewTicker(opts.RenewEvery)
		defer t.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-l.Context.Done():
				return
			case <-t.C:
				c.mu.Lock()
				cur, ok := c.leases[key]
				if ok && cur.token == token {
					c.leases[key] = localEntry{token: token, expires: time.Now().Add(opts.TTL)}
				}
				c.mu.Unlock()
				if !ok || cur.token != token {
					l.lose(ErrLost)
					return
				}
			}
		}
	}()
	return l, nil
}
