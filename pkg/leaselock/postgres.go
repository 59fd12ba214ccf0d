package leaselock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client keeps leases in the kg_leases table so they are shared by every
// worker using the same database. The table is created by the store
// migrations.
type Client struct {
	db dbConn
}

var _ Locker = (*Client)(nil)

func New(pool *pgxpool.Pool) *Client {
	return &Client{db: pool}
}

func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	return withLease(ctx, func(ctx context.Context) (*Lease, error) {
		return c.Acquire(ctx, key, opts)
	}, fn)
}

func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts = opts.withDefaults()
	ttlMs := opts.TTL.Milliseconds()

	tok, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + tok

	err = acquireLoop(ctx, opts, func(ctx context.Context) (bool, error) {
		var returnedKey string
		err := c.db.QueryRow(ctx, tryAcquireSQL, key, token, ttlMs).Scan(&returnedKey)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		return returnedKey != "", nil
	})
	if err != nil {
		return nil, err
	}

	l := newLease(ctx, key, token, func(ctx context.Context) error {
		_, err := c.db.Exec(ctx, releaseSQL, key, token)
		return err
	})
	go c.renewLoop(l, opts.RenewEvery, ttlMs)
	return l, nil
}

func (c *Client) renewLoop(l *Lease, every time.Duration, ttlMs int64) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := c.renewOnce(l, ttlMs); err != nil {
				l.lose(err)
				return
			}
		}
	}
}

func (c *Client) renewOnce(l *Lease, ttlMs int64) error {
	for attempt := range 3 {
		renewCtx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		var returnedKey string
		err := c.db.QueryRow(renewCtx, renewSQL, l.Key, l.Token, ttlMs).Scan(&returnedKey)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
		if attempt == 2 {
			return err
		}
		if err := sleepWithJitter(l.Context, 200*time.Millisecond, 0); err != nil {
			return err
		}
	}
	return ErrLost
}

const tryAcquireSQL = `
INSERT INTO kg_leases (lease_key, held_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lease_key) DO UPDATE
SET held_by    = EXCLUDED.held_by,
    expires_at = EXCLUDED.expires_at
WHERE kg_leases.expires_at < now()
   OR kg_leases.held_by = EXCLUDED.held_by
RETURNING lease_key;
`

const renewSQL = `
UPDATE kg_leases
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lease_key = $1 AND held_by = $2
RETURNING lease_key;
`

const releaseSQL = `
DELETE FROM kg_leases
WHERE lease_key = $1 AND held_by = $2;
`
