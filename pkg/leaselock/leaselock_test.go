package leaselock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	key string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.key
	return nil
}

// fakeDB emulates the kg_leases statements against a map.
type fakeDB struct {
	mu     sync.Mutex
	leases map[string]localEntry
	now    func() time.Time
}

func newFakeDB() *fakeDB {
	return &fakeDB{leases: make(map[string]localEntry), now: time.Now}
}

func (d *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sql == releaseSQL {
		key, token := args[0].(string), args[1].(string)
		if cur, ok := d.leases[key]; ok && cur.token == token {
			delete(d.leases, key)
			return pgconn.NewCommandTag("DELETE 1"), nil
		}
		return pgconn.NewCommandTag("DELETE 0"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected exec")
}

func (d *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, token := args[0].(string), args[1].(string)
	ttl := time.Duration(args[2].(int64)) * time.Millisecond
	now := d.now()
	cur, ok := d.leases[key]
	switch sql {
	case tryAcquireSQL:
		if ok && cur.expires.After(now) && cur.token != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
	case renewSQL:
		if !ok || cur.token != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
	default:
		return fakeRow{err: errors.New("unexpected query")}
	}
	d.leases[key] = localEntry{token: token, expires: now.Add(ttl)}
	return fakeRow{key: key}
}

func TestClientAcquireBusyRelease(t *testing.T) {
	db := newFakeDB()
	c := &Client{db: db}
	ctx := context.Background()

	l, err := c.Acquire(ctx, "infer:all", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("expected lease, got %v", err)
	}
	if _, err := c.Acquire(ctx, "infer:all", Options{TTL: time.Minute}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("expected release, got %v", err)
	}
	if l.Context.Err() == nil {
		t.Fatalf("expected lease context to be done after release")
	}
	l2, err := c.Acquire(ctx, "infer:all", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("expected lease after release, got %v", err)
	}
	_ = l2.Release(ctx)
}

func TestClientExpiredLeaseIsTakenOver(t *testing.T) {
	db := newFakeDB()
	c := &Client{db: db}
	ctx := context.Background()

	if _, err := c.Acquire(ctx, "k", Options{TTL: time.Minute}); err != nil {
		t.Fatalf("expected lease, got %v", err)
	}
	db.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	l, err := c.Acquire(ctx, "k", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("expected takeover of expired lease, got %v", err)
	}
	_ = l.Release(ctx)
}

func TestClientRenewDetectsLoss(t *testing.T) {
	db := newFakeDB()
	c := &Client{db: db}

	err := c.WithLease(context.Background(), "k", Options{TTL: time.Second, RenewEvery: 20 * time.Millisecond}, func(ctx context.Context) error {
		db.mu.Lock()
		delete(db.leases, "k")
		db.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrLost) {
		t.Fatalf("expected ErrLost, got %v", err)
	}
}

func TestLocalSerializesHolders(t *testing.T) {
	lk := NewLocal()
	ctx := context.Background()

	var mu sync.Mutex
	active, peak := 0, 0
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lk.WithLease(ctx, "scope", Options{Wait: true, WaitInterval: time.Millisecond}, func(context.Context) error {
				mu.Lock()
				active++
				peak = max(peak, active)
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("expected lease, got %v", err)
			}
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected at most one holder, got %d", peak)
	}
}

func TestLocalBusyWithoutWait(t *testing.T) {
	lk := NewLocal()
	ctx := context.Background()
	l, err := lk.Acquire(ctx, "k", Options{})
	if err != nil {
		t.Fatalf("expected lease, got %v", err)
	}
	defer l.Release(ctx)
	if _, err := lk.Acquire(ctx, "k", Options{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}
