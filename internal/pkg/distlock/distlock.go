// Package distlock provides cross-replica mutual exclusion for periodic jobs
// such as the follow-up sweep.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/cardmail/internal/pkg/logger"
)

var (
	// ErrNotAcquired is returned by Do when another holder owns the lock.
	ErrNotAcquired = errors.New("distlock: lock held elsewhere")
	// ErrLockLost is the cancellation cause Do gives fn's context when a
	// refresh finds the lock gone.
	ErrLockLost = errors.New("distlock: lock lost")
)

// Lock is a non-blocking try-lock. A single Lock value belongs to one
// goroutine at a time; replicas coordinate through the backend.
type Lock interface {
	// Acquire reports whether the lock was taken.
	Acquire(ctx context.Context) (bool, error)
	// Release drops the lock if this holder still owns it.
	Release(ctx context.Context) error
}

// Extender is implemented by locks that expire unless refreshed.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
	TTL() time.Duration
}

// NewLock picks a backend: Redis when a client is given, then a PostgreSQL
// advisory lock, and finally a process-local lock when neither is available
// (single replica, in-memory store).
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	switch {
	case redisClient != nil:
		return NewRedisLock(redisClient, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	default:
		return NewLocalLock()
	}
}

// Do runs fn while holding l. It returns ErrNotAcquired without calling fn
// when the lock is taken. Release uses a fresh context so a cancelled ctx
// still frees the lock.
//
// When l is an Extender, Do refreshes it every third of its TTL for as long
// as fn runs. If a refresh finds the lock gone, fn's context is cancelled
// with ErrLockLost.
func Do(ctx context.Context, l Lock, fn func(ctx context.Context) error) error {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}

	fnCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	if ext, ok := l.(Extender); ok && ext.TTL() > 0 {
		go keepAlive(fnCtx, ext, cancel, stop, done)
	} else {
		close(done)
	}

	defer func() {
		close(stop)
		<-done
		cancel(nil)
		releaseCtx, cancelRelease := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelRelease()
		_ = l.Release(releaseCtx)
	}()
	return fn(fnCtx)
}

func keepAlive(ctx context.Context, ext Extender, cancel context.CancelCauseFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ttl := ext.TTL()
	every := max(ttl/3, time.Millisecond)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			extendCtx, cancelExtend := context.WithTimeout(ctx, every)
			err := ext.Extend(extendCtx, ttl)
			cancelExtend()
			if err != nil {
				logger.Warn("lock refresh failed, stopping holder", "error", err)
				cancel(fmt.Errorf("%w: %v", ErrLockLost, err))
				return
			}
		}
	}
}

// PGAdvisoryLock uses session-scoped pg_try_advisory_lock. The lock is
// pinned to one pooled connection so the unlock runs in the same session;
// if that connection dies PostgreSQL releases the lock.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives a stable advisory lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// Acquire tries the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release unlocks and returns the pinned connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}

// LocalLock serializes holders inside one process.
type LocalLock struct {
	ch chan struct{}
}

func NewLocalLock() *LocalLock {
	return &LocalLock{ch: make(chan struct{}, 1)}
}

func (l *LocalLock) Acquire(ctx context.Context) (bool, error) {
	select {
	case l.ch <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

func (l *LocalLock) Release(ctx context.Context) error {
	select {
	case <-l.ch:
	default:
	}
	return nil
}
