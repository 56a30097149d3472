package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis lock: SET key owner NX PX ttl to acquire, compare-and-delete Lua
// script to release so an expired holder never frees someone else's lock.

var (
	ErrLockFailed = errors.New("acquire distributed lock failed")
)

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes a single non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval, at most maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

func (l *DistributedLock) Key() string {
	return l.key
}

// UserLocker hands out per-user locks. Different users never contend; the
// same user is serialized across every service instance.
type UserLocker struct {
	client        *redis.Client
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewUserLocker(client *redis.Client) *UserLocker {
	return &UserLocker{
		client:        client,
		expiration:    30 * time.Second,
		retryInterval: 50 * time.Millisecond,
		maxRetries:    200,
	}
}

// WithLedgerLock runs fn while holding the user's ledger lock. Only the
// state transition and ledger write belong inside; never a gateway call.
func (u *UserLocker) WithLedgerLock(ctx context.Context, userID int64, fn func() error) error {
	return u.with(ctx, fmt.Sprintf("wallet:lock:ledger:user:%d", userID), fn)
}

// WithFundingLock serializes the cap check and transaction insert for a user.
func (u *UserLocker) WithFundingLock(ctx context.Context, userID int64, fn func() error) error {
	return u.with(ctx, fmt.Sprintf("wallet:lock:funding:user:%d", userID), fn)
}

func (u *UserLocker) with(ctx context.Context, key string, fn func() error) error {
	l := NewDistributedLock(u.client, key, uuid.NewString(), u.expiration)
	if err := l.Lock(ctx, u.retryInterval, u.maxRetries); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer l.Unlock(context.WithoutCancel(ctx))
	return fn()
}
