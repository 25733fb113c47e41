// Package lock provides a Redis lease so that a single replica polls each
// chain at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLeaseNotHeld = errors.New("lease not held")
	// ErrLeaseTaken is returned by WithLease when another replica owns the key.
	ErrLeaseTaken = errors.New("lease held by another owner")
)

// holdScript renews the lease when we already own it and otherwise takes
// it only if it is free.
var holdScript = redis.NewScript(`
	local cur = redis.call("GET", KEYS[1])
	if cur == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	if cur == false then
		redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
		return 1
	end
	return 0
`)

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Leaser hands out renewable leases under a key prefix. Every Leaser has
// its own owner id, so one process keeps a lease across cycles.
type Leaser struct {
	client redis.UniversalClient
	prefix string
	owner  string
	ttl    time.Duration
}

func NewLeaser(client redis.UniversalClient, prefix string, ttl time.Duration) *Leaser {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Leaser{
		client: client,
		prefix: prefix,
		owner:  uuid.New().String(),
		ttl:    ttl,
	}
}

func (l *Leaser) Owner() string { return l.owner }

// Hold takes or renews the lease on key. It reports false when another
// owner holds it.
func (l *Leaser) Hold(ctx context.Context, key string) (bool, error) {
	n, err := holdScript.Run(ctx, l.client, []string{l.prefix + key}, l.owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("hold lease %s: %w", key, err)
	}
	return n == 1, nil
}

// Release gives the lease up if we own it.
func (l *Leaser) Release(ctx context.Context, key string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, l.owner).Int64()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	if n == 0 {
		return ErrLeaseNotHeld
	}
	return nil
}

// WithLease runs fn while holding key. The lease is kept afterwards so the
// next call renews it.
func (l *Leaser) WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ok, err := l.Hold(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseTaken
	}
	return fn(ctx)
}
