// Package lock provides a Redis-backed per-workflow serialization lock
// for host binaries running multiple processes against the same
// store. The engine itself never takes this lock — per-workflow
// serialization is the host's responsibility; this package is the
// glue a multi-process host wires around calls into runtime.Engine.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowforge/flowforge/engine/core"
)

// ErrNotHeld is returned by Release when the lock's TTL already expired
// or another holder's token is present.
var ErrNotHeld = errors.New("lock: not held")

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// WorkflowLock serializes access to one workflowId's transactions
// across processes, via a Redis SETNX-with-TTL token lock.
type WorkflowLock struct {
	client *redis.Client
	ttl    time.Duration
}

// New returns a WorkflowLock using client, holding each acquired lock
// for at most ttl before it expires unattended.
func New(client *redis.Client, ttl time.Duration) *WorkflowLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &WorkflowLock{client: client, ttl: ttl}
}

// Acquire blocks (polling) until the workflow's lock key is free or
// ctx is canceled, then acquires it and returns a release token.
func (l *WorkflowLock) Acquire(ctx context.Context, workflowId string) (string, error) {
	token := core.MustNewID().String()
	key := lockKey(workflowId)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("lock: acquire %s: %w", workflowId, err)
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("lock: acquire %s: %w", workflowId, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release frees the lock iff token still matches the current holder.
func (l *WorkflowLock) Release(ctx context.Context, workflowId, token string) error {
	res, err := l.client.Eval(ctx, releaseScript, []string{lockKey(workflowId)}, token).Int64()
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", workflowId, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

func lockKey(workflowId string) string {
	return "flowforge:workflow-lock:" + workflowId
}
