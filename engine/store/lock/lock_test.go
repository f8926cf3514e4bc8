package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T) (*WorkflowLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Second), mr
}

func TestWorkflowLock_AcquireRelease(t *testing.T) {
	t.Run("Should acquire an unheld lock and release it with the matching token", func(t *testing.T) {
		l, _ := newTestLock(t)
		ctx := context.Background()

		token, err := l.Acquire(ctx, "wf-1")
		require.NoError(t, err)
		require.NotEmpty(t, token)

		require.NoError(t, l.Release(ctx, "wf-1", token))
	})

	t.Run("Should block a second acquire until the first releases", func(t *testing.T) {
		l, _ := newTestLock(t)
		ctx := context.Background()

		token, err := l.Acquire(ctx, "wf-2")
		require.NoError(t, err)

		acquired := make(chan string, 1)
		go func() {
			tok, err := l.Acquire(context.Background(), "wf-2")
			if err == nil {
				acquired <- tok
			}
		}()

		select {
		case <-acquired:
			t.Fatal("second acquire should not succeed while the lock is held")
		case <-time.After(100 * time.Millisecond):
		}

		require.NoError(t, l.Release(ctx, "wf-2", token))

		select {
		case tok := <-acquired:
			require.NotEmpty(t, tok)
		case <-time.After(time.Second):
			t.Fatal("second acquire should succeed after release")
		}
	})

	t.Run("Should refuse to release with a stale token", func(t *testing.T) {
		l, _ := newTestLock(t)
		ctx := context.Background()

		_, err := l.Acquire(ctx, "wf-3")
		require.NoError(t, err)

		err = l.Release(ctx, "wf-3", "not-the-real-token")
		require.ErrorIs(t, err, ErrNotHeld)
	})
}
