package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticToken() (string, error) { return "tok-1", nil }

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLocker(db, WithPrefix("reservation"), WithTokenSource(staticToken))

	mock.ExpectSetNX("reservation:customer:42", "tok-1", 10*time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"reservation:customer:42"}, "tok-1").SetVal(int64(1))

	release, err := l.Acquire(context.Background(), "customer:42", 10*time.Second)
	require.NoError(t, err)
	release()
	release() // second call is a no-op

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_RetriesUntilFree(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLocker(db, WithTokenSource(staticToken), WithRetryInterval(time.Millisecond))

	mock.ExpectSetNX("lock:k", "tok-1", time.Second).SetVal(false)
	mock.ExpectSetNX("lock:k", "tok-1", time.Second).SetVal(true)

	release, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.NotNil(t, release)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_ContextDone(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLocker(db, WithTokenSource(staticToken), WithRetryInterval(50*time.Millisecond))

	mock.ExpectSetNX("lock:k", "tok-1", time.Second).SetVal(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Acquire(ctx, "k", time.Second)
	assert.True(t, errors.Is(err, ErrNotAcquired))
}

func TestRedisLocker_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLocker(db, WithTokenSource(staticToken))

	mock.ExpectSetNX("lock:k", "tok-1", time.Second).SetErr(errors.New("connection refused"))

	_, err := l.Acquire(context.Background(), "k", time.Second)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotAcquired))
}

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	var inside, maxInside int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "customer:1", 0)
			require.NoError(t, err)
			n := atomic.AddInt64(&inside, 1)
			for {
				m := atomic.LoadInt64(&maxInside)
				if n <= m || atomic.CompareAndSwapInt64(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), maxInside)
	assert.Empty(t, l.slots)
}

func TestLocal_TimeoutWhileHeld(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), "k", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k", 0)
	assert.ErrorIs(t, err, ErrNotAcquired)

	release()
	release2, err := l.Acquire(context.Background(), "other", 0)
	require.NoError(t, err)
	release2()
}
