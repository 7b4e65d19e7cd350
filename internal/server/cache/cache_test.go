package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shareEntry struct {
	FileID string
	Public bool
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(1 * 1024 * 1024)

	value := shareEntry{FileID: "f1", Public: true}
	require.NoError(t, c.Set(ctx, "key", value, time.Minute))

	var result shareEntry
	require.NoError(t, c.Get(ctx, "key", &result))
	assert.Equal(t, value, result)

	require.NoError(t, c.Delete(ctx, "key"))
	assert.ErrorIs(t, c.Get(ctx, "key", &result), ErrMiss)
}

func TestFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("loads once then serves from cache", func(t *testing.T) {
		c := NewMemoryCache(1 * 1024 * 1024)
		calls := 0
		load := func() (string, error) {
			calls++
			return "f1", nil
		}

		for i := 0; i < 3; i++ {
			got, err := Fetch(ctx, c, KeyShare("s1"), time.Minute, load)
			require.NoError(t, err)
			assert.Equal(t, "f1", got)
		}
		assert.Equal(t, 1, calls)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		c := NewMemoryCache(1 * 1024 * 1024)
		boom := errors.New("boom")
		calls := 0

		_, err := Fetch(ctx, c, KeyShare("s2"), time.Minute, func() (string, error) {
			calls++
			return "", boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := Fetch(ctx, c, KeyShare("s2"), time.Minute, func() (string, error) {
			calls++
			return "f2", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "f2", got)
		assert.Equal(t, 2, calls)
	})

	t.Run("concurrent callers all get the value", func(t *testing.T) {
		c := NewMemoryCache(1 * 1024 * 1024)
		var calls atomic.Int32

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := Fetch(ctx, c, KeyShare("s3"), time.Minute, func() (string, error) {
					calls.Add(1)
					time.Sleep(10 * time.Millisecond)
					return "f3", nil
				})
				assert.NoError(t, err)
				assert.Equal(t, "f3", got)
			}()
		}
		wg.Wait()
		assert.GreaterOrEqual(t, calls.Load(), int32(1))
	})
}

func TestKeyShare(t *testing.T) {
	assert.Equal(t, "shares:abc", KeyShare("abc"))
}
