package engine

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscribe/scribed/pkg/models"
)

type closerSpy struct {
	closed atomic.Bool
}

func (c *closerSpy) Close() error {
	c.closed.Store(true)
	return nil
}

func TestCacheKey(t *testing.T) {
	key := CacheKey(models.EngineFasterWhisper, "large-v3", "cuda", "float16")
	assert.Equal(t, "faster-whisper|large-v3|cuda|float16", key)
}

func TestCacheGetOrLoadCachesValue(t *testing.T) {
	c := NewCache(time.Hour)
	defer c.Close()

	loads := 0
	load := func() (io.Closer, error) {
		loads++
		return &closerSpy{}, nil
	}

	first, err := c.GetOrLoad("k", load)
	require.NoError(t, err)
	second, err := c.GetOrLoad("k", load)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, c.Len())
}

func TestCacheGetOrLoadPropagatesError(t *testing.T) {
	c := NewCache(time.Hour)
	defer c.Close()

	_, err := c.GetOrLoad("bad", func() (io.Closer, error) {
		return nil, fmt.Errorf("model load failed")
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	// A failed load is not cached; the next call retries.
	spy := &closerSpy{}
	got, err := c.GetOrLoad("bad", func() (io.Closer, error) { return spy, nil })
	require.NoError(t, err)
	assert.Same(t, spy, got)
}

func TestCacheConcurrentLoadIsSingleFlight(t *testing.T) {
	c := NewCache(time.Hour)
	defer c.Close()

	var loads atomic.Int32
	load := func() (io.Closer, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &closerSpy{}, nil
	}

	var wg sync.WaitGroup
	results := make([]io.Closer, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad("shared", load)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load(), "concurrent misses must share one load")
	for _, v := range results[1:] {
		assert.Same(t, results[0], v)
	}
}

func TestCacheEvictClosesEntry(t *testing.T) {
	c := NewCache(time.Hour)
	defer c.Close()

	spy := &closerSpy{}
	_, err := c.GetOrLoad("k", func() (io.Closer, error) { return spy, nil })
	require.NoError(t, err)

	c.Evict("k")
	assert.True(t, spy.closed.Load())
	assert.Equal(t, 0, c.Len())

	// Evicting an unknown key is a no-op.
	c.Evict("missing")
}

func TestCacheEvictIdle(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	defer c.Close()

	spy := &closerSpy{}
	_, err := c.GetOrLoad("idle", func() (io.Closer, error) { return spy, nil })
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	c.evictIdle()

	assert.True(t, spy.closed.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCacheAccessResetsIdleTimer(t *testing.T) {
	c := NewCache(50 * time.Millisecond)
	defer c.Close()

	spy := &closerSpy{}
	_, err := c.GetOrLoad("hot", func() (io.Closer, error) { return spy, nil })
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = c.GetOrLoad("hot", func() (io.Closer, error) { return nil, fmt.Errorf("must not load") })
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	c.evictIdle()

	assert.False(t, spy.closed.Load(), "recently accessed entry must survive")
	assert.Equal(t, 1, c.Len())
}

func TestCacheCloseTearsDownEntries(t *testing.T) {
	c := NewCache(time.Hour)

	spy := &closerSpy{}
	_, err := c.GetOrLoad("k", func() (io.Closer, error) { return spy, nil })
	require.NoError(t, err)

	c.Close()
	assert.True(t, spy.closed.Load())
	assert.Equal(t, 0, c.Len())
}
