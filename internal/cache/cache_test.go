package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStringSet(t *testing.T) {
	set := NewStringSet()

	assert.NotNil(t, set)
	assert.NotNil(t, set.items)
	assert.Equal(t, 0, set.Len())
}

func TestStringSet_AddHasRemove(t *testing.T) {
	set := NewStringSet()

	assert.False(t, set.Has("https://example.com/a"))
	assert.True(t, set.Add("https://example.com/a"))
	assert.False(t, set.Add("https://example.com/a"), "second add of the same key reports false")
	assert.True(t, set.Has("https://example.com/a"))
	assert.Equal(t, 1, set.Len())

	set.Remove("https://example.com/a")
	assert.False(t, set.Has("https://example.com/a"))
	assert.True(t, set.Add("https://example.com/a"), "key can be re-added after removal")

	// Removing an absent key is a no-op
	set.Remove("missing")
	assert.Equal(t, 1, set.Len())
}

func TestStringSet_ConcurrentAddSameKey(t *testing.T) {
	set := NewStringSet()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if set.Add("https://example.com/shared") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, 1, set.Len())
}

func TestStringSet_ConcurrentMixedAccess(t *testing.T) {
	set := NewStringSet()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("key-%d-%d", n, j)
				set.Add(key)
				_ = set.Has(key)
				if j%2 == 0 {
					set.Remove(key)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20*25, set.Len())
}
