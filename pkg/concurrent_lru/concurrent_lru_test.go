package concurrent_lru

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedLRU(t *testing.T) {
	c := NewShardedLRU[int](4, 32, nil)
	for i := 0; i < 32; i++ {
		c.Add(strconv.Itoa(i), i)
	}
	assert.Equal(t, 32, c.Len())

	v, ok := c.Get("3")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	c.Add("prefix_a", 100)
	c.Add("prefix_b", 101)
	assert.ElementsMatch(t, []string{"prefix_a", "prefix_b"}, c.Keys("prefix_"))
	c.Del("prefix_a")
	c.Del("prefix_b")

	c.Del("3")
	_, ok = c.Get("3")
	assert.False(t, ok)

	seen := 0
	c.Range(func(string, int) bool {
		seen++
		return true
	})
	assert.Equal(t, c.Len(), seen)

	removed := c.Clean(func(_ string, v int) bool { return v >= 10 })
	assert.Equal(t, 22, removed)
	assert.Equal(t, 9, c.Len())
}

func TestShardedLRU_BadShardNum(t *testing.T) {
	assert.Panics(t, func() { NewShardedLRU[int](3, 16, nil) })
}

func TestShardedLRU_race(t *testing.T) {
	c := NewShardedLRU[int](8, 32, nil)
	wg := sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 256; j++ {
				k := strconv.Itoa(j)
				c.Add(k, j)
				c.Get(k)
				c.Range(func(string, int) bool { return true })
				c.Clean(func(string, int) bool { return false })
			}
		}()
	}
	wg.Wait()
}
