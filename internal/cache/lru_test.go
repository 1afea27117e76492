package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUEvictsBySize(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok)
	v, ok := c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUExpires(t *testing.T) {
	c := NewLRU[string, int](4, 20*time.Millisecond)
	c.Set("a", 1)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("a")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.Sweep())
}

func TestLRUPurge(t *testing.T) {
	var c Cache[string, []byte] = NewLRU[string, []byte](0, 0)
	c.Set("k", []byte("v"))
	c.Remove("missing")
	assert.Equal(t, 1, c.Len())
	c.Purge()
	assert.Equal(t, 0, c.Len())
}
