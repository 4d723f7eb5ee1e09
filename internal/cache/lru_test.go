package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUBasicGetPut(t *testing.T) {
	c := NewLRU(10, 1024)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("a", []byte("hello"))
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(5), c.Bytes())
}

func TestLRUEvictsByCount(t *testing.T) {
	c := NewLRU(2, 1024)

	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Put("c", []byte("3"))

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUEvictsByBytes(t *testing.T) {
	c := NewLRU(100, 10)

	c.Put("a", []byte("aaaa"))
	c.Put("b", []byte("bbbb"))
	assert.Equal(t, int64(8), c.Bytes())

	c.Put("c", []byte("cccc"))
	assert.LessOrEqual(t, c.Bytes(), int64(10))
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUGetRefreshesRecency(t *testing.T) {
	c := NewLRU(2, 1024)

	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Get("a")
	c.Put("c", []byte("3"))

	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestLRUPutUpdatesExisting(t *testing.T) {
	c := NewLRU(10, 1024)

	c.Put("a", []byte("short"))
	c.Put("a", []byte("much longer value"))

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("much longer value"), got)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(17), c.Bytes())
}

func TestLRUOversizeValueEvictsEverything(t *testing.T) {
	c := NewLRU(10, 8)

	c.Put("a", []byte("1234"))
	c.Put("big", []byte("0123456789"))

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Bytes())
}
