package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := NewCache(time.Minute)
	key := Key(3, "/api/channels")
	assert.Equal(t, "3:/api/channels", key)

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, Entry{ContentType: "application/json", Body: []byte("[]")})
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "[]", string(got.Body))

	_, ok = c.Get(Key(4, "/api/channels"))
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set("a", Entry{Body: []byte("1")})
	c.Set("b", Entry{Body: []byte("2")})

	c.Clear()
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := NewCache(50 * time.Millisecond)
	c.Set("a", Entry{Body: []byte("1")})

	require.Eventually(t, func() bool {
		_, ok := c.Get("a")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
