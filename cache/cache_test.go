package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrLoadOnce(t *testing.T) {
	c, err := New[string, int](0)
	require.NoError(t, err)

	calls := 0
	load := func() (int, error) {
		calls++
		return 42, nil
	}
	for i := 0; i < 3; i++ {
		val, err := c.GetOrLoad("a", load)
		require.NoError(t, err)
		assert.Equal(t, 42, val)
	}
	assert.Equal(t, 1, calls)
}

func TestGetOrLoadError(t *testing.T) {
	c, err := New[string, int](0)
	require.NoError(t, err)

	_, err = c.GetOrLoad("a", func() (int, error) {
		return 0, errors.New("boom")
	})
	assert.Error(t, err)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestEviction(t *testing.T) {
	c, err := New[string, int](2)
	require.NoError(t, err)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)

	val, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, 3, val)
}

func TestUnbounded(t *testing.T) {
	c, err := New[int, int](0)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		c.Add(i, i)
	}
	assert.Equal(t, 1000, c.Len())
}
