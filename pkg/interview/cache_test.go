package interview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_HitMarksCached(t *testing.T) {
	c := NewCache()
	args := map[string]any{"q": "hello", "limit": 5}

	_, ok := c.Get("explorer", "search", args)
	assert.False(t, ok)

	c.Put("explorer", "search", args, Interaction{Tool: "search", Question: "q1", Cached: true})

	got, ok := c.Get("explorer", "search", args)
	require.True(t, ok)
	assert.True(t, got.Cached, "hits are marked cached regardless of what was stored")
	assert.Equal(t, "q1", got.Question)
	assert.Equal(t, 1, c.Len())
}

func TestCache_KeyIsCanonicalOverArgs(t *testing.T) {
	c := NewCache()
	c.Put("p", "t", map[string]any{"a": 1, "b": "x"}, Interaction{Question: "stored"})

	// Equivalent maps built in a different insertion order still collide.
	equivalent := map[string]any{}
	equivalent["b"] = "x"
	equivalent["a"] = 1

	got, ok := c.Get("p", "t", equivalent)
	require.True(t, ok)
	assert.Equal(t, "stored", got.Question)
}

func TestCache_KeyDiscriminatesPersonaToolArgs(t *testing.T) {
	c := NewCache()
	args := map[string]any{"a": 1}
	c.Put("p1", "t1", args, Interaction{})

	_, ok := c.Get("p2", "t1", args)
	assert.False(t, ok, "persona participates in the key")
	_, ok = c.Get("p1", "t2", args)
	assert.False(t, ok, "tool participates in the key")
	_, ok = c.Get("p1", "t1", map[string]any{"a": 2})
	assert.False(t, ok, "args participate in the key")
}

func TestCache_UnmarshalableArgsNeverCache(t *testing.T) {
	c := NewCache()
	bad := map[string]any{"fn": func() {}}

	c.Put("p", "t", bad, Interaction{})
	_, ok := c.Get("p", "t", bad)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCache_Clear(t *testing.T) {
	c := NewCache()
	c.Put("p", "t", map[string]any{"a": 1}, Interaction{})
	c.Put("p", "t", map[string]any{"a": 2}, Interaction{})
	require.Equal(t, 2, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
}
