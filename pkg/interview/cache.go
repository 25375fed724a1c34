package interview

import (
	"encoding/json"
	"sync"
)

// Cache memoizes interactions by (persona, tool, canonical args). Insertion
// races are harmless: both writers store equivalent values. The cache is
// process-local and cleared at the start of every interview.
type Cache struct {
	entries sync.Map
}

func NewCache() *Cache {
	return &Cache{}
}

// cacheKey builds the canonical tuple. encoding/json emits map keys sorted,
// which makes equivalent argument maps collide as intended.
func cacheKey(persona, tool string, args map[string]any) (string, bool) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", false
	}
	return persona + "\x00" + tool + "\x00" + string(raw), true
}

func (c *Cache) Get(persona, tool string, args map[string]any) (*Interaction, bool) {
	key, ok := cacheKey(persona, tool, args)
	if !ok {
		return nil, false
	}
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	cached := v.(Interaction)
	cached.Cached = true
	return &cached, true
}

func (c *Cache) Put(persona, tool string, args map[string]any, interaction Interaction) {
	key, ok := cacheKey(persona, tool, args)
	if !ok {
		return
	}
	interaction.Cached = false
	c.entries.Store(key, interaction)
}

func (c *Cache) Clear() {
	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})
}

func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
