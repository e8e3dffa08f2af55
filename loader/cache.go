package loader

import (
	"sort"

	"github.com/dop251/goja"
)

// cacheView exposes the module cache to JavaScript as require.cache:
// keys are module ids, values are module objects, delete evicts.
type cacheView struct {
	l *Loader
}

func (c *cacheView) Get(key string) goja.Value {
	if mod, ok := c.l.cache[key]; ok {
		return mod.object
	}
	return nil
}

func (*cacheView) Set(string, goja.Value) bool {
	return false
}

func (c *cacheView) Has(key string) bool {
	_, ok := c.l.cache[key]
	return ok
}

func (c *cacheView) Delete(key string) bool {
	c.l.Evict(key)
	return true
}

func (c *cacheView) Keys() []string {
	keys := make([]string, 0, len(c.l.cache))
	for id := range c.l.cache {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}
