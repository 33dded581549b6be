package mesh

import (
	"container/list"
	"sync"
)

// seenCache is a bounded LRU dedupe cache for gossip message IDs. The
// example pack carries no LRU library (none of the retrieved repos'
// go.mod/go.sum pulls one in), so this is hand-rolled on container/list +
// map rather than reaching for a dependency that doesn't exist anywhere
// in the corpus.
type seenCache struct {
	mu       sync.Mutex
	order    *list.List
	index    map[string]*list.Element
	capacity int
}

func newSeenCache(capacity int) *seenCache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &seenCache{
		order:    list.New(),
		index:    make(map[string]*list.Element),
		capacity: capacity,
	}
}

// SeenOrMark reports whether id was already recorded, marking it seen as
// a side effect if not.
func (c *seenCache) SeenOrMark(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[id]; ok {
		c.order.MoveToBack(el)
		return true
	}
	el := c.order.PushBack(id)
	c.index[id] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(string))
		}
	}
	return false
}
