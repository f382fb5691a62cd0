package samples

import (
	"container/list"

	"github.com/cbegin/stepseq-go/internal/audio"
)

// RecencyWindow is the eviction strategy of the sample cache: once more than
// Limit entries are held, only the Retain most recently inserted survive.
// It trades exact LRU ordering for a single trim per overflow.
type RecencyWindow struct {
	Limit  int
	Retain int
}

// DefaultWindow holds up to 50 samples and trims back to 30.
var DefaultWindow = RecencyWindow{Limit: 50, Retain: 30}

// Excess returns how many of the oldest entries to drop when n are held.
func (w RecencyWindow) Excess(n int) int {
	if w.Limit <= 0 || n <= w.Limit {
		return 0
	}
	retain := w.Retain
	if retain <= 0 || retain > w.Limit {
		retain = w.Limit
	}
	return n - retain
}

type cacheEntry struct {
	id  string
	buf *audio.Buffer
}

// orderedCache is a map with insertion-order tracking. Callers lock.
type orderedCache struct {
	window RecencyWindow
	order  *list.List // front = oldest insertion
	items  map[string]*list.Element
}

func newOrderedCache(w RecencyWindow) *orderedCache {
	return &orderedCache{
		window: w,
		order:  list.New(),
		items:  make(map[string]*list.Element),
	}
}

func (c *orderedCache) get(id string) (*audio.Buffer, bool) {
	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*cacheEntry).buf, true
}

// put inserts or refreshes id as the newest entry and returns the evicted ids.
func (c *orderedCache) put(id string, buf *audio.Buffer) []string {
	if el, ok := c.items[id]; ok {
		el.Value.(*cacheEntry).buf = buf
		c.order.MoveToBack(el)
	} else {
		c.items[id] = c.order.PushBack(&cacheEntry{id: id, buf: buf})
	}
	n := c.window.Excess(c.order.Len())
	if n == 0 {
		return nil
	}
	evicted := make([]string, 0, n)
	for i := 0; i < n; i++ {
		el := c.order.Front()
		e := c.order.Remove(el).(*cacheEntry)
		delete(c.items, e.id)
		evicted = append(evicted, e.id)
	}
	return evicted
}

func (c *orderedCache) remove(id string) {
	if el, ok := c.items[id]; ok {
		c.order.Remove(el)
		delete(c.items, id)
	}
}

func (c *orderedCache) len() int { return c.order.Len() }

// ids returns the cached identifiers, oldest first.
func (c *orderedCache) ids() []string {
	out := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*cacheEntry).id)
	}
	return out
}
