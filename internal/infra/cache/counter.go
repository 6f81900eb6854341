package cache

import "time"

// Counter counts events per key. A key's count expires ttl after its last
// increment.
type Counter struct {
	items *InMemory[int]
}

// NewCounter creates a Counter with the given TTL.
func NewCounter(ttl time.Duration) *Counter {
	return &Counter{items: New[int](ttl)}
}

// Count returns the current count for key, zero if none.
func (c *Counter) Count(key string) int {
	n, _ := c.items.Get(key)
	return n
}

// Incr adds one to the count for key and returns the new value.
func (c *Counter) Incr(key string) int {
	return c.items.Update(key, func(n int, _ bool) int { return n + 1 })
}

// Reset forgets key.
func (c *Counter) Reset(key string) {
	c.items.Delete(key)
}

// Close stops the background cleanup.
func (c *Counter) Close() {
	c.items.Close()
}
