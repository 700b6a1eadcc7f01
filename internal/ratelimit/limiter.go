// Package ratelimit bounds how often a caller may trigger a batch run.
package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key. At most capacity keys are
// tracked; adding a key beyond that evicts the least recently used one.
type Limiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	capacity int
	order    *list.List // front is most recently used
	entries  map[string]*list.Element
	now      func() time.Time
}

type entry struct {
	key     string
	limiter *rate.Limiter
}

// New returns a limiter allowing perMinute requests per key with the given
// burst, tracking at most capacity keys.
func New(perMinute float64, burst, capacity int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Allow reports whether a request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(key).AllowN(l.now(), 1)
}

// Len is the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

func (l *Limiter) get(key string) *rate.Limiter {
	if el, ok := l.entries[key]; ok {
		l.order.MoveToFront(el)
		return el.Value.(*entry).limiter
	}

	if l.order.Len() >= l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.entries, oldest.Value.(*entry).key)
	}

	e := &entry{key: key, limiter: rate.NewLimiter(l.limit, l.burst)}
	l.entries[key] = l.order.PushFront(e)
	return e.limiter
}
