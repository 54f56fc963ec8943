package query

import (
	"sync"
	"time"
)

// evictionManager holds the single pending-eviction queue keyed by
// QueryKey: on last-unwatch a QueryResult schedules itself here with a
// gcTime-scaled delay; re-activation before the deadline cancels it.
type evictionManager struct {
	client *Client

	mu     sync.Mutex
	timers map[QueryKey]*time.Timer
}

func newEvictionManager(c *Client) *evictionManager {
	return &evictionManager{client: c, timers: make(map[QueryKey]*time.Timer)}
}

func (e *evictionManager) schedule(key QueryKey, delay time.Duration, evict func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[key]; ok {
		t.Stop()
	}
	e.timers[key] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, key)
		e.mu.Unlock()
		evict()
	})
}

func (e *evictionManager) cancel(key QueryKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[key]; ok {
		t.Stop()
		delete(e.timers, key)
	}
}
