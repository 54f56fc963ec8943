package query

import (
	"sync"
	"time"
)

// refetchManager periodically calls refetch() for every QueryResult whose
// definition sets cache.refetchInterval, until the query deactivates.
type refetchManager struct {
	mu      sync.Mutex
	tickers map[QueryKey]*time.Ticker
	stop    map[QueryKey]chan struct{}
}

func newRefetchManager() *refetchManager {
	return &refetchManager{tickers: make(map[QueryKey]*time.Ticker), stop: make(map[QueryKey]chan struct{})}
}

func (r *refetchManager) start(key QueryKey, interval time.Duration, refetch func()) {
	if interval <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickers[key]; ok {
		return
	}
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	r.tickers[key] = ticker
	r.stop[key] = stop
	go func() {
		for {
			select {
			case <-ticker.C:
				refetch()
			case <-stop:
				return
			}
		}
	}()
}

func (r *refetchManager) stopFor(key QueryKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticker, ok := r.tickers[key]
	if !ok {
		return
	}
	ticker.Stop()
	close(r.stop[key])
	delete(r.tickers, key)
	delete(r.stop, key)
}
