package query

import (
	"sync"
	"time"
)

// reconnectPollInterval is how often reconnectManager samples the network
// manager's online signal. The reactive substrate exposes no push
// notification a package outside internal/reactive can subscribe to (see
// Client.materialize's onParamsRefreshed comment for the same limitation),
// so detecting the offline->online edge this feature needs is polled, the
// same way refetchManager polls for cache.refetchInterval. A var, not a
// const, so tests can shorten it instead of sleeping through the real
// interval.
var reconnectPollInterval = 250 * time.Millisecond

// reconnectManager watches for the network manager's offline->online
// transition and, on one, gives every registered QueryResult a chance to
// refetch if its definition sets cache.refreshStaleOnReconnect and it is
// currently stale. One instance is shared by the whole Client; it starts
// lazily on the first QueryResult that actually asks for the behavior.
type reconnectManager struct {
	client *Client

	mu        sync.Mutex
	watching  bool
	wasOnline bool
}

func newReconnectManager(c *Client) *reconnectManager {
	return &reconnectManager{client: c}
}

func (r *reconnectManager) start() {
	r.mu.Lock()
	if r.watching {
		r.mu.Unlock()
		return
	}
	r.watching = true
	r.wasOnline = r.client.network.IsOnline()
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(reconnectPollInterval)
		defer ticker.Stop()
		for range ticker.C {
			r.poll()
		}
	}()
}

func (r *reconnectManager) poll() {
	online := r.client.network.IsOnline()
	r.mu.Lock()
	reconnected := online && !r.wasOnline
	r.wasOnline = online
	r.mu.Unlock()
	if !reconnected {
		return
	}
	r.client.refreshStaleOnReconnect()
}
