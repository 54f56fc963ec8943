package query

import (
	"context"
	"sync"
	"time"

	"github.com/hanpama/reactivecache/internal/entity"
	"github.com/hanpama/reactivecache/internal/network"
	"github.com/hanpama/reactivecache/internal/querykv"
	"github.com/hanpama/reactivecache/internal/querylog"
	"github.com/hanpama/reactivecache/internal/reactive"
)

// Loader is implemented by query stores that support cache loads (the sync
// Store; an async Reader does not, per the async store's read contract).
type Loader interface {
	LoadQuery(defID string, key querykv.QueryKey, gcTime time.Duration, maxCount int) (*querykv.Snapshot, bool)
}

// ClientConfig is built up by Option funcs passed to NewClient.
type ClientConfig struct {
	Store              querykv.Writer
	Log                querylog.Logger
	EvictionMultiplier float64
	IsServer           bool
	NetworkManager     *network.Manager
	Context            context.Context
}

// Option configures a Client, matching the functional-options shape used
// elsewhere in this codebase for construction.
type Option func(*ClientConfig)

func WithLog(log querylog.Logger) Option { return func(c *ClientConfig) { c.Log = log } }
func WithEvictionMultiplier(m float64) Option {
	return func(c *ClientConfig) { c.EvictionMultiplier = m }
}
func WithIsServer(isServer bool) Option { return func(c *ClientConfig) { c.IsServer = isServer } }
func WithNetworkManager(nm *network.Manager) Option {
	return func(c *ClientConfig) { c.NetworkManager = nm }
}
func WithContext(ctx context.Context) Option { return func(c *ClientConfig) { c.Context = ctx } }

// Client is the createQueryClient result: the registry of live QueryResults
// plus the shared substrate (scheduler, owner registry, entity store) and
// collaborators (store, network manager, logger) every QueryResult reads.
type Client struct {
	cfg      ClientConfig
	sched    *reactive.Scheduler
	owners   *reactive.OwnerRegistry
	entities *entity.Store
	network  *network.Manager

	mu       sync.Mutex
	registry map[QueryKey]*QueryResult

	evictor   *evictionManager
	refetcher *refetchManager
	reconnect *reconnectManager
}

// NewClient builds a QueryClient bound to sched/owners/entities: the same
// reactive scheduler, owner registry, and entity store the rest of the
// application's normalization/validation pipeline uses, so entities the
// query layer interns are visible to every other reader of the store.
func NewClient(sched *reactive.Scheduler, owners *reactive.OwnerRegistry, entities *entity.Store, store querykv.Writer, opts ...Option) *Client {
	cfg := ClientConfig{
		Store:              store,
		Log:                querylog.Default(),
		EvictionMultiplier: 1,
		Context:            context.Background(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.NetworkManager == nil {
		cfg.NetworkManager = network.NewManager(sched, true)
	}

	c := &Client{
		cfg:      cfg,
		sched:    sched,
		owners:   owners,
		entities: entities,
		network:  cfg.NetworkManager,
		registry: make(map[QueryKey]*QueryResult),
	}
	c.evictor = newEvictionManager(c)
	c.refetcher = newRefetchManager()
	c.reconnect = newReconnectManager(c)
	return c
}

// GetContext returns the context passed to every FetchFn/SubscribeFn call.
func (c *Client) GetContext() context.Context { return c.cfg.Context }

// NetworkManager exposes the client's network manager for direct control
// (setNetworkStatus, clearManualOverride) by application code.
func (c *Client) NetworkManager() *network.Manager { return c.network }

// Query returns a constructor that materializes (or looks up) the
// QueryResult for def given a params function.
func Query(c *Client, def *QueryDefinition) func(paramsFn func() Params) *QueryResult {
	return func(paramsFn func() Params) *QueryResult {
		return c.materialize(def, paramsFn)
	}
}

func (c *Client) materialize(def *QueryDefinition, paramsFn func() Params) *QueryResult {
	shapeKey := uint32(0)
	if def.Shape != nil {
		shapeKey = def.Shape.ShapeKey()
	}
	params := paramsFn()
	qk := queryKey(def.ID, shapeKey, params)

	c.mu.Lock()
	if existing, ok := c.registry[qk]; ok {
		c.mu.Unlock()
		// materialize is invoked fresh from the caller's own reactive
		// context on every recompute; re-deriving the same QueryKey here
		// is this codebase's stand-in for "rerun on dependency change",
		// since the substrate's Cell/ReactiveFn reads are pull-based and
		// expose no push subscription a package outside internal/reactive
		// can register for.
		existing.onParamsRefreshed(params)
		return existing
	}
	qr := newQueryResult(c, def, paramsFn, shapeKey, qk)
	c.registry[qk] = qr
	c.mu.Unlock()
	return qr
}

func (c *Client) forget(key QueryKey) {
	c.mu.Lock()
	delete(c.registry, key)
	c.mu.Unlock()
}

// refreshStaleOnReconnect is reconnectManager's callback on an
// offline->online transition: it gives every registered QueryResult a
// chance to refetch if stale and opted in via cache.refreshStaleOnReconnect.
func (c *Client) refreshStaleOnReconnect() {
	c.mu.Lock()
	results := make([]*QueryResult, 0, len(c.registry))
	for _, qr := range c.registry {
		results = append(results, qr)
	}
	c.mu.Unlock()
	for _, qr := range results {
		qr.refreshIfStaleOnReconnect()
	}
}
