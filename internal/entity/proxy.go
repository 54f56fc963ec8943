package entity

import (
	"github.com/hanpama/reactivecache/internal/reactive"
	"github.com/hanpama/reactivecache/internal/validate"
)

// Undefined is the sentinel returned by Proxy.Get for a field absent from
// the entity's data map, shared with internal/validate so a field that
// validated to Undefined and one that is simply missing from a merged
// entity are indistinguishable to callers.
var Undefined = validate.Undefined

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool { return validate.IsUndefined(v) }

// Proxy is the reactive, lazily-reading view over an interned entity. There
// is exactly one Proxy per Record (Go has no dynamic property interception,
// so rather than tagging arbitrary proxy objects in a process-wide weak
// map, identity is expressed directly: anything holding a *Proxy already
// carries its entity key, and a type assertion on *Proxy stands in for the
// "is this value already a proxy" check normalization and serialization
// need).
type Proxy struct {
	store *Store
	rec   *Record
}

// Key returns the entity's interning key.
func (p *Proxy) Key() Key { return p.rec.key }

// Typename returns the entity's discriminator value.
func (p *Proxy) Typename() string { return p.rec.typename }

// ToJSON returns the reference-stub representation used when a proxy is
// serialized back into a cached query payload or into another entity's
// data (so persisted snapshots never duplicate entity payloads).
func (p *Proxy) ToJSON() map[string]any {
	return map[string]any{"__entityRef": uint32(p.rec.key)}
}

// Get reads field, registering a reactive dependency on the entity's data
// and notifier cells, and memoizing the result in the entity's per-proxy
// cache until the next write clears it. Both cells change on every write,
// so a reader of one field is re-run by any write to the entity, including
// one that leaves that field unchanged. Fields absent from the data map
// return Undefined; every present field, declared in the schema or not, is
// returned as stored, without further parsing.
func (p *Proxy) Get(field string) any {
	m := p.rec.data.Get()
	p.rec.notifier.Get()

	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	if p.rec.cache == nil {
		p.rec.cache = make(map[string]any, len(m))
	}
	if v, ok := p.rec.cache[field]; ok {
		return v
	}
	v, present := m[field]
	if !present {
		v = Undefined
	}
	p.rec.cache[field] = v
	return v
}

// Snapshot returns the entity's typename, its current merged data (fields
// may still hold nested *Proxy values for sub-entity references, not yet
// JSON-safe), and its current ref set. Used by callers that persist
// entities into a durable store (internal/querykv), which denormalizes the
// data before serializing it.
func (p *Proxy) Snapshot() (typename string, data map[string]any, refIDs map[Key]struct{}) {
	m := p.rec.data.Peek()
	p.rec.mu.Lock()
	refs := make(map[Key]struct{}, len(p.rec.refIDs))
	for k := range p.rec.refIDs {
		refs[k] = struct{}{}
	}
	p.rec.mu.Unlock()
	return p.rec.typename, m, refs
}

// Method resolves a bound, reactive method wrapper for name, memoized per
// proxy via the store's owner registry. The second result is false if the
// entity's schema declares no such method.
func (p *Proxy) Method(name string) (*reactive.ReactiveFn[any], bool) {
	methods := p.rec.node.Methods()
	if methods == nil {
		return nil, false
	}
	fn, ok := methods[name]
	if !ok {
		return nil, false
	}
	bound := reactive.CachedMethod[any](p.store.owners, p, name, reactive.AlwaysUnequal[any](), func() any {
		return fn(p)
	})
	return bound, true
}
