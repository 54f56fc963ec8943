package reactive

// depEdge records one dependency read during a ReactiveFn's last run: the
// source and the version observed at read time.
type depEdge struct {
	source     depSource
	consumedAt uint64
}

// ReactiveFn is a memoized computation, keyed by (identity, parameter hash)
// within a Scope. Its body runs at most once per clean state; dependencies
// whose consumedAt is stale after a run are unsubscribed.
type ReactiveFn[T any] struct {
	node
	sched       *Scheduler
	compute     func() T
	equal       Equality[T]
	value       T
	dirty       bool
	computed    bool
	deps        map[uint64]depEdge
	pendingDeps map[uint64]depEdge
}

// newReactiveFn constructs a fresh, dirty ReactiveFn. Scopes use this via
// GetOrCreateFn to memoize by key.
func newReactiveFn[T any](sched *Scheduler, equal Equality[T], compute func() T) *ReactiveFn[T] {
	if equal == nil {
		equal = AlwaysUnequal[T]()
	}
	return &ReactiveFn[T]{
		node:    newNode(),
		sched:   sched,
		compute: compute,
		equal:   equal,
		dirty:   true,
		deps:    make(map[uint64]depEdge),
	}
}

func (f *ReactiveFn[T]) notify(state DirtyState) {
	if !f.dirty {
		f.dirty = true
		f.notifyAll(state)
	}
}

func (f *ReactiveFn[T]) trackDependency(dep depSource) {
	f.pendingDeps[dep.subID()] = depEdge{source: dep, consumedAt: dep.currentVersion()}
}

// Get returns the memoized value, recomputing first if dirty or never run.
// If called while another ReactiveFn/Task is running, this fn becomes a
// dependency of that caller.
func (f *ReactiveFn[T]) Get() T {
	f.sched.mu.Lock()
	defer f.sched.mu.Unlock()
	f.sched.trackRead(f)
	if f.dirty || !f.computed {
		f.recompute()
	}
	return f.value
}

// Peek returns the last computed value without registering a dependency,
// forcing a recompute first only if never run.
func (f *ReactiveFn[T]) Peek() T {
	f.sched.mu.Lock()
	defer f.sched.mu.Unlock()
	if !f.computed {
		f.recompute()
	}
	return f.value
}

func (f *ReactiveFn[T]) recompute() {
	f.pendingDeps = make(map[uint64]depEdge)
	f.sched.pushReader(f)
	// compute reads Cells/ReactiveFns, which take sched.mu themselves, and
	// sync.Mutex is not reentrant: release the lock for the call.
	f.sched.mu.Unlock()
	newVal := f.compute()
	f.sched.mu.Lock()
	f.sched.popReader()

	for id, edge := range f.deps {
		if _, stillUsed := f.pendingDeps[id]; !stillUsed {
			edge.source.removeSubscriber(f)
		}
	}
	for id, edge := range f.pendingDeps {
		if _, existed := f.deps[id]; !existed {
			edge.source.addSubscriber(f)
		}
	}
	f.deps = f.pendingDeps
	f.pendingDeps = nil
	f.dirty = false
	f.computed = true

	if f.equal(f.value, newVal) {
		f.value = newVal
		return
	}
	f.value = newVal
	f.version++
	f.notifyAll(Dirty)
}
