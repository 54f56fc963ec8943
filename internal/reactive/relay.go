package reactive

// RelayState is the handle an activate hook uses to push values into its
// Relay. SetValue and SetError settle the relay's promise whenever they are
// called, including after the last watcher has detached: a call made after
// deactivation settles the promise that Unwatch reset to pending.
type RelayState[T any] struct {
	relay *Relay[T]
}

// SetValue resolves the relay's promise with v.
func (s *RelayState[T]) SetValue(v T) { s.relay.promise.Resolve(v) }

// SetError rejects the relay's promise with err.
func (s *RelayState[T]) SetError(err error) { s.relay.promise.Reject(err) }

// Relay is a reactive promise whose value is driven by an external source
// (a subscription, a poller, a socket) rather than by a one-shot compute
// The external source only runs while the relay has at
// least one watcher: activate fires on the 0→1 watcher transition, and its
// returned cleanup (if any) fires on the 1→0 transition, after which the
// promise resets to pending so a later re-watch starts fresh.
type Relay[T any] struct {
	sched      *Scheduler
	promise    *Promise[T]
	activate   func(state *RelayState[T]) func()
	watchers   int
	deactivate func()
}

// NewRelay constructs a Relay. activate is called when the first watcher
// attaches; it may return a cleanup func invoked when the last watcher
// detaches. activate may be nil for a relay driven purely by direct
// SetValue/SetError calls from outside the watch lifecycle.
func NewRelay[T any](sched *Scheduler, equal Equality[T], activate func(state *RelayState[T]) func()) *Relay[T] {
	return &Relay[T]{
		sched:    sched,
		promise:  NewPromise[T](sched, equal),
		activate: activate,
	}
}

// Promise exposes the underlying Promise for status/value/err reads.
func (r *Relay[T]) Promise() *Promise[T] { return r.promise }

// Watch increments the watcher count, triggering activate if this is the
// first watcher. Safe to call from multiple logical owners; each Watch must
// be paired with an Unwatch.
func (r *Relay[T]) Watch() {
	r.sched.mu.Lock()
	r.watchers++
	first := r.watchers == 1
	r.sched.mu.Unlock()

	if first && r.activate != nil {
		cleanup := r.activate(&RelayState[T]{relay: r})
		r.sched.mu.Lock()
		r.deactivate = cleanup
		r.sched.mu.Unlock()
	}
}

// Unwatch decrements the watcher count, triggering the stored cleanup and
// resetting the promise to pending once the last watcher detaches.
func (r *Relay[T]) Unwatch() {
	r.sched.mu.Lock()
	r.watchers--
	last := r.watchers == 0
	var cleanup func()
	if last {
		cleanup = r.deactivate
		r.deactivate = nil
	}
	r.sched.mu.Unlock()

	if last {
		if cleanup != nil {
			cleanup()
		}
		r.promise.Reset()
	}
}

// WatcherCount reports the current number of attached watchers, mainly for
// tests.
func (r *Relay[T]) WatcherCount() int {
	r.sched.mu.Lock()
	defer r.sched.mu.Unlock()
	return r.watchers
}
