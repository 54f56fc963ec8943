package reactive

import "sync"

// Scheduler owns the reader stack and the flush queue. The substrate is
// modeled as single-threaded cooperative, but Go programs are natively
// concurrent, so this Scheduler serializes all mutation and recomputation
// behind a mutex rather than relying on a single-goroutine convention.
// Logically this preserves "cooperative, non-preemptive, no parallel
// execution": two goroutines calling into the same Scheduler queue behind
// each other for every read and write. The lock is released while a
// ReactiveFn's compute body runs (so the body can read Cells), and compute
// bodies running on different goroutines may overlap there.
//
// Flush order: a mutation marks reachable subscribers dirty synchronously,
// then a flush runs GC sweeps, then async pulls (pending promises resuming
// their dependents), then external listener callbacks - each listener
// firing at most once per flush.
type Scheduler struct {
	mu        sync.Mutex
	readers   []reader
	listeners map[uint64]func()
	pending   map[uint64]struct{} // listener ids queued for this flush
	gcSweeps  []func()
	pulls     []func()
	inFlush   bool
}

// NewScheduler constructs an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		listeners: make(map[uint64]func()),
		pending:   make(map[uint64]struct{}),
	}
}

// Lock serializes a caller-supplied critical section against every other
// reader/mutator of this Scheduler. Cell, ReactiveFn, Promise, Relay, and
// Task take this same lock internally, and sync.Mutex is not reentrant, so
// calling any of their methods between Lock and Unlock on the same
// goroutine deadlocks.
func (s *Scheduler) Lock() { s.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (s *Scheduler) Unlock() { s.mu.Unlock() }

func (s *Scheduler) pushReader(r reader) { s.readers = append(s.readers, r) }

func (s *Scheduler) popReader() { s.readers = s.readers[:len(s.readers)-1] }

func (s *Scheduler) currentReader() (reader, bool) {
	if len(s.readers) == 0 {
		return nil, false
	}
	return s.readers[len(s.readers)-1], true
}

// trackRead registers dep as a dependency of whatever computation is
// currently running on this scheduler, if any.
func (s *Scheduler) trackRead(dep depSource) {
	if r, ok := s.currentReader(); ok {
		r.trackDependency(dep)
	}
}

// AddListener registers an external callback (e.g. a UI re-render hook) to
// fire at most once per flush when id is scheduled. It returns an unsubscribe
// func.
func (s *Scheduler) AddListener(id uint64, fn func()) (unsubscribe func()) {
	s.listeners[id] = fn
	return func() { delete(s.listeners, id) }
}

// scheduleListener marks a listener id to fire on the next flush.
func (s *Scheduler) scheduleListener(id uint64) {
	if _, ok := s.listeners[id]; ok {
		s.pending[id] = struct{}{}
	}
}

// registerGCSweep queues a sweep callback to run at the start of the next
// flush.
func (s *Scheduler) registerGCSweep(fn func()) { s.gcSweeps = append(s.gcSweeps, fn) }

// registerPull queues a callback that resumes reactive functions pending on
// a settled promise; these run after GC sweeps and before listeners.
func (s *Scheduler) registerPull(fn func()) { s.pulls = append(s.pulls, fn) }

// Flush runs one full flush cycle: GC sweeps, then async pulls, then
// listeners (each at most once). Flush is idempotent if called with nothing
// queued. Callers (tests, or a host integration's microtask hook) invoke
// this after a batch of synchronous mutations.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// flushLocked is Flush's body, assuming s.mu is already held by the caller.
// Cell.Set and Cell.SetAlways (and so Promise.Resolve/Reject/Reset, which
// write through Cells) take the lock once and call this directly, since
// sync.Mutex is not reentrant.
func (s *Scheduler) flushLocked() {
	if s.inFlush {
		return
	}
	s.inFlush = true
	defer func() { s.inFlush = false }()

	sweeps := s.gcSweeps
	s.gcSweeps = nil
	for _, fn := range sweeps {
		fn()
	}

	pulls := s.pulls
	s.pulls = nil
	for _, fn := range pulls {
		fn()
	}

	due := s.pending
	s.pending = make(map[uint64]struct{})
	for id := range due {
		if fn, ok := s.listeners[id]; ok {
			fn()
		}
	}
}
