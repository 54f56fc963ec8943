// Package reactive implements the reactive substrate: cells (signals) with
// dependency tracking, cached reactive functions, reactive promises with
// pending/resolved/rejected states, relays (externally driven reactive
// promises), tasks, and per-owner scopes for method memoization.
//
// The substrate is cooperative and non-preemptive by design: a mutation
// marks reachable subscribers dirty synchronously, then a flush runs GC
// sweeps, async pulls, and listener callbacks in that order. Go programs are
// natively concurrent, so Scheduler serializes all of this behind a mutex
// rather than relying on a single-goroutine convention; two goroutines
// calling into the same Scheduler queue behind each other instead of
// interleaving (see Scheduler).
package reactive
