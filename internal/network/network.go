// Package network implements the network manager: an online/offline signal
// with an optional manual override, and the per-query networkMode pause
// policy (Online, Always, OfflineFirst).
package network

import "github.com/hanpama/reactivecache/internal/reactive"

// Mode determines whether a query's fetch is paused while offline.
type Mode int

const (
	// Online pauses whenever the network is offline.
	Online Mode = iota
	// Always never pauses regardless of network status.
	Always
	// OfflineFirst pauses only if the query has no cached data yet.
	OfflineFirst
)

type overrideState struct {
	active bool
	value  bool
}

// Manager holds the platform online cell plus an optional manual override.
// isOnline consults the override first, falling back to the platform signal.
type Manager struct {
	online   *reactive.Cell[bool]
	override *reactive.Cell[overrideState]
}

// NewManager constructs a Manager, seeding the platform signal from
// initiallyOnline (the result of a one-time platform probe).
func NewManager(sched *reactive.Scheduler, initiallyOnline bool) *Manager {
	return &Manager{
		online:   reactive.NewCell(sched, initiallyOnline, reactive.StrictEqual[bool]()),
		override: reactive.NewCell(sched, overrideState{}, reactive.StrictEqual[overrideState]()),
	}
}

// IsOnline reports the effective online status: the manual override if one
// is set, else the platform signal. Reading it inside a reactive function
// subscribes to both.
func (m *Manager) IsOnline() bool {
	ov := m.override.Get()
	if ov.active {
		return ov.value
	}
	return m.online.Get()
}

// SetNetworkStatus installs a manual override, taking precedence over the
// platform signal until ClearManualOverride is called.
func (m *Manager) SetNetworkStatus(online bool) {
	m.override.Set(overrideState{active: true, value: online})
}

// ClearManualOverride removes any manual override, reverting isOnline to
// the platform signal.
func (m *Manager) ClearManualOverride() {
	m.override.Set(overrideState{})
}

// GetOnlineSignal returns the underlying platform online cell (without the
// override), for callers that specifically want the raw platform status.
func (m *Manager) GetOnlineSignal() *reactive.Cell[bool] { return m.online }

// UpdatePlatformStatus is called by an injected online/offline event
// source to update the platform signal; it does not affect a manual
// override currently in effect.
func (m *Manager) UpdatePlatformStatus(online bool) { m.online.Set(online) }

// Paused reports whether mode should pause a fetch given whether the query
// already has cached data. Reading it inside a reactive function subscribes
// to the online/override signals it consults.
func (m *Manager) Paused(mode Mode, hasCachedData bool) bool {
	switch mode {
	case Always:
		return false
	case OfflineFirst:
		if hasCachedData {
			return false
		}
		return !m.IsOnline()
	default:
		return !m.IsOnline()
	}
}
