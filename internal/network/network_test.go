package network

import (
	"testing"

	"github.com/hanpama/reactivecache/internal/reactive"
)

func TestManager_IsOnlineReflectsPlatformSignalByDefault(t *testing.T) {
	sched := reactive.NewScheduler()
	m := NewManager(sched, true)
	if !m.IsOnline() {
		t.Fatalf("expected initial online state true")
	}
	m.UpdatePlatformStatus(false)
	if m.IsOnline() {
		t.Fatalf("expected platform update to flip isOnline to false")
	}
}

func TestManager_ManualOverrideTakesPrecedence(t *testing.T) {
	sched := reactive.NewScheduler()
	m := NewManager(sched, true)

	m.SetNetworkStatus(false)
	if m.IsOnline() {
		t.Fatalf("expected manual override to force offline")
	}

	m.UpdatePlatformStatus(false)
	if m.IsOnline() {
		t.Fatalf("expected override to still force offline despite matching platform status")
	}

	m.ClearManualOverride()
	if m.IsOnline() {
		t.Fatalf("expected isOnline to fall back to the (now offline) platform signal")
	}
}

func TestManager_PausedByMode(t *testing.T) {
	sched := reactive.NewScheduler()
	m := NewManager(sched, false)

	if !m.Paused(Online, false) {
		t.Fatalf("expected Online mode to pause while offline")
	}
	if m.Paused(Always, false) {
		t.Fatalf("expected Always mode to never pause")
	}
	if m.Paused(OfflineFirst, true) {
		t.Fatalf("expected OfflineFirst to not pause once cached data exists")
	}
	if !m.Paused(OfflineFirst, false) {
		t.Fatalf("expected OfflineFirst to pause when there is no cached data yet")
	}
}
