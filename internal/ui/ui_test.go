package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/sitesense/fieldsync/internal/reconcile"
)

func TestPhaseBadge(t *testing.T) {
	tests := []struct {
		phase reconcile.Phase
		want  string
	}{
		{reconcile.PhaseOnlineEmpty, "synced"},
		{reconcile.PhaseOfflinePending, "offline, changes pending"},
		{reconcile.PhaseSyncing, "syncing"},
		{reconcile.PhaseOnlinePending, "sync needed"},
	}
	for _, tt := range tests {
		if got := PhaseBadge(tt.phase); !strings.Contains(got, tt.want) {
			t.Errorf("PhaseBadge(%v) = %q, want substring %q", tt.phase, got, tt.want)
		}
	}
}

func TestStatusCard(t *testing.T) {
	byKind := map[string]int{"observation": 2, "photo": 1}
	card := StatusCard(reconcile.PhaseOfflinePending, 3, byKind, false, time.Time{})

	for _, want := range []string{"offline", "Pending", "3", "observations:", "photos:", "never"} {
		if !strings.Contains(card, want) {
			t.Errorf("status card missing %q:\n%s", want, card)
		}
	}
}

func TestStatusCardOnlineEmpty(t *testing.T) {
	card := StatusCard(reconcile.PhaseOnlineEmpty, 0, nil, true, time.Now())

	if !strings.Contains(card, "synced") {
		t.Errorf("status card missing synced badge:\n%s", card)
	}
	if !strings.Contains(card, "just now") {
		t.Errorf("status card missing recency:\n%s", card)
	}
	if strings.Contains(card, "surveys:") {
		t.Errorf("empty queue should not list kinds:\n%s", card)
	}
}

func TestHumanSince(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
	}
	for _, tt := range tests {
		if got := humanSince(time.Now().Add(-tt.ago)); got != tt.want {
			t.Errorf("humanSince(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}
