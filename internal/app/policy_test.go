package app

import "testing"

func TestPolicyFromConfig(t *testing.T) {
	cases := map[string]BackpressureAction{
		"drop": DropFrame,
		"kick": KickMember,
		"":     KickMember,
	}
	for name, want := range cases {
		if got := PolicyFromConfig(name).OnBackPressure("r", "p"); got != want {
			t.Fatalf("PolicyFromConfig(%q)=%s, want %s", name, got, want)
		}
	}
}

func TestRoomManager_GetOrCreateAndStop(t *testing.T) {
	m := NewRoomManager()
	r1 := m.GetOrCreate("r")
	if r2 := m.GetOrCreate("r"); r1 != r2 {
		t.Fatalf("GetOrCreate returned a second room for the same id")
	}
	if !m.StopIfEmpty("r") {
		t.Fatalf("empty room not stopped")
	}
	if _, ok := m.Get("r"); ok {
		t.Fatalf("stopped room still listed")
	}
	if m.StopIfEmpty("r") {
		t.Fatalf("stopping a missing room reported true")
	}
}
