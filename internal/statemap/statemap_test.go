package statemap

import "testing"

func TestDefault_OutboundHappyPath(t *testing.T) {
	tbl := Default()
	steps := []struct {
		from, to State
		allowed  bool
	}{
		{Down, ProgressMedia, true},
		{ProgressMedia, Up, true},
		{Up, Hangup, true},
		{Hangup, HangupComplete, true},
		{HangupComplete, Down, true},
		{Down, Up, false},
		{Up, Ring, false},
	}
	for _, s := range steps {
		if got := tbl.Allowed(Outbound, s.from, s.to); got != s.allowed {
			t.Errorf("Allowed(OUTBOUND, %s, %s) = %v, want %v", s.from, s.to, got, s.allowed)
		}
	}
}

func TestDefault_InboundHappyPath(t *testing.T) {
	tbl := Default()
	steps := []struct {
		from, to State
		allowed  bool
	}{
		{Down, Ring, true},
		{Ring, Progress, true},
		{Progress, Up, true},
		{Up, Terminating, true},
		{Terminating, HangupComplete, true},
		{HangupComplete, Down, true},
		// RING -> UP is allowed directly (spec §4.1's UP action covers the
		// "never sent START_ACK" case, and ISDN scenario 6 answers straight
		// from RING without an intermediate PROGRESS).
		{Ring, Up, true},
		{Down, Up, false},
	}
	for _, s := range steps {
		if got := tbl.Allowed(Inbound, s.from, s.to); got != s.allowed {
			t.Errorf("Allowed(INBOUND, %s, %s) = %v, want %v", s.from, s.to, got, s.allowed)
		}
	}
}

func TestDefault_RestartFromAnyState(t *testing.T) {
	tbl := Default()
	for _, dir := range []Direction{Inbound, Outbound} {
		for _, s := range []State{Down, Ring, Progress, Up, Hangup, Terminating} {
			if !tbl.Allowed(dir, s, Restart) {
				t.Errorf("Allowed(%s, %s, RESTART) = false, want true", dir, s)
			}
		}
	}
}

func TestDefault_SameStateAlwaysAllowed(t *testing.T) {
	tbl := Default()
	if !tbl.Allowed(Inbound, Up, Up) {
		t.Error("a no-op transition must always be allowed")
	}
}
