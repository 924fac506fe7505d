package chantab

import (
	"testing"

	"github.com/sebas/tdmsig/internal/statemap"
)

func testSpan(chanCount int) *Span {
	return NewSpan(1, chanCount, ChanTypeB, statemap.Default(), nil)
}

func TestSetState_AllowedAndRefused(t *testing.T) {
	span := testSpan(2)
	ch := span.Channels[1]

	if err := ch.SetState(statemap.Inbound, span.StateMap, statemap.Ring); err != nil {
		t.Fatalf("DOWN->RING inbound should be allowed: %v", err)
	}
	if ch.State() != statemap.Ring {
		t.Fatalf("State = %v, want RING", ch.State())
	}

	if err := ch.SetState(statemap.Inbound, span.StateMap, statemap.Terminating); err == nil {
		t.Fatal("RING->TERMINATING inbound should be refused")
	}
	if ch.State() != statemap.Ring {
		t.Fatal("a refused transition must not mutate state")
	}
}

func TestResetForDown_ClearsCallState(t *testing.T) {
	span := testSpan(1)
	ch := span.Channels[1]

	ch.SetFlag(FlagInUse | FlagOutbound)
	ch.SetSFlag(SFlagFreeReqID)
	ch.ExtraID = 42
	ch.Caller.CallingNumber = "5551212"

	sflags, extraID := ch.ResetForDown()
	if sflags&SFlagFreeReqID == 0 {
		t.Error("expected the prior sflags to report FREE_REQ_ID")
	}
	if extraID != 42 {
		t.Errorf("extraID = %d, want 42", extraID)
	}
	if ch.TestFlag(FlagInUse) || ch.TestFlag(FlagOutbound) {
		t.Error("expected INUSE/OUTBOUND cleared")
	}
	if ch.ExtraID != 0 {
		t.Error("expected ExtraID zeroed")
	}
	if ch.Caller.CallingNumber != "" {
		t.Error("expected caller data zeroed")
	}
}

func TestForEachPendingAdvance_DrainsOnlyFlaggedChannels(t *testing.T) {
	span := testSpan(3)
	span.Channels[2].SetState(statemap.Inbound, span.StateMap, statemap.Ring)

	var advanced []int
	span.ForEachPendingAdvance(func(ch *Channel) {
		advanced = append(advanced, ch.ChanID)
	})

	if len(advanced) != 1 || advanced[0] != 2 {
		t.Fatalf("advanced = %v, want [2]", advanced)
	}

	// a second drain with no new state changes finds nothing pending.
	advanced = nil
	span.ForEachPendingAdvance(func(ch *Channel) {
		advanced = append(advanced, ch.ChanID)
	})
	if len(advanced) != 0 {
		t.Fatalf("advanced = %v, want none", advanced)
	}
}

func TestFindPhysical_BusyVsIncludeBusy(t *testing.T) {
	span := testSpan(2)
	ch := span.Channels[1]
	ch.SetFlag(FlagInUse)

	if got := span.FindPhysical(1, 1, false); got != nil {
		t.Error("a busy channel should not be found when includeBusy=false")
	}
	if got := span.FindPhysical(1, 1, true); got == nil {
		t.Error("a busy channel should be found when includeBusy=true")
	}
	if got := span.FindPhysical(1, 2, false); got == nil {
		t.Error("a free channel should be found")
	}
}

func TestFreeAndUsedChannelCount(t *testing.T) {
	span := testSpan(4)
	span.Channels[1].SetFlag(FlagInUse)
	span.Channels[2].SetFlag(FlagInUse)

	if got := span.FreeChannelCount(); got != 2 {
		t.Errorf("FreeChannelCount = %d, want 2", got)
	}
	if got := span.UsedChannelCount(); got != 2 {
		t.Errorf("UsedChannelCount = %d, want 2", got)
	}
}

func TestAllDown(t *testing.T) {
	span := testSpan(2)
	if !span.AllDown() {
		t.Fatal("a freshly built span should be all DOWN")
	}
	span.Channels[1].ForceState(statemap.Up)
	if span.AllDown() {
		t.Fatal("AllDown should be false once a channel is UP")
	}
}

func TestDTMFQueueAndDrain(t *testing.T) {
	span := testSpan(1)
	ch := span.Channels[1]

	ch.QueueDTMF("1")
	ch.QueueDTMF("23")
	if got := ch.DrainDTMF(); got != "123" {
		t.Errorf("DrainDTMF = %q, want %q", got, "123")
	}
	if got := ch.DrainDTMF(); got != "" {
		t.Errorf("DrainDTMF after drain = %q, want empty", got)
	}
}
