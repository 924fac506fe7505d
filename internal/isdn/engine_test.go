package isdn

import (
	"testing"

	"github.com/sebas/tdmsig/internal/chantab"
	"github.com/sebas/tdmsig/internal/events"
	"github.com/sebas/tdmsig/internal/statemap"
)

func newTestEngine(t *testing.T, chanCount int, cfg Config) (*Engine, *fakeTransport, *[]*events.SigEvent) {
	t.Helper()
	table := statemap.Default()
	var collected []*events.SigEvent
	span := chantab.NewSpan(1, chanCount, chantab.ChanTypeB, table, func(ev *events.SigEvent) error {
		collected = append(collected, ev)
		return nil
	})
	tr := newFakeTransport()
	return NewEngine(span, cfg, tr, table), tr, &collected
}

// Scenario 6 (spec §8): ISDN inbound SETUP -> RING -> app drives UP ->
// CONNECT emitted with the CRV-flag toggled from the SETUP.
func TestScenario_ISDNInbound(t *testing.T) {
	eng, tr, collected := newTestEngine(t, 8, DefaultConfig())

	setup := &Q931Message{
		Type: MsgSetup, ChanID: 6, HasChanID: true,
		CRV: 42, CRVFlag: false,
		CallingNum: "5551000", CalledNum: "5559000",
		Raw: []byte{0xde, 0xad},
	}
	if err := eng.Dispatch(setup); err != nil {
		t.Fatalf("Dispatch(SETUP): %v", err)
	}
	ch := eng.Span.Channels[6]
	if ch.State() != statemap.Ring {
		t.Fatalf("State = %v, want RING", ch.State())
	}
	if ch.Caller.CRV != 42 || !ch.Caller.CRVFlag {
		t.Errorf("expected CRV=42 with flag inverted to true, got %+v", ch.Caller)
	}

	eng.Advance()
	foundStart := false
	for _, ev := range *collected {
		if ev.EventType == events.Start {
			foundStart = true
		}
	}
	if !foundStart {
		t.Error("expected SIGEVENT_START to have fired")
	}

	if err := eng.Answer(ch); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	eng.Advance()

	if ch.State() != statemap.Up {
		t.Fatalf("State = %v, want UP", ch.State())
	}
	reply := tr.last()
	if reply == nil || reply.Type != MsgConnect {
		t.Fatalf("expected a CONNECT reply, got %+v", reply)
	}
	if reply.CRV != 42 || !reply.CRVFlag {
		t.Errorf("CONNECT CRV/flag = %d/%v, want 42/true", reply.CRV, reply.CRVFlag)
	}
}

func TestHandleSetup_RefusesBusyChannel(t *testing.T) {
	eng, _, _ := newTestEngine(t, 2, DefaultConfig())
	eng.Span.Channels[1].SetFlag(chantab.FlagInUse)

	err := eng.Dispatch(&Q931Message{Type: MsgSetup, ChanID: 1, HasChanID: true, CRV: 1})
	if err == nil {
		t.Fatal("expected SETUP on a busy channel to fail")
	}
}

// Outbound call: DIALING assembles a SETUP, peer ALERTING/CONNECT drive it
// onward, and autoConnectAck fires a CONNECT_ACK.
func TestOutgoingCall_SetupThenConnect(t *testing.T) {
	eng, tr, collected := newTestEngine(t, 4, DefaultConfig())

	ch, err := eng.OutgoingCall(0, chantab.CallerData{CallingNumber: "2125551212", CalledNumber: "3105551212"})
	if err != nil {
		t.Fatalf("OutgoingCall: %v", err)
	}
	eng.Advance()

	setup := tr.last()
	if setup == nil || setup.Type != MsgSetup {
		t.Fatalf("expected a SETUP to have been written, got %+v", setup)
	}
	if setup.CRV == 0 {
		t.Error("expected a minted CRV on the outbound SETUP")
	}

	if err := eng.Dispatch(&Q931Message{Type: MsgAlerting, CRV: setup.CRV}); err != nil {
		t.Fatalf("Dispatch(ALERTING): %v", err)
	}
	if ch.State() != statemap.ProgressMedia {
		t.Fatalf("State = %v, want PROGRESS_MEDIA", ch.State())
	}
	eng.Advance()
	foundProgress := false
	for _, ev := range *collected {
		if ev.EventType == events.ProgressMedia {
			foundProgress = true
		}
	}
	if !foundProgress {
		t.Error("expected SIGEVENT_PROGRESS_MEDIA to have fired")
	}

	if err := eng.Dispatch(&Q931Message{Type: MsgConnect, CRV: setup.CRV}); err != nil {
		t.Fatalf("Dispatch(CONNECT): %v", err)
	}
	if ch.State() != statemap.Up {
		t.Fatalf("State = %v, want UP", ch.State())
	}
	ack := tr.last()
	if ack == nil || ack.Type != MsgConnectAck {
		t.Fatalf("expected autoConnectAck to emit CONNECT_ACK, got %+v", ack)
	}
}

func TestHandleRestart_SpanWideAndAutoAck(t *testing.T) {
	eng, tr, _ := newTestEngine(t, 3, DefaultConfig())
	for i := 1; i <= 3; i++ {
		eng.Span.Channels[i].ForceState(statemap.Up)
	}

	if err := eng.Dispatch(&Q931Message{Type: MsgRestart}); err != nil {
		t.Fatalf("Dispatch(RESTART): %v", err)
	}
	ack := tr.last()
	if ack == nil || ack.Type != MsgRestartAck {
		t.Fatalf("expected an immediate RESTART_ACK, got %+v", ack)
	}

	eng.Advance()
	for i := 1; i <= 3; i++ {
		if got := eng.Span.Channels[i].State(); got != statemap.Down {
			t.Errorf("channel %d state = %v, want DOWN", i, got)
		}
	}
}

func TestHandleRestart_SingleChannel(t *testing.T) {
	eng, _, _ := newTestEngine(t, 3, Config{}) // AutoRestartAck off
	eng.Span.Channels[2].ForceState(statemap.Up)

	if err := eng.Dispatch(&Q931Message{Type: MsgRestart, ChanID: 2, HasChanID: true}); err != nil {
		t.Fatalf("Dispatch(RESTART): %v", err)
	}
	eng.Advance()
	if got := eng.Span.Channels[2].State(); got != statemap.Down {
		t.Errorf("channel 2 state = %v, want DOWN", got)
	}
	if got := eng.Span.Channels[1].State(); got != statemap.Down {
		t.Errorf("channel 1 should be untouched, still DOWN, got %v", got)
	}
}

func TestHangupEmitsDisconnectThenReleaseCompletesToDown(t *testing.T) {
	eng, tr, _ := newTestEngine(t, 2, DefaultConfig())
	eng.Dispatch(&Q931Message{Type: MsgSetup, ChanID: 1, HasChanID: true, CRV: 9})
	eng.Advance()
	ch := eng.Span.Channels[1]
	if err := eng.Answer(ch); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	eng.Advance() // drains UP -> emits CONNECT

	if err := eng.Hangup(ch, 16); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	eng.Advance()
	disc := tr.last()
	if disc == nil || disc.Type != MsgDisconnect || disc.Cause != 16 {
		t.Fatalf("expected DISCONNECT cause=16, got %+v", disc)
	}

	if err := eng.Dispatch(&Q931Message{Type: MsgReleaseComplete, CRV: 9}); err != nil {
		t.Fatalf("Dispatch(RELEASE_COMPLETE): %v", err)
	}
	eng.Advance() // drains the DOWN action (ResetForDown)
	if ch.State() != statemap.Down {
		t.Fatalf("State = %v, want DOWN", ch.State())
	}
	if ch.TestFlag(chantab.FlagInUse) {
		t.Error("expected INUSE cleared once DOWN")
	}
}
