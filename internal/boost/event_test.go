package boost

import "testing"

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ev := &Event{
		EventID:      EvtCallStart,
		CallSetupID:  42,
		Span:         0,
		Chan:         3,
		ReleaseCause: 16,
		TrunkGroup:   1,
		HuntGroup:    int32(HuntRRAsc),
		CallingNum:   "5551212",
		CalledNum:    "5558000",
		RDNIS:        "5550000",
		CallingName:  "Jane Doe",
		Presentation: 1,
		Screening:    2,
		Digits:       "",
	}

	wire, err := Encode(ev)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.EventID != ev.EventID || got.CallSetupID != ev.CallSetupID {
		t.Errorf("header mismatch: got %+v", got)
	}
	if got.CallingNum != ev.CallingNum || got.CalledNum != ev.CalledNum {
		t.Errorf("digit fields mismatch: got %+v", got)
	}
	if got.RDNIS != ev.RDNIS || got.CallingName != ev.CallingName {
		t.Errorf("name fields mismatch: got %+v", got)
	}
	if got.TrunkGroup != ev.TrunkGroup || got.HuntGroup != ev.HuntGroup {
		t.Errorf("hunt fields mismatch: got %+v", got)
	}
}

func TestDecode_RejectsBadMagic(t *testing.T) {
	if _, err := Decode([]byte{0, 0, 0, 0}); err == nil {
		t.Fatal("expected an error decoding garbage input")
	}
}

func TestEventID_String(t *testing.T) {
	cases := map[EventID]string{
		EvtCallStart:    "CALL_START",
		EvtCallAnswered: "CALL_ANSWERED",
		EventID(999):    "EVENT(999)",
	}
	for id, want := range cases {
		if got := id.String(); got != want {
			t.Errorf("EventID(%d).String() = %q, want %q", id, got, want)
		}
	}
}
