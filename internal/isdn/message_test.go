package isdn

import "testing"

func TestMsgType_String(t *testing.T) {
	cases := map[MsgType]string{
		MsgSetup:           "SETUP",
		MsgAlerting:        "ALERTING",
		MsgConnect:         "CONNECT",
		MsgReleaseComplete: "RELEASE_COMPLETE",
		MsgRestart:         "RESTART",
		MsgType(99):        "UNKNOWN",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", typ, got, want)
		}
	}
}
