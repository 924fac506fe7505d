package isdn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebas/tdmsig/internal/statemap"
)

func TestPump_DispatchesInboundMessage(t *testing.T) {
	eng, _, _ := newTestEngine(t, 4, DefaultConfig())
	tr := eng.Transport.(*fakeTransport)
	tr.inbound <- &Q931Message{Type: MsgSetup, ChanID: 2, HasChanID: true, CRV: 5}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := eng.Pump(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Pump returned %v, want context.DeadlineExceeded", err)
	}

	if got := eng.Span.Channels[2].State(); got != statemap.Ring {
		t.Errorf("channel 2 state = %v, want RING", got)
	}
}

func TestPump_TerminatesAfterConsecutiveFailures(t *testing.T) {
	eng, _, _ := newTestEngine(t, 2, DefaultConfig())
	tr := eng.Transport.(*fakeTransport)
	tr.setErrMode(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := eng.Pump(ctx)
	if !errors.Is(err, ErrLinkDown) {
		t.Fatalf("Pump returned %v, want ErrLinkDown", err)
	}
}

func TestPump_StopsOnContextCancel(t *testing.T) {
	eng, _, _ := newTestEngine(t, 2, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := eng.Pump(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Pump returned %v, want context.Canceled", err)
	}
}
