package boost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sebas/tdmsig/internal/arbiter"
	"github.com/sebas/tdmsig/internal/chantab"
	"github.com/sebas/tdmsig/internal/events"
	"github.com/sebas/tdmsig/internal/logger"
	"github.com/sebas/tdmsig/internal/recovery"
	"github.com/sebas/tdmsig/internal/statemap"
)

// RequestTimeout is the outbound-request sanity deadline (spec §4.2's
// "~5 s at 1 ms granularity", replaced here by a single timed channel
// wait; see internal/arbiter).
const RequestTimeout = 5 * time.Second

// Engine ties a span's channel table to the SS7-boost arbiter, congestion
// table, restart state and wire connection (spec §4.3/§4.4), serializing
// every inbound handler and the advancer under one signaling mutex (spec
// §5). ChannelRequest and Hangup do not take that mutex.
type Engine struct {
	Span    *chantab.Span
	Arb     *arbiter.Arbiter
	Cong    *recovery.CongestionTable
	Restart *recovery.RestartState
	Conn    *Conn
	Table   *statemap.Table

	mu      sync.Mutex
	builder *events.Builder
}

// NewEngine wires a fresh SS7-boost engine for one span.
func NewEngine(span *chantab.Span, conn *Conn, table *statemap.Table) *Engine {
	return &Engine{
		Span:    span,
		Arb:     arbiter.New(),
		Cong:    &recovery.CongestionTable{},
		Restart: &recovery.RestartState{},
		Conn:    conn,
		Table:   table,
		builder: events.NewBuilder(),
	}
}

// ChanSpan returns the engine's channel table, letting spanengine wire a
// suspend-change hook without depending on the boost package directly.
func (e *Engine) ChanSpan() *chantab.Span { return e.Span }

// fire invokes the span's upstream callback, logging any error (the
// callback is the out-of-scope application collaborator).
func (e *Engine) fire(typ events.Type, ch *chantab.Channel) {
	if e.Span.SignalCB == nil {
		return
	}
	ev := e.builder.New(typ, ch.SpanID, ch.ChanID, ch)
	if err := e.Span.SignalCB(ev); err != nil {
		logger.Warn("upstream callback error", "event", typ, "span", ch.SpanID, "chan", ch.ChanID, "err", err)
	}
}

// ChannelRequest is the downstream outbound-call entry point (spec §6).
// It blocks until an ack/nack arrives or the sanity deadline elapses.
func (e *Engine) ChannelRequest(ctx context.Context, ani, dnis string, caller chantab.CallerData) (*chantab.Channel, error) {
	digits, policy, tg := ParseANI(ani)

	if e.Span.Suspended() {
		return nil, fmt.Errorf("boost: span %d suspended", e.Span.ID)
	}
	if e.Cong.Congested(int(tg)) {
		return nil, fmt.Errorf("boost: trunk-group %d congested", tg)
	}
	if e.Span.FreeChannelCount() == 0 {
		return nil, fmt.Errorf("boost: span %d has no free channels", e.Span.ID)
	}

	id, err := e.Arb.Allocate()
	if err != nil {
		return nil, fmt.Errorf("boost: %w", err)
	}

	// Set WAITING strictly before the SETUP write (spec Design Notes §9
	// open question): a same-tick ACK race must always observe WAITING.
	e.Arb.BeginWait(id, e.Span)

	ev := &Event{
		EventID:     EvtCallStart,
		CallSetupID: id,
		TrunkGroup:  tg,
		HuntGroup:   int32(policy),
		CallingNum:  digits,
		CalledNum:   dnis,
		RDNIS:       caller.RDNIS,
		CallingName: caller.CallingName,
		Presentation: int32(caller.Presentation),
		Screening:    int32(caller.Screening),
	}
	if err := e.Conn.WriteMain(ev); err != nil {
		e.Arb.ReleaseID(id)
		return nil, fmt.Errorf("boost: write SETUP: %w", err)
	}

	deadline := RequestTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < deadline {
			deadline = d
		}
	}
	req := e.Arb.Await(id, deadline)
	defer e.Arb.Finish(id)

	if req.Status == arbiter.Ready && req.Channel != nil {
		return req.Channel, nil
	}

	// Timed out or failed: mark nacked so a late ACK is ignored, and tell
	// the peer so it releases the setup-id on its side.
	e.Arb.MarkNack(id)
	nack := &Event{EventID: EvtCallStartNack, CallSetupID: id, ReleaseCause: CauseRecoveryOnTimer}
	if werr := e.Conn.WriteMain(nack); werr != nil {
		logger.Warn("boost: failed to emit CALL_START_NACK for abandoned request", "setup_id", id, "err", werr)
	}
	return nil, fmt.Errorf("boost: outbound request %d did not complete", id)
}

// Hangup drives ch to HANGUP with the given cause, in whichever direction
// matches the channel's OUTBOUND flag. The advancer emits the matching
// wire response (CALL_STOPPED or CALL_START_NACK) on its next pass.
func (e *Engine) Hangup(ch *chantab.Channel, cause int) error {
	dir := statemap.Inbound
	if ch.TestFlag(chantab.FlagOutbound) {
		dir = statemap.Outbound
	}
	ch.Caller.HangupCause = cause
	if err := ch.SetState(dir, e.Table, statemap.Hangup); err != nil {
		return fmt.Errorf("boost: hangup: %w", err)
	}
	e.Span.MarkStateChange()
	return nil
}

// Dispatch decodes and routes one inbound wire event, serialized under
// the engine's signaling mutex (spec §5 "a single signaling mutex").
func (e *Engine) Dispatch(raw []byte) error {
	ev, err := Decode(raw)
	if err != nil {
		return fmt.Errorf("boost: decode: %w", err)
	}

	// Mirrors the original's bounds-sanity check before dispatch (spec
	// SUPPLEMENTED FEATURES), logging and dropping rather than aborting.
	if ev.CallSetupID > arbiter.MaxReqID {
		logger.Warn("boost: dropping event with out-of-range setup-id", "setup_id", ev.CallSetupID, "event", ev.EventID)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.EventID {
	case EvtCallStart:
		return e.handleCallStart(ev)
	case EvtCallStartAck:
		return e.handleCallStartAck(ev)
	case EvtCallStartNack:
		return e.handleCallStartNack(ev)
	case EvtCallStopped:
		return e.handleCallStopped(ev)
	case EvtCallAnswered:
		return e.handleCallAnswered(ev)
	case EvtCallStoppedAck:
		return e.handleReleaseAck(ev)
	case EvtCallStartNackAck:
		return e.handleReleaseAck(ev)
	case EvtHeartbeat:
		return e.handleHeartbeat(ev)
	case EvtSystemRestart:
		return e.handleSystemRestart(ev)
	case EvtDigitIn:
		return e.handleDigitIn(ev)
	case EvtInsertCheckLoop, EvtRemoveCheckLoop, EvtAutoCallGapAbate:
		logger.Debug("boost: log-only event", "event", ev.EventID)
		return nil
	default:
		logger.Warn("boost: unrecognized event", "event", ev.EventID)
		return nil
	}
}

func (e *Engine) handleCallStart(ev *Event) error {
	ch := e.Span.FindPhysical(int(ev.Span)+1, int(ev.Chan)+1, false)
	if ch == nil {
		return e.Conn.WriteMain(&Event{EventID: EvtCallStartNack, CallSetupID: ev.CallSetupID, ReleaseCause: CauseDestOutOfOrder})
	}

	ch.Caller = chantab.CallerData{
		CallingNumber: ev.CallingNum,
		CalledNumber:  ev.CalledNum,
		ANI:           ev.CallingNum,
		DNIS:          ev.CalledNum,
		RDNIS:         ev.RDNIS,
		CallingName:   ev.CallingName,
		Presentation:  int(ev.Presentation),
		Screening:     int(ev.Screening),
	}
	ch.ExtraID = ev.CallSetupID

	if err := ch.SetState(statemap.Inbound, e.Table, statemap.Ring); err != nil {
		return e.Conn.WriteMain(&Event{EventID: EvtCallStartNack, CallSetupID: ev.CallSetupID, ReleaseCause: CauseDestOutOfOrder})
	}
	e.Span.MarkStateChange()
	return nil
}

func (e *Engine) handleCallStartAck(ev *Event) error {
	if e.Arb.NackMarked(ev.CallSetupID) {
		return nil // stale ack for an abandoned request
	}
	e.Arb.SetGrid(int(ev.Span)+1, int(ev.Chan)+1, ev.CallSetupID)

	ch := e.Span.FindPhysical(int(ev.Span)+1, int(ev.Chan)+1, false)
	if ch == nil {
		e.Arb.Fail(ev.CallSetupID)
		return e.Conn.WriteMain(&Event{EventID: EvtCallStopped, CallSetupID: ev.CallSetupID, ReleaseCause: CauseDestOutOfOrder})
	}

	ch.SetFlag(chantab.FlagInUse | chantab.FlagOutbound | chantab.FlagMedia)
	ch.ExtraID = ev.CallSetupID
	ch.InitState = statemap.ProgressMedia
	if err := ch.SetState(statemap.Outbound, e.Table, statemap.ProgressMedia); err == nil {
		e.Span.MarkStateChange()
	}
	e.Arb.Resolve(ev.CallSetupID, ch)
	return nil
}

func (e *Engine) handleCallStartNack(ev *Event) error {
	cause := ev.ReleaseCause
	if cause == CauseAllCktsBusy || cause == CauseCsupIDDblUse {
		delay := e.Cong.Backoff(int(ev.TrunkGroup), e.Span.UsedChannelCount())
		logger.Info("boost: trunk-group congested", "tg", ev.TrunkGroup, "backoff", delay)
		cause = CauseUserBusy
	}

	if ev.CallSetupID != 0 {
		e.Arb.Fail(ev.CallSetupID)
		return e.Conn.WriteMain(&Event{EventID: EvtCallStartNackAck, CallSetupID: ev.CallSetupID, ReleaseCause: cause})
	}

	ch := e.Span.FindPhysical(int(ev.Span)+1, int(ev.Chan)+1, true)
	if ch != nil {
		_ = ch.SetState(statemap.Inbound, e.Table, statemap.Cancel)
		e.Span.MarkStateChange()
	}
	return e.Conn.WriteMain(&Event{EventID: EvtCallStartNackAck, CallSetupID: ev.CallSetupID, ReleaseCause: cause})
}

func (e *Engine) handleCallStopped(ev *Event) error {
	ch := e.Span.FindPhysical(int(ev.Span)+1, int(ev.Chan)+1, true)
	if ch == nil {
		return nil
	}
	ch.Caller.HangupCause = int(ev.ReleaseCause)

	dir := statemap.Inbound
	if ch.TestFlag(chantab.FlagOutbound) {
		dir = statemap.Outbound
	}
	if err := ch.SetState(dir, e.Table, statemap.Terminating); err != nil {
		// already terminal: ack directly and release now.
		e.releaseSetupID(ev.CallSetupID, int(ev.Span), int(ev.Chan))
		return e.Conn.WriteMain(&Event{EventID: EvtCallStoppedAck, CallSetupID: ev.CallSetupID})
	}
	e.Span.MarkStateChange()
	return nil
}

func (e *Engine) handleCallAnswered(ev *Event) error {
	ch := e.Span.FindPhysical(int(ev.Span)+1, int(ev.Chan)+1, true)
	if ch == nil {
		return nil
	}
	if ch.ExtraID != ev.CallSetupID || !ch.TestFlag(chantab.FlagOutbound) {
		return nil
	}
	if err := ch.SetState(statemap.Outbound, e.Table, statemap.Up); err != nil {
		ch.InitState = statemap.Up
		return nil
	}
	ch.SetFlag(chantab.FlagAnswered)
	e.Span.MarkStateChange()
	return nil
}

// handleReleaseAck implements both CALL_STOPPED_ACK and
// CALL_START_NACK_ACK: both release the setup-id and clear any stale-ack
// guard on it (spec §8 scenario 5 clears nack_map on the terminal ack
// regardless of which terminal ack it was), and both complete the
// channel's teardown: HANGUP -> HANGUP_COMPLETE, which the advancer then
// drives on to DOWN.
func (e *Engine) handleReleaseAck(ev *Event) error {
	e.releaseSetupID(ev.CallSetupID, int(ev.Span), int(ev.Chan))
	e.Arb.ClearNack(ev.CallSetupID)

	if ch := e.Span.FindPhysical(int(ev.Span)+1, int(ev.Chan)+1, true); ch != nil {
		dir := statemap.Inbound
		if ch.TestFlag(chantab.FlagOutbound) {
			dir = statemap.Outbound
		}
		if ch.SetState(dir, e.Table, statemap.HangupComplete) == nil {
			e.Span.MarkStateChange()
		}
	}
	return nil
}

func (e *Engine) releaseSetupID(id uint16, physSpan, physChan int) {
	if id != 0 {
		e.Arb.ReleaseID(id)
		return
	}
	e.Arb.ReleaseSpanChan(physSpan+1, physChan+1)
}

func (e *Engine) handleHeartbeat(ev *Event) error {
	e.Restart.ResetHeartbeat()
	return e.Conn.WritePriority(&Event{EventID: EvtHeartbeat})
}

func (e *Engine) handleSystemRestart(ev *Event) error {
	e.Restart.BeginRestart()
	e.Span.SetSuspended(true)
	for i := 1; i <= e.Span.ChanCount; i++ {
		e.Span.Channels[i].ForceState(statemap.Restart)
	}
	e.Span.MarkStateChange()
	return nil
}

func (e *Engine) handleDigitIn(ev *Event) error {
	ch := e.Span.FindPhysical(int(ev.Span)+1, int(ev.Chan)+1, true)
	if ch == nil {
		return nil
	}
	ch.QueueDTMF(ev.Digits)
	return nil
}
