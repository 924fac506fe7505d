package isdn

import (
	"fmt"
	"sync"

	"github.com/sebas/tdmsig/internal/chantab"
	"github.com/sebas/tdmsig/internal/events"
	"github.com/sebas/tdmsig/internal/logger"
	"github.com/sebas/tdmsig/internal/statemap"
)

// Engine ties a span's channel table to a Q.921/Q.931 transport (spec
// §4.4/§4.5), serializing every handler under one signaling mutex (spec
// §5; ISDN runs a single signaling thread per span, unlike SS7-boost's
// separate events thread).
type Engine struct {
	Span      *chantab.Span
	Cfg       Config
	Transport Transport
	Table     *statemap.Table

	mu        sync.Mutex
	builder   *events.Builder
	crvCursor uint16
}

// NewEngine wires a fresh ISDN engine for one span.
func NewEngine(span *chantab.Span, cfg Config, transport Transport, table *statemap.Table) *Engine {
	return &Engine{
		Span:      span,
		Cfg:       cfg,
		Transport: transport,
		Table:     table,
		builder:   events.NewBuilder(),
	}
}

// ChanSpan returns the engine's channel table, letting spanengine wire a
// suspend-change hook without depending on the isdn package directly.
func (e *Engine) ChanSpan() *chantab.Span { return e.Span }

func (e *Engine) fire(typ events.Type, ch *chantab.Channel) {
	if e.Span.SignalCB == nil {
		return
	}
	ev := e.builder.New(typ, ch.SpanID, ch.ChanID, ch)
	if err := e.Span.SignalCB(ev); err != nil {
		logger.Warn("upstream callback error", "event", typ, "span", ch.SpanID, "chan", ch.ChanID, "err", err)
	}
}

// OutgoingCall is the downstream outbound-call entry point (spec §6
// "outgoing_call(channel) that drives the channel to DIALING"). chanID==0
// means "let the engine pick a free B-channel", matching spec §6's
// "channel_request(span, chan_id?, ...)" optional channel id.
func (e *Engine) OutgoingCall(chanID int, caller chantab.CallerData) (*chantab.Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ch *chantab.Channel
	if chanID == 0 {
		ch = e.Span.FirstFreeChannel()
	} else {
		ch = e.Span.FindPhysical(e.Span.ID, chanID, false)
	}
	if ch == nil {
		return nil, fmt.Errorf("isdn: no free channel available on span %d", e.Span.ID)
	}

	ch.Caller = caller
	ch.SetFlag(chantab.FlagOutbound | chantab.FlagInUse)
	if err := ch.SetState(statemap.Outbound, e.Table, statemap.Dialing); err != nil {
		ch.ClearFlag(chantab.FlagOutbound | chantab.FlagInUse)
		return nil, fmt.Errorf("isdn: outgoing call: %w", err)
	}
	e.Span.MarkStateChange()
	return ch, nil
}

// Answer drives an inbound channel straight to UP (spec §8 scenario 6:
// "Application drives to UP"), the local-accept counterpart to a peer
// CONNECT. The advancer emits the Q.931 CONNECT reply on its next pass.
func (e *Engine) Answer(ch *chantab.Channel) error {
	if err := ch.SetState(statemap.Inbound, e.Table, statemap.Up); err != nil {
		return fmt.Errorf("isdn: answer: %w", err)
	}
	e.Span.MarkStateChange()
	return nil
}

// Hangup drives ch to HANGUP with the given cause (spec §4.1's HANGUP
// action, shared by both dialects). The advancer emits Q.931 DISCONNECT
// on its next pass.
func (e *Engine) Hangup(ch *chantab.Channel, cause int) error {
	dir := statemap.Inbound
	if ch.TestFlag(chantab.FlagOutbound) {
		dir = statemap.Outbound
	}
	ch.Caller.HangupCause = cause
	if err := ch.SetState(dir, e.Table, statemap.Hangup); err != nil {
		return fmt.Errorf("isdn: hangup: %w", err)
	}
	e.Span.MarkStateChange()
	return nil
}

// Dispatch routes one decoded Q.931 message (spec §4.5's table),
// serialized under the engine's signaling mutex.
func (e *Engine) Dispatch(msg *Q931Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch msg.Type {
	case MsgSetup:
		return e.handleSetup(msg)
	case MsgAlerting:
		return e.handlePeerState(msg, statemap.ProgressMedia)
	case MsgProgress:
		return e.handlePeerState(msg, statemap.Progress)
	case MsgConnect:
		return e.handleConnect(msg)
	case MsgDisconnect:
		return e.handleDisconnect(msg)
	case MsgRelease, MsgReleaseComplete:
		return e.handleRelease(msg)
	case MsgRestart:
		return e.handleRestart(msg)
	default:
		logger.Debug("isdn: unhandled message", "type", msg.Type)
		return nil
	}
}

// handleSetup opens a channel by ChanID (spec §4.5's SETUP row): copies
// calling/called/ANI/DNIS/CRV, inverts the CRV-flag for replies, preserves
// the raw SETUP bytes, and drives DOWN -> RING.
func (e *Engine) handleSetup(msg *Q931Message) error {
	if !msg.HasChanID {
		return fmt.Errorf("isdn: SETUP without a ChanID")
	}
	ch := e.Span.FindPhysical(e.Span.ID, msg.ChanID, false)
	if ch == nil {
		return fmt.Errorf("isdn: SETUP on channel %d: busy or not found", msg.ChanID)
	}

	ch.Caller = chantab.CallerData{
		CallingNumber: msg.CallingNum,
		CalledNumber:  msg.CalledNum,
		ANI:           msg.ANI,
		DNIS:          msg.DNIS,
		CallingName:   msg.CallingName,
		CRV:           msg.CRV,
		CRVFlag:       !msg.CRVFlag, // replies use the flipped CRV-flag (spec §8 scenario 6)
		RawSetup:      msg.Raw,
	}
	ch.SetFlag(chantab.FlagInUse)

	if err := ch.SetState(statemap.Inbound, e.Table, statemap.Ring); err != nil {
		ch.ClearFlag(chantab.FlagInUse)
		return fmt.Errorf("isdn: SETUP on channel %d: %w", msg.ChanID, err)
	}
	e.Span.MarkStateChange()
	return nil
}

// handlePeerState drives a call identified by CRV to the given state, in
// whichever direction the channel's OUTBOUND flag indicates (ALERTING and
// PROGRESS, spec §4.5).
func (e *Engine) handlePeerState(msg *Q931Message, to statemap.State) error {
	ch := e.findByCRV(msg.CRV)
	if ch == nil {
		return fmt.Errorf("isdn: message for unknown CRV %d", msg.CRV)
	}
	dir := statemap.Inbound
	if ch.TestFlag(chantab.FlagOutbound) {
		dir = statemap.Outbound
	}
	if err := ch.SetState(dir, e.Table, to); err != nil {
		return nil // refused transitions are silently tolerated, spec §7
	}
	e.Span.MarkStateChange()
	return nil
}

func (e *Engine) handleConnect(msg *Q931Message) error {
	ch := e.findByCRV(msg.CRV)
	if ch == nil {
		return fmt.Errorf("isdn: CONNECT for unknown CRV %d", msg.CRV)
	}
	outbound := ch.TestFlag(chantab.FlagOutbound)
	dir := statemap.Inbound
	if outbound {
		dir = statemap.Outbound
	}
	if err := ch.SetState(dir, e.Table, statemap.Up); err != nil {
		return nil
	}
	e.Span.MarkStateChange()

	// autoConnectAck: the calling side acknowledges an inbound CONNECT
	// automatically (spec §4.5 "Q.931 autoConnectAck ... enabled").
	if outbound && e.Cfg.AutoConnectAck {
		if err := e.Transport.WriteMessage(&Q931Message{Type: MsgConnectAck, CRV: ch.Caller.CRV, CRVFlag: ch.Caller.CRVFlag}); err != nil {
			logger.Warn("isdn: failed to emit CONNECT_ACK", "err", err)
		}
	}
	return nil
}

func (e *Engine) handleDisconnect(msg *Q931Message) error {
	ch := e.findByCRV(msg.CRV)
	if ch == nil {
		return fmt.Errorf("isdn: DISCONNECT for unknown CRV %d", msg.CRV)
	}
	ch.Caller.HangupCause = msg.Cause
	dir := statemap.Inbound
	if ch.TestFlag(chantab.FlagOutbound) {
		dir = statemap.Outbound
	}
	if err := ch.SetState(dir, e.Table, statemap.Terminating); err != nil {
		return nil
	}
	e.Span.MarkStateChange()
	return nil
}

// handleRelease implements spec §4.5's "RELEASE / RELEASE_COMPLETE -> DOWN":
// a literal, ungated drop to DOWN confirming the peer has released its side.
func (e *Engine) handleRelease(msg *Q931Message) error {
	ch := e.findByCRV(msg.CRV)
	if ch == nil {
		return nil
	}
	ch.ForceState(statemap.Down)
	e.Span.MarkStateChange()
	return nil
}

// handleRestart implements spec §4.5's RESTART row: a specific channel if
// ChanID is present, otherwise every channel on the span. autoRestartAck
// (spec §4.5) replies immediately, independent of the advancer draining
// the forced RESTART state down to DOWN.
func (e *Engine) handleRestart(msg *Q931Message) error {
	if msg.HasChanID {
		ch := e.Span.FindPhysical(e.Span.ID, msg.ChanID, true)
		if ch == nil {
			return fmt.Errorf("isdn: RESTART on unknown channel %d", msg.ChanID)
		}
		ch.ForceState(statemap.Restart)
	} else {
		for i := 1; i <= e.Span.ChanCount; i++ {
			e.Span.Channels[i].ForceState(statemap.Restart)
		}
	}
	e.Span.MarkStateChange()

	if e.Cfg.AutoRestartAck {
		if err := e.Transport.WriteMessage(&Q931Message{Type: MsgRestartAck, ChanID: msg.ChanID, HasChanID: msg.HasChanID}); err != nil {
			logger.Warn("isdn: failed to emit RESTART_ACK", "err", err)
		}
	}
	return nil
}

func (e *Engine) findByCRV(crv uint16) *chantab.Channel {
	for i := 1; i <= e.Span.ChanCount; i++ {
		ch := e.Span.Channels[i]
		if ch.TestFlag(chantab.FlagInUse) && ch.Caller.CRV == crv {
			return ch
		}
	}
	return nil
}
