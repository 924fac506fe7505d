package isdn

import (
	"github.com/sebas/tdmsig/internal/chantab"
	"github.com/sebas/tdmsig/internal/events"
	"github.com/sebas/tdmsig/internal/logger"
	"github.com/sebas/tdmsig/internal/statemap"
)

// Advance drains the span's pending state-change flags and runs the
// per-state action for each (spec §4.1's advancer bullet list, ISDN
// actions). Unlike SS7-boost there is no restart-completion ack to check:
// a peer RESTART is acked the moment it is received (handleRestart), not
// once every channel reaches DOWN.
func (e *Engine) Advance() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.Span.ClearStateChange() {
		return
	}
	e.Span.ForEachPendingAdvance(e.advanceOne)
}

func (e *Engine) advanceOne(ch *chantab.Channel) {
	switch ch.State() {
	case statemap.Down:
		ch.ResetForDown()

	case statemap.Dialing:
		e.emitSetup(ch)

	case statemap.Ring:
		e.fire(events.Start, ch)

	case statemap.Progress, statemap.ProgressMedia:
		if ch.TestFlag(chantab.FlagOutbound) {
			typ := events.Progress
			if ch.State() == statemap.ProgressMedia {
				typ = events.ProgressMedia
			}
			e.fire(typ, ch)
			return
		}
		msgType := MsgProgress
		if ch.State() == statemap.ProgressMedia {
			msgType = MsgAlerting
		}
		e.writeReply(ch, msgType)

	case statemap.Up:
		if ch.TestFlag(chantab.FlagOutbound) {
			e.fire(events.Up, ch)
			return
		}
		e.writeReply(ch, MsgConnect)

	case statemap.Hangup:
		if ch.TestSFlag(chantab.SFlagSentFinalResponse) {
			ch.ForceState(statemap.Down)
			e.advanceOne(ch)
			return
		}
		ch.SetSFlag(chantab.SFlagSentFinalResponse)
		e.writeReply(ch, MsgDisconnect)

	case statemap.HangupComplete:
		ch.ForceState(statemap.Down)
		e.advanceOne(ch)

	case statemap.Terminating:
		e.fire(events.Stop, ch)
		ch.SetSFlag(chantab.SFlagSentFinalResponse)
		e.writeReply(ch, MsgReleaseComplete)
		ch.ForceState(statemap.HangupComplete)
		e.advanceOne(ch)

	case statemap.Cancel:
		e.fire(events.Stop, ch)
		e.writeReply(ch, MsgReleaseComplete)
		ch.ForceState(statemap.Down)
		e.advanceOne(ch)

	case statemap.Restart:
		e.fire(events.Restart, ch)
		ch.SetSFlag(chantab.SFlagSentFinalResponse)
		ch.ForceState(statemap.Down)
		e.advanceOne(ch)
	}
}

// emitSetup assembles a Q.931 SETUP from the channel's caller data and
// hands it down to the transport (spec §4.1's DIALING bullet). A fresh CRV
// is minted for every outbound call; ChanID names the selected B-channel.
func (e *Engine) emitSetup(ch *chantab.Channel) {
	if ch.Caller.CRV == 0 {
		ch.Caller.CRV = e.nextCRV()
	}
	msg := &Q931Message{
		Type:        MsgSetup,
		ChanID:      ch.PhysicalChanID,
		HasChanID:   !e.Cfg.HasOption(OptSuggestChannel),
		CRV:         ch.Caller.CRV,
		CRVFlag:     ch.Caller.CRVFlag,
		CallingNum:  ch.Caller.CallingNumber,
		CalledNum:   ch.Caller.CalledNumber,
		ANI:         ch.Caller.ANI,
		DNIS:        ch.Caller.DNIS,
		CallingName: ch.Caller.CallingName,
	}
	if err := e.Transport.WriteMessage(msg); err != nil {
		logger.Warn("isdn: failed to emit SETUP", "chan", ch.ChanID, "err", err)
	}
}

func (e *Engine) writeReply(ch *chantab.Channel, typ MsgType) {
	msg := &Q931Message{
		Type:    typ,
		CRV:     ch.Caller.CRV,
		CRVFlag: ch.Caller.CRVFlag,
		Cause:   ch.Caller.HangupCause,
	}
	if err := e.Transport.WriteMessage(msg); err != nil {
		logger.Warn("isdn: failed to emit reply", "type", typ, "chan", ch.ChanID, "err", err)
	}
}

// nextCRV mints a CRV for a locally-originated call. Called with e.mu held.
func (e *Engine) nextCRV() uint16 {
	e.crvCursor++
	if e.crvCursor == 0 {
		e.crvCursor = 1
	}
	return e.crvCursor
}
