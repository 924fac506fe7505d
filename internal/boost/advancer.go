package boost

import (
	"github.com/sebas/tdmsig/internal/chantab"
	"github.com/sebas/tdmsig/internal/events"
	"github.com/sebas/tdmsig/internal/logger"
	"github.com/sebas/tdmsig/internal/statemap"
)

// Advance drains the span's pending state-change flags and runs the
// per-state action for each, then checks for a completed restart (spec
// §4.1's advancer bullet list, SS7-boost actions).
func (e *Engine) Advance() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.Span.ClearStateChange() {
		e.checkRestartCompleteLocked()
		return
	}
	e.Span.ForEachPendingAdvance(e.advanceOne)
	e.checkRestartCompleteLocked()
}

func (e *Engine) advanceOne(ch *chantab.Channel) {
	switch ch.State() {
	case statemap.Down:
		sflags, extraID := ch.ResetForDown()
		if sflags&chantab.SFlagFreeReqID != 0 {
			e.Arb.ReleaseID(extraID)
		}

	case statemap.Ring:
		e.fire(events.Start, ch)

	case statemap.Progress, statemap.ProgressMedia:
		ch.SetFlag(chantab.FlagMedia)
		if ch.TestFlag(chantab.FlagOutbound) {
			typ := events.Progress
			if ch.State() == statemap.ProgressMedia {
				typ = events.ProgressMedia
			}
			e.fire(typ, ch)
			return
		}
		_ = e.Conn.WriteMain(&Event{EventID: EvtCallStartAck, CallSetupID: ch.ExtraID})

	case statemap.Up:
		if ch.TestFlag(chantab.FlagOutbound) {
			e.fire(events.Up, ch)
			return
		}
		if !ch.TestFlag(chantab.FlagMedia) {
			_ = e.Conn.WriteMain(&Event{EventID: EvtCallStartAck, CallSetupID: ch.ExtraID})
		}
		_ = e.Conn.WriteMain(&Event{EventID: EvtCallAnswered, CallSetupID: ch.ExtraID})

	case statemap.Hangup:
		if ch.TestSFlag(chantab.SFlagSentFinalResponse) {
			ch.ForceState(statemap.Down)
			e.advanceOne(ch)
			return
		}
		ch.SetSFlag(chantab.SFlagSentFinalResponse)
		cause := int32(ch.Caller.HangupCause)
		if ch.TestFlag(chantab.FlagAnswered) || ch.TestFlag(chantab.FlagMedia) {
			_ = e.Conn.WriteMain(&Event{EventID: EvtCallStopped, CallSetupID: ch.ExtraID, ReleaseCause: cause})
		} else {
			_ = e.Conn.WriteMain(&Event{EventID: EvtCallStartNack, CallSetupID: ch.ExtraID, ReleaseCause: cause})
		}

	case statemap.HangupComplete:
		ch.ForceState(statemap.Down)
		e.advanceOne(ch)

	case statemap.Terminating:
		e.fire(events.Stop, ch)
		ch.SetSFlag(chantab.SFlagSentFinalResponse)
		if err := e.Conn.WriteMain(&Event{EventID: EvtCallStoppedAck, CallSetupID: ch.ExtraID}); err != nil {
			logger.Warn("boost: failed to emit CALL_STOPPED_ACK", "err", err)
		}
		ch.ForceState(statemap.HangupComplete)
		e.advanceOne(ch)

	case statemap.Cancel:
		e.fire(events.Stop, ch)
		if err := e.Conn.WriteMain(&Event{EventID: EvtCallStartNackAck, CallSetupID: ch.ExtraID}); err != nil {
			logger.Warn("boost: failed to emit CALL_START_NACK_ACK", "err", err)
		}
		ch.ForceState(statemap.Down)
		e.advanceOne(ch)

	case statemap.Restart:
		e.fire(events.Restart, ch)
		ch.SetSFlag(chantab.SFlagSentFinalResponse)
		ch.ForceState(statemap.Down)
		e.advanceOne(ch)
	}
}

func (e *Engine) checkRestartCompleteLocked() {
	if !e.Restart.Restarting() || !e.Span.AllDown() {
		return
	}
	if err := e.Conn.WritePriority(&Event{EventID: EvtSystemRestartAck}); err != nil {
		logger.Warn("boost: failed to emit SYSTEM_RESTART_ACK", "err", err)
		return
	}
	e.Restart.CompleteRestart()
	e.Span.SetSuspended(false)
	e.Arb.Reinit()
}
