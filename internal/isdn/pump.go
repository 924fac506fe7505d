package isdn

import (
	"context"
	"errors"
	"time"

	"github.com/sebas/tdmsig/internal/logger"
)

// waitTimeout is the D-channel poll granularity (spec §4.4 "wait on the
// D-channel with 100 ms timeout").
const waitTimeout = 100 * time.Millisecond

// maxConsecutiveFailures is spec §4.4/§7's "ten consecutive read failures".
const maxConsecutiveFailures = 10

// Pump runs the ISDN signaling thread: wait on the D-channel with a 100 ms
// timeout, tick the Q.921 timers on timeout, dispatch one decoded message
// per readable wake-up, and run the advancer after every iteration. It
// returns ErrLinkDown after ten consecutive read failures (spec §4.4,
// §7 error kind 5 "Fatal"), or ctx.Err() if the caller cancels first.
func (e *Engine) Pump(ctx context.Context) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wctx, cancel := context.WithTimeout(ctx, waitTimeout)
		msg, err := e.Transport.ReadMessage(wctx)
		cancel()

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			e.tickTimers()
			failures = 0

		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			logger.Warn("isdn: D-channel read failed", "span", e.Span.ID, "consecutive", failures, "err", err)
			if failures >= maxConsecutiveFailures {
				return ErrLinkDown
			}

		default:
			failures = 0
			if derr := e.Dispatch(msg); derr != nil {
				logger.Warn("isdn: dispatch failed", "span", e.Span.ID, "err", derr)
			}
		}

		e.Advance()
	}
}

// tickTimers is the seam for the Q.921 LAPD timer bank (T200/T203
// retransmission and idle-link timers); it does nothing here. Ticking them and driving retransmits is owned by the
// out-of-scope byte-level Q.921 codec; this is the seam the pump calls on
// every 100 ms wait timeout (spec §4.4).
func (e *Engine) tickTimers() {}
