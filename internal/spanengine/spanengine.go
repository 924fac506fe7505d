// Package spanengine wires a span's dialect engine, health registration,
// and thread topology together (spec §5 "Scheduling model": two long-lived
// threads per SS7-boost span — a signaling thread and an events thread
// polling hardware for DTMF — versus ISDN's single signaling thread).
package spanengine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sebas/tdmsig/internal/chantab"
	"github.com/sebas/tdmsig/internal/healthz"
)

// Pumper is satisfied by both boost.Engine and isdn.Engine: each runs its
// own signaling-event pump to completion or until ctx is canceled.
type Pumper interface {
	Pump(ctx context.Context) error
}

// chanSpanProvider is satisfied by both boost.Engine and isdn.Engine via
// their ChanSpan accessors; it's a separate, optional interface rather
// than folded into Pumper so a minimal test double can implement Pumper
// alone.
type chanSpanProvider interface {
	ChanSpan() *chantab.Span
}

// DTMFPoller models the out-of-scope hardware collaborator that boost's
// second ("events") thread polls (spec §1's hardware I/O driver). It is
// nil for ISDN spans, which run a single signaling thread.
type DTMFPoller func(ctx context.Context) error

// Span supervises one span's goroutines with an errgroup, propagating the
// first fatal error and toggling the span's health status around the run.
type Span struct {
	ID           int
	SignalEngine Pumper
	DTMF         DTMFPoller
	Health       *healthz.Registry
}

// Run blocks until the signaling thread (and, if present, the DTMF poll
// thread) exits, then marks the span unhealthy. While running, the
// span's health entry tracks the recovery controller's suspend/resume
// calls (chantab.Span.SetSuspended) in real time, via ChanSpan's
// OnSuspendChange hook. Cancel ctx for a clean shutdown; a non-nil error
// other than ctx.Err() indicates a fatal condition (spec §7 error kind 5).
func (s *Span) Run(ctx context.Context) error {
	if s.Health != nil {
		s.Health.RegisterSpan(s.ID)
		if p, ok := s.SignalEngine.(chanSpanProvider); ok {
			span := p.ChanSpan()
			span.OnSuspendChange = func(suspended bool) {
				s.Health.SetSuspended(s.ID, suspended)
			}
			defer func() { span.OnSuspendChange = nil }()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.SignalEngine.Pump(gctx) })
	if s.DTMF != nil {
		g.Go(func() error { return s.DTMF(gctx) })
	}

	err := g.Wait()
	if s.Health != nil {
		s.Health.SetSuspended(s.ID, true)
	}
	return err
}

// NoopDTMFPoll returns a DTMFPoller that idles on a ticker and exits with
// ctx, standing in for the hardware DTMF poll loop until a real collaborator
// is wired (spec §1 names it but does not specify it).
func NoopDTMFPoll(interval time.Duration) DTMFPoller {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}
