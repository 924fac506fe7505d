// Package events defines the upstream signaling callback (spec §6
// "Upstream (to the application)") and a builder for constructing events
// with consistent defaults, adapted from the teacher's events.Builder.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies which SIGEVENT_* fired.
type Type string

const (
	Start         Type = "START"
	Up            Type = "UP"
	Progress      Type = "PROGRESS"
	ProgressMedia Type = "PROGRESS_MEDIA"
	Stop          Type = "STOP"
	Restart       Type = "RESTART"
)

// SigEvent is the single upstream callback payload (spec §6): every event
// carries the firing span/channel plus a UUID for log correlation across
// the signaling pump, the arbiter, and whatever consumes the callback.
type SigEvent struct {
	EventID   string
	EventType Type
	Time      time.Time
	SpanID    int
	ChanID    int
	Channel   any // *chantab.Channel; any to avoid an import cycle
}

// Callback is the single upstream entry point registered at span-configure
// time (spec §6).
type Callback func(*SigEvent) error

// Builder constructs SigEvents with a shared event-id/time policy.
type Builder struct{}

// NewBuilder returns a Builder. It exists (rather than bare struct
// literals) to mirror the teacher's events.Builder fluent-construction
// idiom and to leave a single seam if future events need shared defaults
// (e.g. a node id) the way the teacher's Builder carries nodeID/tenantID.
func NewBuilder() *Builder { return &Builder{} }

// New builds a SigEvent for the given span/channel.
func (b *Builder) New(typ Type, spanID, chanID int, channel any) *SigEvent {
	return &SigEvent{
		EventID:   uuid.New().String(),
		EventType: typ,
		Time:      time.Now().UTC(),
		SpanID:    spanID,
		ChanID:    chanID,
		Channel:   channel,
	}
}
