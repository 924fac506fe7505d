// Package chantab implements the channel table: the fixed-size per-span
// vector of channel records, their flags, caller data, and the gated
// state-change primitive every dialect handler uses (spec §3, §4.1).
package chantab

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sebas/tdmsig/internal/events"
	"github.com/sebas/tdmsig/internal/statemap"
)

// ChanType distinguishes bearer channels from the ISDN D-channel.
type ChanType int

const (
	ChanTypeB ChanType = iota
	ChanTypeDQ921
)

// Flag is the channel-level bitset (spec §3's "flags").
type Flag uint32

const (
	FlagInUse Flag = 1 << iota
	FlagOutbound
	FlagStateChange
	FlagProgress
	FlagMedia
	FlagAnswered
)

// SFlag is the signaling-layer bitset (spec §3's "sflags").
type SFlag uint8

const (
	SFlagFreeReqID SFlag = 1 << iota
	SFlagSentFinalResponse
)

// CallerData holds the per-call fields carried on a channel (spec §3).
type CallerData struct {
	CallingNumber     string
	CalledNumber      string
	ANI               string
	DNIS              string
	RDNIS             string
	CallingName       string
	Presentation      int
	Screening         int
	HangupCause       int
	CRV               uint16
	CRVFlag           bool
	RawSetup          []byte // preserves the incoming SETUP/event for echoed replies
}

var (
	// ErrChannelBusy names the condition of a request targeting a channel
	// that is already in use. No function in this package returns it;
	// FindPhysical reports a busy channel as nil.
	ErrChannelBusy = errors.New("chantab: channel already in use")
	// ErrTransitionRefused is returned by SetState when the state map does
	// not permit the requested edge.
	ErrTransitionRefused = errors.New("chantab: transition refused by state map")
)

// Channel is one physical timeslot's call-state record.
type Channel struct {
	mu sync.Mutex

	SpanID           int
	ChanID           int
	PhysicalSpanID   int
	PhysicalChanID   int
	Type             ChanType

	state     statemap.State
	flags     Flag
	sflags    SFlag
	Caller    CallerData
	ExtraID   uint16 // the SS7 setup-id currently owning this channel
	InitState statemap.State
	LastError string

	dtmf []byte
}

// NewChannel constructs a channel in the DOWN state.
func NewChannel(spanID, chanID, physSpan, physChan int, typ ChanType) *Channel {
	return &Channel{
		SpanID:         spanID,
		ChanID:         chanID,
		PhysicalSpanID: physSpan,
		PhysicalChanID: physChan,
		Type:           typ,
		state:          statemap.Down,
	}
}

// State returns the current state under lock.
func (c *Channel) State() statemap.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TestFlag reports whether a flag is set.
func (c *Channel) TestFlag(f Flag) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags&f != 0
}

// SetFlag sets a flag under the channel mutex.
func (c *Channel) SetFlag(f Flag) {
	c.mu.Lock()
	c.flags |= f
	c.mu.Unlock()
}

// ClearFlag clears a flag under the channel mutex.
func (c *Channel) ClearFlag(f Flag) {
	c.mu.Lock()
	c.flags &^= f
	c.mu.Unlock()
}

// TestSFlag reports whether a signaling-layer flag is set.
func (c *Channel) TestSFlag(f SFlag) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sflags&f != 0
}

// SetSFlag sets a signaling-layer flag under the channel mutex.
func (c *Channel) SetSFlag(f SFlag) {
	c.mu.Lock()
	c.sflags |= f
	c.mu.Unlock()
}

// QueueDTMF appends decoded DTMF digits (delivered by the out-of-scope
// hardware layer) to the channel's digit buffer.
func (c *Channel) QueueDTMF(digits string) {
	c.mu.Lock()
	c.dtmf = append(c.dtmf, digits...)
	c.mu.Unlock()
}

// DrainDTMF returns and clears the buffered DTMF digits.
func (c *Channel) DrainDTMF() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := string(c.dtmf)
	c.dtmf = nil
	return d
}

// SetState attempts a gated transition. It returns ErrTransitionRefused
// (observable by callers, per spec §4.1's "refusal is observable") when the
// state map forbids the edge; otherwise it applies the new state and marks
// the channel for the advancer to process.
func (c *Channel) SetState(dir statemap.Direction, table *statemap.Table, to statemap.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !table.Allowed(dir, c.state, to) {
		return fmt.Errorf("%w: %s %s->%s", ErrTransitionRefused, dir, c.state, to)
	}
	c.state = to
	c.flags |= FlagStateChange
	return nil
}

// ForceState sets the state without a transition check, for the recovery
// controller driving every channel to RESTART.
func (c *Channel) ForceState(to statemap.State) {
	c.mu.Lock()
	c.state = to
	c.flags |= FlagStateChange
	c.mu.Unlock()
}

// ClearStateChange clears the per-channel pending-advance flag and reports
// whether it had been set (the advancer's drain primitive).
func (c *Channel) ClearStateChange() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flags&FlagStateChange == 0 {
		return false
	}
	c.flags &^= FlagStateChange
	return true
}

// Lock/Unlock expose the channel mutex to callers outside the package. The
// dialect advancers do not take it (each accessor they call locks on its
// own); they keep state-advance steps from overlapping by running under
// their engine's signaling mutex.
func (c *Channel) Lock()   { c.mu.Lock() }
func (c *Channel) Unlock() { c.mu.Unlock() }

// ResetForDown is the DOWN-entry reset described in spec §3's lifecycle
// note ("per-call state ... zeroed on entry to DOWN"). It reports the
// sflags and extra_id that were set before clearing them, so the caller
// can act on SFlagFreeReqID (releasing a setup-id belongs to the dialect
// engine, not chantab).
func (c *Channel) ResetForDown() (prevSFlags SFlag, prevExtraID uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prevSFlags, prevExtraID = c.sflags, c.ExtraID
	c.ExtraID = 0
	c.sflags = 0
	c.flags &^= FlagInUse | FlagOutbound | FlagProgress | FlagMedia | FlagAnswered
	c.Caller = CallerData{}
	return prevSFlags, prevExtraID
}

// StateLocked returns the state; caller must hold the lock (see Lock/Unlock).
func (c *Channel) StateLocked() statemap.State { return c.state }

// Span is a fixed bundle of channels sharing one D-channel / UDP pair.
type Span struct {
	mu sync.RWMutex

	ID          int
	Channels    []*Channel // 1-indexed; Channels[0] is unused
	ChanCount   int
	TrunkType   string
	SignalType  string
	LastError   string
	suspended   bool
	stateChange bool
	StateMap    *statemap.Table
	SignalCB    events.Callback

	// OnSuspendChange, if set, is invoked whenever SetSuspended actually
	// flips the flag (spanengine wires this to the span's health entry).
	OnSuspendChange func(suspended bool)
}

// NewSpan allocates chanCount channels of the given type, 1-indexed.
func NewSpan(id, chanCount int, typ ChanType, table *statemap.Table, cb events.Callback) *Span {
	s := &Span{
		ID:        id,
		Channels:  make([]*Channel, chanCount+1),
		ChanCount: chanCount,
		StateMap:  table,
		SignalCB:  cb,
	}
	for i := 1; i <= chanCount; i++ {
		s.Channels[i] = NewChannel(id, i, id, i, typ)
	}
	return s
}

// Suspended reports the span-level SUSPENDED flag.
func (s *Span) Suspended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspended
}

// SetSuspended sets or clears the span-level SUSPENDED flag, notifying
// OnSuspendChange (if set) when the value actually changes.
func (s *Span) SetSuspended(v bool) {
	s.mu.Lock()
	changed := s.suspended != v
	s.suspended = v
	cb := s.OnSuspendChange
	s.mu.Unlock()

	if changed && cb != nil {
		cb(v)
	}
}

// MarkStateChange sets the span-level STATE_CHANGE flag so the advancer's
// per-tick check (spec §5 "the advancer checks the span flag every tick")
// knows to walk the channel table.
func (s *Span) MarkStateChange() {
	s.mu.Lock()
	s.stateChange = true
	s.mu.Unlock()
}

// ClearStateChange clears the span-level flag and reports its prior value.
func (s *Span) ClearStateChange() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.stateChange
	s.stateChange = false
	return v
}

// FreeChannelCount counts channels with neither INUSE set.
func (s *Span) FreeChannelCount() int {
	n := 0
	for i := 1; i <= s.ChanCount; i++ {
		if !s.Channels[i].TestFlag(FlagInUse) {
			n++
		}
	}
	return n
}

// UsedChannelCount is chan_count minus FreeChannelCount, used by the
// congestion back-off delay formula (spec §4.3).
func (s *Span) UsedChannelCount() int {
	return s.ChanCount - s.FreeChannelCount()
}

// AllDown reports whether every channel has reached DOWN, the condition
// the recovery controller waits for before acking a SYSTEM_RESTART.
func (s *Span) AllDown() bool {
	for i := 1; i <= s.ChanCount; i++ {
		if s.Channels[i].State() != statemap.Down {
			return false
		}
	}
	return true
}

// FirstFreeChannel returns the first channel that is DOWN and not INUSE, for
// dialects (ISDN) that pick their own outbound B-channel rather than
// correlating by a peer-assigned setup-id.
func (s *Span) FirstFreeChannel() *Channel {
	for i := 1; i <= s.ChanCount; i++ {
		ch := s.Channels[i]
		if ch.State() == statemap.Down && !ch.TestFlag(FlagInUse) {
			return ch
		}
	}
	return nil
}

// FindPhysical locates the channel mapped to a physical (span, chan) pair.
// includeBusy mirrors the original's `force` parameter: when false, a
// channel that is already in use (or not DOWN) is treated as not found,
// matching spec §4.3's "refuse if already in use" pre-check; when true
// (used by error/diagnostic paths such as a stray ACK) any channel at that
// physical address is returned regardless of its current state.
func (s *Span) FindPhysical(physSpan, physChan int, includeBusy bool) *Channel {
	for i := 1; i <= s.ChanCount; i++ {
		ch := s.Channels[i]
		if ch.PhysicalSpanID == physSpan && ch.PhysicalChanID == physChan {
			if includeBusy {
				return ch
			}
			if ch.State() == statemap.Down && !ch.TestFlag(FlagInUse) {
				return ch
			}
			return nil
		}
	}
	return nil
}

// ForEachPendingAdvance walks the channel table once, invoking fn for every
// channel whose per-channel STATE_CHANGE flag is set, clearing the flag
// first. This is the pending-work scan spec.md's Design Notes §9 allows in
// place of a separate queue; the span-level flag is checked by the caller
// before invoking this.
func (s *Span) ForEachPendingAdvance(fn func(*Channel)) {
	for i := 1; i <= s.ChanCount; i++ {
		ch := s.Channels[i]
		if ch.ClearStateChange() {
			fn(ch)
		}
	}
}
