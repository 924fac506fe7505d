// Package recovery implements the congestion back-off table and the
// restart/heartbeat bookkeeping described in spec §3 "Congestion table"
// and §4.3's SYSTEM_RESTART handling, scoped per span per spec Design
// Notes §9 (the original's process-wide arrays become per-engine fields).
package recovery

import (
	"sync"
	"time"
)

// MaxTrunkGroups bounds the congestion table, mirroring the original's
// MAX_TRUNK_GROUPS.
const MaxTrunkGroups = 64

// CongestionTable tracks a back-off expiry per trunk group. Zero means
// "not congested" (spec §3).
type CongestionTable struct {
	mu      sync.Mutex
	expires [MaxTrunkGroups]time.Time
}

// Congested reports whether tg is currently backed off, clearing an
// expired entry as a side effect (spec §4.3 "check_congestion").
func (c *CongestionTable) Congested(tg int) bool {
	if tg < 0 || tg >= MaxTrunkGroups {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	exp := c.expires[tg]
	if exp.IsZero() {
		return false
	}
	if !time.Now().Before(exp) {
		c.expires[tg] = time.Time{}
		return false
	}
	return true
}

// Backoff computes the delay from the number of channels in use
// (spec §4.3: `delay = clamp(floor(count/100)*2, 1, 10)` seconds) and
// arms the back-off for tg.
func (c *CongestionTable) Backoff(tg int, usedChannels int) time.Duration {
	delay := (usedChannels / 100) * 2
	if delay > 10 {
		delay = 10
	} else if delay < 1 {
		delay = 1
	}
	d := time.Duration(delay) * time.Second

	if tg < 0 || tg >= MaxTrunkGroups {
		tg = 0
	}
	c.mu.Lock()
	c.expires[tg] = time.Now().Add(d)
	c.mu.Unlock()
	return d
}

// RestartState tracks a span's peer-restart lifecycle (spec §4.3
// SYSTEM_RESTART / §7 "Link loss / peer restart").
type RestartState struct {
	mu          sync.Mutex
	restarting  bool
	peerDown    bool
	hbElapsed   time.Duration
}

// BeginRestart marks the connection down and the restart sequence active;
// called when SYSTEM_RESTART is received and when the pump announces its
// own startup.
func (r *RestartState) BeginRestart() {
	r.mu.Lock()
	r.restarting = true
	r.peerDown = true
	r.hbElapsed = 0
	r.mu.Unlock()
}

// Restarting reports whether a restart is in progress.
func (r *RestartState) Restarting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarting
}

// PeerDown reports whether the peer connection is marked down
// (MSU_FLAG_DOWN in the original).
func (r *RestartState) PeerDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peerDown
}

// CompleteRestart clears the restart/peer-down flags once every channel
// has reached DOWN and SYSTEM_RESTART_ACK has been sent.
func (r *RestartState) CompleteRestart() {
	r.mu.Lock()
	r.restarting = false
	r.peerDown = false
	r.hbElapsed = 0
	r.mu.Unlock()
}

// Tick advances the heartbeat-elapsed counter by d, unless the peer is
// down or the span is suspended (spec §4.4: "increment hb_elapsed ...
// unless suspended or peer-down").
func (r *RestartState) Tick(d time.Duration, suspended bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if suspended || r.peerDown {
		r.hbElapsed = 0
		return
	}
	r.hbElapsed += d
}

// ResetHeartbeat zeroes the elapsed counter (a HEARTBEAT event arrived).
func (r *RestartState) ResetHeartbeat() {
	r.mu.Lock()
	r.hbElapsed = 0
	r.mu.Unlock()
}

// HeartbeatElapsed returns the current elapsed duration since the last
// heartbeat or reset.
func (r *RestartState) HeartbeatElapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hbElapsed
}
