// Package boost implements the SS7-boost dialect: the wire event codec,
// the dual-socket connection, the request-arbiter-backed outbound call
// path, the inbound event handlers, the event pump, and the per-state
// advancer actions (spec §4.2-§4.4, §6 "SS7-boost wire protocol").
package boost

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// EventID identifies a wire event (spec §6's recognized event ids).
type EventID uint32

const (
	EvtCallStart EventID = iota + 1
	EvtCallStopped
	EvtCallStartAck
	EvtCallStartNack
	EvtCallStartNackAck
	EvtCallStoppedAck
	EvtCallAnswered
	EvtHeartbeat
	EvtSystemRestart
	EvtSystemRestartAck
	EvtInsertCheckLoop
	EvtRemoveCheckLoop
	EvtAutoCallGapAbate
	EvtDigitIn
)

func (e EventID) String() string {
	switch e {
	case EvtCallStart:
		return "CALL_START"
	case EvtCallStopped:
		return "CALL_STOPPED"
	case EvtCallStartAck:
		return "CALL_START_ACK"
	case EvtCallStartNack:
		return "CALL_START_NACK"
	case EvtCallStartNackAck:
		return "CALL_START_NACK_ACK"
	case EvtCallStoppedAck:
		return "CALL_STOPPED_ACK"
	case EvtCallAnswered:
		return "CALL_ANSWERED"
	case EvtHeartbeat:
		return "HEARTBEAT"
	case EvtSystemRestart:
		return "SYSTEM_RESTART"
	case EvtSystemRestartAck:
		return "SYSTEM_RESTART_ACK"
	case EvtInsertCheckLoop:
		return "INSERT_CHECK_LOOP"
	case EvtRemoveCheckLoop:
		return "REMOVE_CHECK_LOOP"
	case EvtAutoCallGapAbate:
		return "AUTO_CALL_GAP_ABATE"
	case EvtDigitIn:
		return "DIGIT_IN"
	default:
		return fmt.Sprintf("EVENT(%d)", uint32(e))
	}
}

// Release causes (spec §6); both busy causes normalize to 17 before
// surfacing upstream.
const (
	CauseAllCktsBusy      = 34
	CauseCsupIDDblUse     = 98
	CauseUserBusy         = 17
	CauseNormalClearing   = 16
	CauseDestOutOfOrder   = 27
	CauseRecoveryOnTimer  = 102
)

// Event is one SS7-boost wire message: a fixed numeric header plus a set
// of variable-length string fields, per spec §6.
type Event struct {
	EventID      EventID
	CallSetupID  uint16
	Span         int32
	Chan         int32
	ReleaseCause int32
	TrunkGroup   int32
	HuntGroup    int32

	CallingNum   string
	CalledNum    string
	RDNIS        string
	CallingName  string
	Presentation int32
	Screening    int32
	Digits       string
}

const eventMagic uint32 = 0x53374253 // "S7BS"

// Encode serializes an event to the SS7-boost wire format: a fixed
// 38-byte numeric header followed by length-prefixed (uint16) strings in
// a fixed order.
func Encode(ev *Event) ([]byte, error) {
	var buf bytes.Buffer

	header := []any{
		eventMagic,
		uint32(ev.EventID),
		ev.CallSetupID,
		ev.Span,
		ev.Chan,
		ev.ReleaseCause,
		ev.TrunkGroup,
		ev.HuntGroup,
		ev.Presentation,
		ev.Screening,
	}
	for _, f := range header {
		if err := binary.Write(&buf, binary.BigEndian, f); err != nil {
			return nil, fmt.Errorf("boost: encode header: %w", err)
		}
	}

	strs := []string{ev.CallingNum, ev.CalledNum, ev.RDNIS, ev.CallingName, ev.Digits}
	for _, s := range strs {
		if len(s) > 0xFFFF {
			return nil, fmt.Errorf("boost: encode: field too long (%d bytes)", len(s))
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, fmt.Errorf("boost: encode string length: %w", err)
		}
		buf.WriteString(s)
	}

	return buf.Bytes(), nil
}

// Decode parses the wire format produced by Encode.
func Decode(data []byte) (*Event, error) {
	r := bytes.NewReader(data)

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("boost: decode magic: %w", err)
	}
	if magic != eventMagic {
		return nil, fmt.Errorf("boost: decode: bad magic %#x", magic)
	}

	ev := &Event{}
	var typ uint32
	fields := []any{
		&typ,
		&ev.CallSetupID,
		&ev.Span,
		&ev.Chan,
		&ev.ReleaseCause,
		&ev.TrunkGroup,
		&ev.HuntGroup,
		&ev.Presentation,
		&ev.Screening,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return nil, fmt.Errorf("boost: decode header: %w", err)
		}
	}
	ev.EventID = EventID(typ)

	strs := []*string{&ev.CallingNum, &ev.CalledNum, &ev.RDNIS, &ev.CallingName, &ev.Digits}
	for _, s := range strs {
		var n uint16
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("boost: decode string length: %w", err)
		}
		b := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r, b); err != nil {
				return nil, fmt.Errorf("boost: decode string body: %w", err)
			}
		}
		*s = string(b)
	}

	return ev, nil
}
