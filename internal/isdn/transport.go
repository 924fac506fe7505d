package isdn

import (
	"context"
	"errors"
)

// Transport is the out-of-scope D-channel collaborator: it reads one
// decoded Q.931 message at a time off the HDLC-framed D-channel and writes
// outbound ones, per spec §1 ("byte-level Q.921/Q.931 codecs" are named
// but not specified). ReadMessage must return ctx's error (deadline
// exceeded) on the pump's 100 ms wait timing out, per spec §4.4.
type Transport interface {
	ReadMessage(ctx context.Context) (*Q931Message, error)
	WriteMessage(msg *Q931Message) error
}

// ErrLinkDown is returned by Pump once ten consecutive reads have failed
// (spec §4.4 "on ten consecutive read failures, exit the loop").
var ErrLinkDown = errors.New("isdn: D-channel read failed ten times consecutively")
