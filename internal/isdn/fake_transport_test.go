package isdn

import (
	"context"
	"errors"
	"sync"
)

var errReadFailed = errors.New("isdn: simulated D-channel read failure")

// fakeTransport is a test double for Transport: WriteMessage records what
// the engine sent, ReadMessage pops a queued inbound message or blocks
// until ctx is done (surfacing ctx.Err(), matching a real D-channel's
// poll-timeout contract).
type fakeTransport struct {
	mu      sync.Mutex
	written []*Q931Message
	inbound chan *Q931Message
	errMode bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan *Q931Message, 16)}
}

func (f *fakeTransport) WriteMessage(msg *Q931Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, msg)
	return nil
}

func (f *fakeTransport) ReadMessage(ctx context.Context) (*Q931Message, error) {
	f.mu.Lock()
	errMode := f.errMode
	f.mu.Unlock()
	if errMode {
		return nil, errReadFailed
	}
	select {
	case msg := <-f.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) setErrMode(v bool) {
	f.mu.Lock()
	f.errMode = v
	f.mu.Unlock()
}

func (f *fakeTransport) last() *Q931Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.written) == 0 {
		return nil
	}
	return f.written[len(f.written)-1]
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}
