package boost

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sebas/tdmsig/internal/logger"
)

const tickInterval = 10 * time.Millisecond

// Pump runs the SS7-boost signaling event pump (spec §4.4): it announces
// our own startup via SYSTEM_RESTART on the priority socket, then loops
// reading both sockets, draining the priority socket fully whenever a
// priority event is picked up (main-socket events are handled one per
// loop pass), and runs the state advancer once per tick. When both sockets
// have data ready, Go's select does not guarantee which is served first. It returns when ctx is canceled
// or either socket reports an exceptional condition.
func (e *Engine) Pump(ctx context.Context) error {
	mainCh := make(chan []byte, 32)
	prioCh := make(chan []byte, 32)
	errCh := make(chan error, 2)

	go readLoop(e.Conn.Main, mainCh, errCh)
	go readLoop(e.Conn.Priority, prioCh, errCh)

	if err := e.Conn.WritePriority(&Event{EventID: EvtSystemRestart}); err != nil {
		return fmt.Errorf("boost: send startup SYSTEM_RESTART: %w", err)
	}
	e.Restart.BeginRestart()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Conn.Close()
			return ctx.Err()

		case err := <-errCh:
			e.Conn.Close()
			return fmt.Errorf("boost: pump: %w", err)

		case b := <-prioCh:
			e.dispatchRaw(b)
			e.drainPriority(prioCh)

		case b := <-mainCh:
			e.dispatchRaw(b)

		case <-ticker.C:
			e.Restart.Tick(tickInterval, e.Span.Suspended())
			e.Advance()
		}
	}
}

// drainPriority empties the priority channel before the loop returns to
// servicing main, per spec §4.4 "read_priority is drained to empty per
// tick to preserve heartbeat latency".
func (e *Engine) drainPriority(prioCh <-chan []byte) {
	for {
		select {
		case b := <-prioCh:
			e.dispatchRaw(b)
		default:
			return
		}
	}
}

func (e *Engine) dispatchRaw(b []byte) {
	if err := e.Dispatch(b); err != nil {
		logger.Warn("boost: dispatch error", "err", err)
	}
}

func readLoop(conn *net.UDPConn, out chan<- []byte, errCh chan<- error) {
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			errCh <- err
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		out <- cp
	}
}
