package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/sebas/tdmsig/internal/banner"
	"github.com/sebas/tdmsig/internal/boost"
	"github.com/sebas/tdmsig/internal/chantab"
	"github.com/sebas/tdmsig/internal/config"
	"github.com/sebas/tdmsig/internal/events"
	"github.com/sebas/tdmsig/internal/healthz"
	"github.com/sebas/tdmsig/internal/isdn"
	"github.com/sebas/tdmsig/internal/logger"
	"github.com/sebas/tdmsig/internal/spanengine"
	"github.com/sebas/tdmsig/internal/statemap"
)

// boostSpanID and isdnSpanID name the two demo spans this process brings up:
// one SS7-boost trunk and one ISDN PRI trunk, per spec §4.4's two dialects.
const (
	boostSpanID = 1
	isdnSpanID  = 2
	chanCount   = 24
	grpcAddr    = ":9090"
)

func main() {
	boostCfg, isdnCfg, err := config.Load(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger.Init(os.Stdout)
	logger.SetLevel(boostCfg.LogLevel)

	banner.Print("TDM Signaling Engine", []banner.ConfigLine{
		{Label: "boost remote", Value: fmt.Sprintf("%s:%d", boostCfg.RemoteIP, boostCfg.RemotePort)},
		{Label: "boost local", Value: fmt.Sprintf("%s:%d", boostCfg.LocalIP, boostCfg.LocalPort)},
		{Label: "isdn role", Value: isdnCfg.Role.String()},
		{Label: "isdn dialect", Value: isdnCfg.Dialect},
		{Label: "health/grpc", Value: grpcAddr},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := healthz.New()

	boostSpan, err := startBoostSpan(boostCfg, health)
	if err != nil {
		slog.Error("failed to start SS7-boost span", "error", err)
		os.Exit(1)
	}

	isdnSpan := startISDNSpan(isdnCfg, health)

	grpcSrv := grpc.NewServer()
	health.RegisterServer(grpcSrv)
	lis, err := newGRPCListener(grpcAddr)
	if err != nil {
		slog.Error("failed to bind health server", "addr", grpcAddr, "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return boostSpan.Run(gctx) })
	g.Go(func() error { return isdnSpan.Run(gctx) })
	g.Go(func() error { return grpcSrv.Serve(lis) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case <-gctx.Done():
		slog.Error("a span engine exited", "error", context.Cause(gctx))
	}

	cancel()
	grpcSrv.GracefulStop()
	health.Shutdown()

	if err := g.Wait(); err != nil {
		slog.Warn("shutdown completed with error", "error", err)
	}
	time.Sleep(100 * time.Millisecond)
}

func startBoostSpan(cfg config.BoostConfig, health *healthz.Registry) (*spanengine.Span, error) {
	conn, err := boost.Dial(cfg.LocalIP, cfg.LocalPort, cfg.RemoteIP, cfg.RemotePort)
	if err != nil {
		return nil, err
	}

	span := chantab.NewSpan(boostSpanID, chanCount, chantab.ChanTypeB, statemap.Default(), logSignalEvent)
	engine := boost.NewEngine(span, conn, statemap.Default())

	return &spanengine.Span{
		ID:           boostSpanID,
		SignalEngine: engine,
		DTMF:         spanengine.NoopDTMFPoll(20 * time.Millisecond),
		Health:       health,
	}, nil
}

func startISDNSpan(cfg config.ISDNConfig, health *healthz.Registry) *spanengine.Span {
	span := chantab.NewSpan(isdnSpanID, chanCount, chantab.ChanTypeB, statemap.Default(), logSignalEvent)
	engine := isdn.NewEngine(span, cfg.ToEngineConfig(), &pendingTransport{}, statemap.Default())

	// ISDN runs a single signaling thread per span (spec §5); no DTMF
	// poller is wired.
	return &spanengine.Span{
		ID:           isdnSpanID,
		SignalEngine: engine,
		Health:       health,
	}
}

func logSignalEvent(ev *events.SigEvent) error {
	slog.Info("signal event", "type", ev.EventType, "span", ev.SpanID, "channel", ev.ChanID)
	return nil
}

func newGRPCListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// pendingTransport stands in for the byte-level Q.921/Q.931 codec (an
// out-of-scope hardware collaborator): it blocks until shutdown rather
// than fabricating wire framing this process was never given a driver
// for. Swap in a real Transport once a D-channel codec is wired up.
type pendingTransport struct{}

func (pendingTransport) ReadMessage(ctx context.Context) (*isdn.Q931Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (pendingTransport) WriteMessage(msg *isdn.Q931Message) error {
	slog.Debug("isdn: discarding outbound message, no D-channel codec wired", "type", msg.Type)
	return nil
}
