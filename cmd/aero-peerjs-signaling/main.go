package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/peerjs-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/peerjs-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/peerjs-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/peerjs-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/peerjs-signaling/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-peerjs-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"namespace_mode", cfg.NamespaceMode,
		"allowed_origins", cfg.AllowedOrigins,
		"ice_servers", len(cfg.ICEServers),
		"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"signaling_ws_ping_interval", cfg.SignalingWSPingInterval,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
	)
	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	if err := run(logger, cfg, ln); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg config.Config, ln net.Listener) error {
	m := metrics.New()
	hub := registry.NewHub()
	m.GaugeFunc("peers", "Identifiers currently seated, across all namespaces.", func() float64 {
		return float64(hub.Len())
	})
	m.GaugeFunc("namespaces", "Namespaces with at least one live connection.", func() float64 {
		return float64(hub.Namespaces())
	})

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, m)

	sig := signaling.NewServer(signaling.Config{
		Hub:                           hub,
		Metrics:                       m,
		Logger:                        logger,
		NamespaceFor:                  cfg.NamespaceFor,
		AllowedOrigins:                cfg.AllowedOrigins,
		SignalingWSIdleTimeout:        cfg.SignalingWSIdleTimeout,
		SignalingWSPingInterval:       cfg.SignalingWSPingInterval,
		MaxSignalingMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SignalingSendQueueLength:      cfg.SignalingSendQueueLength,
	})
	sig.RegisterRoutes(srv.Mux())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server shutdown failed", "err", err)
		}
		// Hijacked connections outlive Shutdown; end them explicitly.
		sig.Close()
		return nil
	})
	return g.Wait()
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// ldflags win; VCS stamps cover `go run` and dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return commit, buildTime
}
