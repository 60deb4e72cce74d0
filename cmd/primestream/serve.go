package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/primestream/internal/server"
	"github.com/dgnsrekt/primestream/internal/stream"
	"github.com/dgnsrekt/primestream/internal/sync"
	"github.com/dgnsrekt/primestream/internal/ws"
)

func serveCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the stream over WebSocket, SSE and REST",
		Long: `Serve the prime stream.

Every WebSocket viewer gets its own engine synchronised to the shared clock.
The REST API answers cursor and primality lookups, and /sync/sse publishes
the clock position for cross-checking viewers.

Examples:
  primestream serve
  primestream serve --port 9090
  PRIMESTREAM_STREAM_VELOCITY=10 primestream serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				cfg.Server.Port = port
			}
			return runServer(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides server.port)")

	return cmd
}

func runServer(ctx context.Context) error {
	engineCfg, err := cfg.Stream.EngineConfig()
	if err != nil {
		return err
	}
	lookupOracle, err := stream.NewOracle(cfg.Server.Oracle)
	if err != nil {
		return err
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.Time("epoch", cfg.Stream.Epoch()),
		zap.Int64("velocity", cfg.Stream.Velocity),
		zap.Int("maxBufferSize", cfg.Stream.MaxBufferSize),
		zap.String("oracle", cfg.Stream.Oracle),
		zap.Bool("wsEnabled", cfg.WS.Enabled),
		zap.Bool("syncEnabled", cfg.Sync.Enabled),
	)

	// Cancelled on return to stop hubs and broadcasters
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var routes server.Routes
	var sessions server.SessionCounter

	if cfg.WS.Enabled {
		newEngine := func() *stream.Engine {
			return stream.NewEngine(engineCfg, logger.Named("engine"))
		}
		hub, err := ws.NewHub("stream", ws.HubConfig{
			MaxSessions: cfg.WS.MaxSessions,
			SendBuffer:  cfg.WS.SendBuffer,
			ViewLimit:   cfg.WS.ViewLimit,
		}, newEngine, logger)
		if err != nil {
			return fmt.Errorf("creating stream hub: %w", err)
		}
		go hub.Run(ctx)

		routes.Stream = hub.HandleStream
		routes.Negotiate = ws.NewNegotiateHandler(hub, engineCfg.Clock, logger).HandleNegotiate
		sessions = hub

		logger.Info("WebSocket enabled",
			zap.Int("maxSessions", cfg.WS.MaxSessions),
			zap.Duration("trickleInterval", engineCfg.TrickleInterval),
		)
	}

	if cfg.Sync.Enabled {
		broadcaster := sync.NewSyncBroadcaster(cfg.Sync.BroadcasterID, engineCfg.Clock, cfg.Sync.Interval, sessions, logger)
		go broadcaster.Run(ctx)
		routes.SyncSSE = broadcaster.HandleSSE
	}

	srv := server.NewServer(engineCfg.Clock, lookupOracle, sessions, cfg.Server.MaxPrevious, logger)
	router, err := server.NewRouter(srv, routes, cfg.Server.RatePerSecond, logger)
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	// Stop WebSocket sessions and the broadcaster before draining HTTP
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
