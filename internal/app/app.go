// Package app assembles the server process: configuration, the logging
// router, the hub and either the HTTP surface or the terminal viewer.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ebb-and-flow/server"
	"ebb-and-flow/server/internal/net"
	"ebb-and-flow/server/internal/telemetry"
	"ebb-and-flow/server/internal/viewer"
	"ebb-and-flow/server/logging"
	"ebb-and-flow/server/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

// Run wires everything together and blocks until the context ends, a signal
// arrives or the serving loop fails.
func Run(ctx context.Context) error {
	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}

	router, cleanup, err := buildRouter(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := router.Close(closeCtx); err != nil {
			log.Printf("logging shutdown: %v", err)
		}
		cleanup()
	}()

	metrics := &logging.Metrics{}
	hub := server.NewHub(cfg, router, metrics, telemetry.WrapLogger(log.Default()))

	if cfg.Viewer {
		return runViewer(ctx, hub)
	}
	return runServer(ctx, cfg, hub)
}

// buildRouter assembles the logging router from the configured sink names.
// The returned cleanup closes whatever files the sinks write to; it runs
// after the router has flushed.
func buildRouter(cfg server.Config) (*logging.Router, func(), error) {
	logCfg := logging.DefaultConfig()
	logCfg.EnabledSinks = cfg.LogSinks
	logCfg.MinimumSeverity = cfg.Severity()
	logCfg.Console.UseColor = cfg.LogColor
	logCfg.Fields = map[string]any{"service": "ebb-server"}

	named := make([]logging.NamedSink, 0, len(logCfg.EnabledSinks))
	cleanup := func() {}
	for _, name := range logCfg.EnabledSinks {
		switch name {
		case "console":
			named = append(named, logging.NamedSink{
				Name: name,
				Sink: sinks.NewConsoleSink(os.Stdout, logCfg.Console),
			})
		case "json":
			file, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("open log file: %w", err)
			}
			named = append(named, logging.NamedSink{
				Name: name,
				Sink: sinks.NewJSON(file, logCfg.JSON.FlushInterval),
			})
			closeFile := func() { _ = file.Close() }
			prev := cleanup
			cleanup = func() { prev(); closeFile() }
		case "memory":
			named = append(named, logging.NamedSink{Name: name, Sink: sinks.NewMemorySink()})
		default:
			cleanup()
			return nil, nil, fmt.Errorf("unknown log sink %q", name)
		}
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logCfg, named)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return router, cleanup, nil
}

func runServer(ctx context.Context, cfg server.Config, hub *server.Hub) error {
	stop := make(chan struct{})
	go hub.RunSimulation(stop)
	defer func() {
		close(stop)
		hub.Shutdown()
	}()

	handler := net.NewHandler(hub, net.HandlerConfig{Logger: telemetry.WrapLogger(log.Default())})
	srv := &nethttp.Server{Addr: cfg.ListenAddr, Handler: handler}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func runViewer(ctx context.Context, hub *server.Hub) error {
	stop := make(chan struct{})
	go hub.RunSimulation(stop)
	defer close(stop)
	return viewer.Run(ctx, hub)
}
