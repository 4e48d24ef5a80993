/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * callserver - HTTP/WebSocket control server for loopback calls.
 */
package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/config"
	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/metrics"
	"github.com/maiguangyang/call_core/pkg/peer"
	"github.com/maiguangyang/call_core/pkg/server"
	"github.com/maiguangyang/call_core/pkg/utils"
)

func main() {
	configPath := flag.String("config", os.Getenv("CALLCORE_CONFIG"), "path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.ValidateServer()
	}
	if err != nil {
		fl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
		fl.Fatal().Err(err).Msg("Failed to load config")
	}

	var w io.Writer = os.Stdout
	if cfg.Log.Format == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	l := zerolog.New(w).Level(level).With().Timestamp().Logger()

	// library and pion logs share the same sink
	utils.GetLogger().SetOutput(w)
	utils.SetLevel(cfg.LogLevel())

	deviceCfg, err := cfg.SyntheticConfig()
	if err != nil {
		l.Fatal().Err(err).Msg("Invalid media config")
	}
	devices := media.NewSyntheticDevices(deviceCfg)

	substrate, err := peer.NewPionSubstrate(cfg.PionOptions()...)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to create peer substrate")
	}

	registry := call.NewRegistry(devices, substrate, substrate, cfg.CallOptions())

	var opts []server.Option
	opts = append(opts, server.WithPingPeriod(cfg.Server.PingPeriod))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		registry.SetObserver(m)
		m.StartSystemMetrics(cfg.Metrics.Interval)
		opts = append(opts, server.WithMetrics(m, cfg.Metrics.Path))
	}

	s := server.New(registry, l, opts...)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		l.Info().Str("addr", cfg.Server.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	s.Close()
	if m != nil {
		m.Stop()
	}
	l.Info().Msg("Server exited")
}
