// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/controller"
	"github.com/chunkdb/chunkdb/metrics"
	"github.com/chunkdb/chunkdb/transport"
	"github.com/chunkdb/chunkdb/web"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "controller.yaml", "path to the controller configuration file")
	flag.Parse()

	settings, err := cluster.LoadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := buildLogger(settings.LogLevel)
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		logger.Fatal("unable to register metrics", zap.Error(err))
	}

	tr := transport.New(transport.DefaultRequestTimeout, logger.Named("transport"))
	ctrl, err := controller.New(settings, tr, m, logger.Named("controller"))
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	tr.OnMessage(ctrl.HandleMessage)
	tr.OnConnectionLost(ctrl.HandleConnectionLost)
	if err := tr.Listen(fmt.Sprintf(":%d", settings.Port)); err != nil {
		logger.Fatal("unable to listen", zap.Uint16("port", settings.Port), zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := ctrl.Start(ctx); err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	logger.Info("controller started",
		zap.Stringer("self", ctrl.Self()),
		zap.Int("controllers", len(ctrl.ControllerSet())),
	)

	g, gctx := errgroup.WithContext(ctx)
	var websrv *web.Server
	if settings.WebInterfacePort != 0 {
		websrv = web.NewServer(ctrl, registry, logger.Named("web"))
		g.Go(func() error {
			return websrv.Run(fmt.Sprintf(":%d", settings.WebInterfacePort))
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-ctrl.Done():
		}
		ctrl.Stop()
		if websrv != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer shutdownCancel()
			_ = websrv.Shutdown(shutdownCtx)
		}
		tr.Close()
		return ctrl.Err()
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("controller terminated", zap.Error(err))
	}
	logger.Info("controller stopped")
}

func buildLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
