package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/smartmeter_sim/internal/logging"
	meterSimulator "github.com/LeonardoBeccarini/smartmeter_sim/internal/meter-simulator"
	"github.com/LeonardoBeccarini/smartmeter_sim/pkg/mqttclient"
	"github.com/LeonardoBeccarini/smartmeter_sim/pkg/tlsutil"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	logger := logging.FromEnv(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		return 1
	}
	logging.BridgePaho(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := meterSimulator.NewMetrics(reg)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	source, err := meterSimulator.OpenCSV(cfg.Path, cfg.Loop)
	if err != nil {
		logger.Error("cannot open reading source", "err", err)
		return 1
	}
	defer source.Close()

	session, err := mqttclient.NewSession(mqttclient.SessionConfig{
		Endpoint: cfg.Endpoint,
		ClientID: cfg.SessionClientID(time.Now()),
		TLS: tlsutil.MTLSConfig{
			CAFile:   cfg.RootCA,
			CertFile: cfg.Cert,
			KeyFile:  cfg.Key,
		},
		ConnectRetries: cfg.ConnectRetries,
	}, logger)
	if err != nil {
		logger.Error("cannot build mqtt session", "err", err)
		return 1
	}
	if err := session.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info("interrupted before connecting")
			return 0
		}
		logger.Error("cannot connect", "err", err)
		return 1
	}

	publisher := mqttclient.NewPublisher(session, cfg.Topic)
	sim := meterSimulator.NewMeterSimulator(source, publisher, cfg.Delay(), logger, metrics)
	logger.Info("streaming readings", "path", cfg.Path, "topic", cfg.Topic, "delay", cfg.Delay(), "loop", cfg.Loop)
	if err := sim.Start(ctx); err != nil {
		logger.Error("meter simulator stopped", "err", err)
		return 1
	}
	return 0
}
