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

	"github.com/LeonardoBeccarini/smartmeter_sim/internal/logging"
	"github.com/LeonardoBeccarini/smartmeter_sim/internal/services/collector"
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
	metrics := collector.NewMetrics(reg)

	session, err := mqttclient.NewSession(mqttclient.SessionConfig{
		Endpoint: cfg.Endpoint,
		ClientID: cfg.SessionClientID(time.Now()),
		TLS: tlsutil.MTLSConfig{
			CAFile:   cfg.RootCA,
			CertFile: cfg.Cert,
			KeyFile:  cfg.Key,
		},
		ConnectRetries: cfg.ConnectRetries,
		OnInterrupted: func(error) {
			metrics.ConnectionEvent("interrupted")
		},
		OnResumed: func(byte, bool) {
			metrics.ConnectionEvent("resumed")
		},
	}, logger)
	if err != nil {
		logger.Error("cannot build mqtt session", "err", err)
		return 1
	}

	opts := collector.Options{QueueSize: cfg.QueueSize, Policy: cfg.Policy()}
	if cfg.Influx.Enabled() {
		client, writeAPI := collector.NewInfluxClient(cfg.Influx)
		defer client.Close()
		opts.Mirror = collector.NewInfluxMirror(writeAPI, logger)
		logger.Info("mirroring readings to influx", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}

	consumer := mqttclient.NewConsumer(session, cfg.Topic, nil)
	svc := collector.NewService(consumer, collector.NewLog(cfg.Capacity), collector.NewFileWriter(cfg.LogFile),
		opts, logger, metrics)

	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           collector.NewHTTPMux(svc, session, reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server stopped", "err", err)
			}
		}()
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shCtx)
		}()
	}

	if err := session.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info("interrupted before connecting")
			return 0
		}
		logger.Error("cannot connect", "err", err)
		return 1
	}
	defer func() {
		if err := session.Disconnect(); err != nil {
			logger.Debug("disconnect", "err", err)
		}
	}()

	logger.Info("collecting readings", "topic", cfg.Topic, "log_file", cfg.LogFile,
		"capacity", cfg.Capacity, "policy", cfg.Policy())
	if err := svc.Start(ctx); err != nil {
		logger.Error("collector stopped", "err", err)
		return 1
	}
	logger.Info("collector: shutdown complete")
	return 0
}
