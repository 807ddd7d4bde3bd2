// Copyright 2025 Procura Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Main entrypoint for Procura.
//
// Two run shapes are supported:
//   - Single-run (default): execute one scheduler or purchaser pass and
//     exit. This is the shape cron and scheduled-job runners invoke.
//   - Serve (--serve): run both passes on their configured intervals and
//     expose metrics and health probes until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nextdoor/procura/internal/purchaser"
	"github.com/nextdoor/procura/internal/scheduler"
	"github.com/nextdoor/procura/pkg/aws"
	"github.com/nextdoor/procura/pkg/config"
	"github.com/nextdoor/procura/pkg/metrics"
)

const (
	modeScheduler = "scheduler"
	modePurchaser = "purchaser"
)

func main() {
	var configFile string
	var mode string
	var serve bool
	flag.StringVar(&configFile, "config", "/etc/procura/config.yaml",
		"Path to the configuration file. Can be overridden with the PROCURA_CONFIG_PATH environment variable.")
	flag.StringVar(&mode, "mode", modeScheduler,
		"Which pass to run in single-run mode: scheduler or purchaser. Ignored with --serve.")
	flag.BoolVar(&serve, "serve", false,
		"Run both passes on their configured intervals and serve metrics and health probes.")
	flag.Parse()

	if envConfigPath := os.Getenv("PROCURA_CONFIG_PATH"); envConfigPath != "" {
		configFile = envConfigPath
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configFile, err)
		os.Exit(1)
	}

	log, flush, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()
	setupLog := log.WithName("setup")
	setupLog.Info("loaded configuration",
		"config-file", configFile,
		"strategy", cfg.Strategy.Variant,
		"target", cfg.CoverageTargetPercent,
		"cap", cfg.MaxCoverageCapPercent,
		"dry-run", cfg.DryRun)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsClient, err := aws.NewClient(ctx, aws.ClientConfig{
		DefaultRegion: cfg.DefaultRegion,
		QueueURL:      cfg.QueueURL,
		TopicARN:      cfg.TopicARN,
	})
	if err != nil {
		setupLog.Error(err, "unable to create AWS client")
		os.Exit(1)
	}
	setupLog.Info("created AWS client", "region", cfg.DefaultRegion)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	procuraMetrics := metrics.NewMetrics(registry)
	procuraMetrics.Running.Set(1)

	sched := &scheduler.Scheduler{
		AWSClient: awsClient,
		Config:    cfg,
		Metrics:   procuraMetrics,
		Log:       log.WithName("scheduler"),
	}
	purch := &purchaser.Purchaser{
		AWSClient: awsClient,
		Config:    cfg,
		Metrics:   procuraMetrics,
		Log:       log.WithName("purchaser"),
	}

	if serve {
		if err := runServe(ctx, cfg, awsClient, registry, sched, purch, log); err != nil {
			setupLog.Error(err, "serve mode failed")
			os.Exit(1)
		}
		return
	}

	switch mode {
	case modeScheduler:
		err = sched.Run(ctx)
	case modePurchaser:
		err = purch.Run(ctx)
	default:
		setupLog.Info("unknown mode", "mode", mode)
		os.Exit(2)
	}
	if err != nil {
		setupLog.Error(err, "run failed", "mode", mode)
		os.Exit(1)
	}
	setupLog.Info("run completed", "mode", mode)
}

// runServe runs both passes on interval timers and serves metrics and
// health probes until the context is canceled.
func runServe(
	ctx context.Context,
	cfg *config.Config,
	awsClient aws.Client,
	registry *prometheus.Registry,
	sched *scheduler.Scheduler,
	purch *purchaser.Purchaser,
	log logr.Logger,
) error {
	serveLog := log.WithName("serve")

	// Background credential checks back the readiness probe, so probe
	// traffic never fans out into AssumeRole calls.
	account := aws.AccountConfig{
		AccountID:     cfg.AccountID,
		AssumeRoleARN: cfg.AssumeRoleARN,
		Region:        cfg.DefaultRegion,
	}
	validator := aws.NewAccountValidator(awsClient)
	credMonitor := aws.NewCredentialMonitor(validator, account, 10*time.Minute, log.WithName("credential-monitor"))
	go credMonitor.Start(ctx)
	serveLog.Info("started credential monitor", "checkInterval", "10m")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsBindAddress, Handler: metricsMux}
	go func() {
		serveLog.Info("starting metrics server", "address", cfg.MetricsBindAddress)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveLog.Error(err, "metrics server stopped with error")
		}
	}()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	healthMux.Handle("/readyz", aws.NewHealthChecker("aws-account-access", credMonitor.Ready))
	healthServer := &http.Server{Addr: cfg.HealthProbeBindAddress, Handler: healthMux}
	go func() {
		serveLog.Info("starting health server", "address", cfg.HealthProbeBindAddress)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveLog.Error(err, "health server stopped with error")
		}
	}()

	// Interval loops. Run failures are logged and retried on the next
	// tick; the run itself already notified if configured.
	go runOnInterval(ctx, serveLog, "scheduler", cfg.GetSchedulerInterval(), sched.Run)
	go runOnInterval(ctx, serveLog, "purchaser", cfg.GetPurchaserInterval(), purch.Run)
	serveLog.Info("started interval runners",
		"schedulerInterval", cfg.GetSchedulerInterval().String(),
		"purchaserInterval", cfg.GetPurchaserInterval().String())

	<-ctx.Done()
	serveLog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	_ = healthServer.Shutdown(shutdownCtx)
	return nil
}

// runOnInterval runs fn every interval until ctx is canceled. The first
// run waits a full interval: serve mode is meant to pick up a cadence,
// not to fire purchases at every process restart.
func runOnInterval(ctx context.Context, log logr.Logger, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				log.Error(err, "interval run failed", "runner", name)
			}
		}
	}
}

// newLogger builds a zap-backed logr.Logger at the configured level.
func newLogger(level string) (logr.Logger, func(), error) {
	zapLevel := zapcore.InfoLevel
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapLog, err := zapCfg.Build()
	if err != nil {
		return logr.Logger{}, nil, err
	}
	return zapr.NewLogger(zapLog), func() { _ = zapLog.Sync() }, nil
}
