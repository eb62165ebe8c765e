// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

// Tagflow-console is the headless reconciliation core of an inventory
// console. It subscribes to the broker's push channels, classifies
// events into predictive and confirmed tiers, mediates optimistic
// REST mutations, and keeps a merged inventory view that it reports
// on every change.
//
// With --register-scans the console acts on hardware scans: it claims
// each scan, consumes the scan slot, and registers the scanned tag
// against the backend through the optimistic predict/confirm/cancel
// path. Without the flag it only observes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tagflow-project/tagflow/classify"
	"github.com/tagflow-project/tagflow/fanin"
	"github.com/tagflow-project/tagflow/lib/config"
	"github.com/tagflow-project/tagflow/mediator"
	"github.com/tagflow-project/tagflow/restapi"
	"github.com/tagflow-project/tagflow/viewmerge"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var scannerID string
	var registerScans bool
	var logLevel string

	flagSet := pflag.NewFlagSet("tagflow-console", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $TAGFLOW_CONFIG)")
	flagSet.StringVar(&scannerID, "scanner", "", "also subscribe to this scanner's dedicated channel")
	flagSet.BoolVar(&registerScans, "register-scans", false, "register scanned tags against the backend")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := fanin.NewZMQTransport(cfg.Push.BrokerEndpoint, logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	classifier := classify.New(classify.Config{
		PendingTTL:   cfg.PendingTTLDuration(),
		StreamBuffer: cfg.Reconcile.StreamBuffer,
		Logger:       logger,
	})
	defer classifier.Close()

	source, err := fanin.New(fanin.Config{
		Transport: transport,
		Sink:      classifier.Process,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	for _, channel := range []string{
		cfg.Push.Channels.HighPriority,
		cfg.Push.Channels.Broadcast,
		cfg.Push.Channels.Registration,
	} {
		source.Subscribe(channel)
	}
	if scannerID != "" {
		source.Subscribe(cfg.Push.Channels.ScannerPrefix + scannerID)
	}

	api, err := restapi.NewClient(restapi.ClientConfig{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeoutDuration()},
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	med, err := mediator.New(mediator.Config{
		Classifier:   classifier,
		API:          api,
		Logger:       logger,
		StreamBuffer: cfg.Reconcile.StreamBuffer,
	})
	if err != nil {
		return err
	}
	defer med.Close()

	errs := make(chan error, 3)
	go func() { errs <- source.Run(ctx) }()
	go func() { errs <- classifier.Run(ctx) }()
	go func() { errs <- med.Run(ctx) }()

	var navigate func(scan mediator.ScanDetected)
	if registerScans {
		navigate = func(scan mediator.ScanDetected) {
			// Registration is a REST round-trip; run it off the
			// screen's event loop.
			go func() {
				registerCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeoutDuration())
				defer cancel()
				err := med.RegisterViaScan(registerCtx, mediator.RegisterRequest{
					RFID:       string(scan.Key),
					ScannerID:  scan.ScannerID,
					LocationID: scan.LocationHint,
				})
				if err != nil {
					logger.Error("scan registration failed", "key", scan.Key, "error", err)
					return
				}
				logger.Info("scan registered", "key", scan.Key, "scanner", scan.ScannerID)
			}()
		}
	}

	screen, err := viewmerge.NewScreen(viewmerge.ScreenConfig{
		Name:       "console",
		Classifier: classifier,
		Mediator:   med,
		Claims:     viewmerge.NewClaimTable(),
		Fetch: func(ctx context.Context) ([]restapi.Unit, error) {
			page, err := api.SearchUnits(ctx, restapi.SearchRequest{
				Order:    "registeredAt desc",
				PageSize: cfg.API.PageSize,
			})
			if err != nil {
				return nil, err
			}
			return page.Results, nil
		},
		Navigate: navigate,
		OnRowError: func(key classify.NaturalKey, reason string) {
			logger.Warn("row withdrawn", "key", key, "reason", reason)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if err := screen.Mount(ctx); err != nil {
		return err
	}
	defer screen.Unmount()

	go reportView(ctx, logger, screen)

	logger.Info("console running",
		"broker", cfg.Push.BrokerEndpoint,
		"api", cfg.API.BaseURL,
		"environment", cfg.Environment,
	)
	<-ctx.Done()
	logger.Info("shutting down")

	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker error", "error", err)
		}
	}
	return nil
}

// reportView logs the merged view whenever its row count changes.
func reportView(ctx context.Context, logger *slog.Logger, screen *viewmerge.Screen) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows := screen.Rows()
			if len(rows) == last {
				continue
			}
			last = len(rows)
			inFlight := 0
			for _, row := range rows {
				if row.State != viewmerge.RowConfirmed {
					inFlight++
				}
			}
			logger.Info("view changed", "rows", len(rows), "in_flight", inFlight)
		}
	}
}

// newLogger builds the process logger at the requested level.
func newLogger(level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})), nil
}
