// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

// Tagflow-scanner-sim publishes synthetic RFID scan events in the
// broker's wire format: multipart ZeroMQ frames of [topic, msgpack
// body]. It stands in for a hardware scanner rig during development
// and load testing.
//
// Each event goes out on the scanner's dedicated channel; events
// promoted by --urgent-every additionally go out on the high-priority
// channel with the urgent flag set.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	zmq "github.com/pebbe/zmq4"
	"github.com/spf13/pflag"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tagflow-project/tagflow/classify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var endpoint string
	var scannerID string
	var interval time.Duration
	var count int
	var urgentEvery int

	flagSet := pflag.NewFlagSet("tagflow-scanner-sim", pflag.ContinueOnError)
	flagSet.StringVar(&endpoint, "endpoint", "tcp://*:5558", "PUB endpoint to bind")
	flagSet.StringVar(&scannerID, "scanner", "SIM-1", "scanner id reported in events")
	flagSet.DurationVar(&interval, "interval", 2*time.Second, "delay between scans")
	flagSet.IntVar(&count, "count", 0, "number of scans to emit (0 = until interrupted)")
	flagSet.IntVar(&urgentEvery, "urgent-every", 0, "promote every Nth scan to the urgent channel (0 = never)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return fmt.Errorf("creating PUB socket: %w", err)
	}
	defer socket.Close()
	if err := socket.Bind(endpoint); err != nil {
		return fmt.Errorf("binding PUB socket to %s: %w", endpoint, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Give late SUB connections a moment before the first event;
	// ZeroMQ drops messages published before the subscription lands.
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return nil
	}

	logger.Info("scanner simulator running",
		"endpoint", endpoint,
		"scanner", scannerID,
		"interval", interval,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	emitted := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping", "emitted", emitted)
			return nil
		case <-ticker.C:
		}

		emitted++
		urgent := urgentEvery > 0 && emitted%urgentEvery == 0
		tag := fmt.Sprintf("TAG-%04d-%s", rand.Intn(10000), uuid.NewString()[:8])

		if err := publishScan(socket, scannerID, tag, urgent); err != nil {
			logger.Error("publish failed", "tag", tag, "error", err)
			continue
		}
		logger.Info("scan emitted", "tag", tag, "urgent", urgent)

		if count > 0 && emitted >= count {
			logger.Info("done", "emitted", emitted)
			return nil
		}
	}
}

// publishScan sends one scan event, on the urgent channel as well
// when promoted.
func publishScan(socket *zmq.Socket, scannerID, tag string, urgent bool) error {
	action := classify.ActionScanDetected
	if urgent {
		action = classify.ActionScanDetectedUrgent
	}
	body, err := msgpack.Marshal(map[string]any{
		"action":    action,
		"rfid":      tag,
		"scannerId": scannerID,
		"urgent":    urgent,
		"_sentAt":   time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encoding scan body: %w", err)
	}

	topics := []string{"inventory.scanner." + scannerID}
	if urgent {
		topics = append(topics, "inventory.urgent")
	}
	for _, topic := range topics {
		if _, err := socket.SendMessage(topic, body); err != nil {
			return fmt.Errorf("sending on %s: %w", topic, err)
		}
	}
	return nil
}
