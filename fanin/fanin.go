// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package fanin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tagflow-project/tagflow/lib/clock"
)

// Message is one raw inbound push message as delivered by a Transport.
type Message struct {
	// Channel is the logical channel (topic) the message arrived on.
	Channel string

	// Body is the decoded message body.
	Body map[string]any
}

// Transport is the wire-level subscription layer. Implementations own
// reconnection: a dropped connection is re-established and channels
// re-subscribed transparently, and messages lost in between are NOT
// replayed. Receive blocks until a message arrives or ctx is done.
type Transport interface {
	Subscribe(channel string) error
	Unsubscribe(channel string) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Config configures a FanIn.
type Config struct {
	// Transport delivers raw messages. Required.
	Transport Transport

	// Sink receives every normalized envelope, in receive order.
	// Required. Called from the Run goroutine; must not block for
	// long.
	Sink func(Envelope)

	// Clock stamps envelope receive times. If nil, clock.Real() is
	// used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// FanIn presents N independently-addressable push subscriptions as one
// normalized envelope source. Safe for concurrent use.
type FanIn struct {
	transport Transport
	sink      func(Envelope)
	clock     clock.Clock
	logger    *slog.Logger

	mu            sync.Mutex
	subscriptions map[string]int // channel name -> refcount
}

// New creates a FanIn. Call Run to start pumping messages.
func New(config Config) (*FanIn, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("fanin: Transport is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("fanin: Sink is required")
	}
	timeSource := config.Clock
	if timeSource == nil {
		timeSource = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FanIn{
		transport:     config.Transport,
		sink:          config.Sink,
		clock:         timeSource,
		logger:        logger,
		subscriptions: make(map[string]int),
	}, nil
}

// Handle represents one consumer's interest in a channel. Release is
// idempotent: releasing an already-released handle is a no-op.
type Handle struct {
	fanIn   *FanIn
	channel string

	mu       sync.Mutex
	released bool
}

// Subscribe registers interest in a logical channel. Subscribing twice
// to the same channel name opens a single transport subscription; each
// call returns its own Handle and the transport subscription is
// released only when every handle has been released.
//
// Transport subscribe failures are logged, not returned: the channel
// is advisory, and the REST re-query path remains the authoritative
// backstop, so a consumer is never blocked from mounting by a push
// subscription failure.
func (f *FanIn) Subscribe(channel string) *Handle {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscriptions[channel]++
	if f.subscriptions[channel] == 1 {
		if err := f.transport.Subscribe(channel); err != nil {
			f.logger.Warn("push channel subscribe failed",
				"channel", channel,
				"error", err,
			)
		}
	}
	return &Handle{fanIn: f, channel: channel}
}

// Release drops this handle's interest. The transport subscription is
// closed when the last handle for the channel is released. Safe to
// call more than once.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()

	f := h.fanIn
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[h.channel]--
	if f.subscriptions[h.channel] <= 0 {
		delete(f.subscriptions, h.channel)
		if err := f.transport.Unsubscribe(h.channel); err != nil {
			f.logger.Warn("push channel unsubscribe failed",
				"channel", h.channel,
				"error", err,
			)
		}
	}
}

// SubscriberCount returns the number of live handles for a channel.
func (f *FanIn) SubscriberCount(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions[channel]
}

// Run pumps messages from the transport into the sink until ctx is
// done. Receive errors other than cancellation are logged and the
// loop continues: the transport reconnects on its own, and messages
// lost meanwhile are tolerated.
func (f *FanIn) Run(ctx context.Context) error {
	for {
		message, err := f.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("push receive failed", "error", err)
			continue
		}

		envelope := newEnvelope(message, f.clock.Now())
		f.logger.Debug("push envelope received",
			"channel", envelope.Channel,
			"action", envelope.Action,
			"latency", envelope.Latency(),
		)
		f.sink(envelope)
	}
}
