// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package fanin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/vmihailenco/msgpack/v5"
)

// pollInterval bounds how long Receive holds the socket before
// re-checking ctx and letting Subscribe/Unsubscribe in. ZeroMQ socket
// operations are not safe for concurrent use, so all access is
// serialized under one mutex and the receive loop must yield it
// periodically.
const pollInterval = 100 * time.Millisecond

// ZMQTransport is a Transport over a ZeroMQ SUB socket connected to
// the broker's XPUB endpoint. Each logical channel maps to one topic
// subscription; messages are multipart frames of [topic, msgpack body].
//
// Reconnection after a broken connection is handled inside ZeroMQ
// (the SUB socket re-connects and re-applies its subscriptions);
// messages published in the gap are lost, which the fan-in layer
// tolerates by design.
type ZMQTransport struct {
	mu     sync.Mutex
	socket *zmq.Socket
	poller *zmq.Poller
	logger *slog.Logger
	closed bool
}

// NewZMQTransport connects a SUB socket to the given endpoint (e.g.
// "tcp://broker:5558"). No topics are subscribed until Subscribe is
// called.
func NewZMQTransport(endpoint string, logger *slog.Logger) (*ZMQTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("fanin: creating SUB socket: %w", err)
	}
	if err := socket.Connect(endpoint); err != nil {
		socket.Close()
		return nil, fmt.Errorf("fanin: connecting SUB socket to %s: %w", endpoint, err)
	}

	poller := zmq.NewPoller()
	poller.Add(socket, zmq.POLLIN)

	return &ZMQTransport{
		socket: socket,
		poller: poller,
		logger: logger,
	}, nil
}

// Subscribe adds a topic subscription for the channel.
func (t *ZMQTransport) Subscribe(channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("fanin: transport closed")
	}
	if err := t.socket.SetSubscribe(channel); err != nil {
		return fmt.Errorf("fanin: subscribing to %q: %w", channel, err)
	}
	return nil
}

// Unsubscribe removes the topic subscription for the channel.
func (t *ZMQTransport) Unsubscribe(channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	if err := t.socket.SetUnsubscribe(channel); err != nil {
		return fmt.Errorf("fanin: unsubscribing from %q: %w", channel, err)
	}
	return nil
}

// Receive blocks until a well-formed message arrives or ctx is done.
// Malformed frames (missing body, undecodable msgpack) are logged and
// skipped rather than surfaced: one misbehaving publisher must not
// stall the fan-in loop.
func (t *ZMQTransport) Receive(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}

		frames, err := t.poll()
		if err != nil {
			return Message{}, err
		}
		if frames == nil {
			continue // poll timeout, re-check ctx
		}

		if len(frames) < 2 {
			t.logger.Warn("push frame missing body", "frames", len(frames))
			continue
		}
		topic := string(frames[0])

		var body map[string]any
		if err := msgpack.Unmarshal(frames[1], &body); err != nil {
			t.logger.Warn("push frame body undecodable",
				"channel", topic,
				"error", err,
			)
			continue
		}
		return Message{Channel: topic, Body: body}, nil
	}
}

// poll waits up to pollInterval for one multipart message. Returns
// (nil, nil) on timeout.
func (t *ZMQTransport) poll() ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("fanin: transport closed")
	}

	ready, err := t.poller.Poll(pollInterval)
	if err != nil {
		return nil, fmt.Errorf("fanin: polling SUB socket: %w", err)
	}
	if len(ready) == 0 {
		return nil, nil
	}
	frames, err := t.socket.RecvMessageBytes(0)
	if err != nil {
		return nil, fmt.Errorf("fanin: receiving frames: %w", err)
	}
	return frames, nil
}

// Close releases the socket. Receive calls in flight return an error.
func (t *ZMQTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.socket.Close()
}
