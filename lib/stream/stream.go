// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream provides a non-blocking fan-out broadcaster, the
// primitive behind the core's predictive/confirmed/immediate streams
// and the refresh broadcast.
//
// Each subscriber owns a buffered channel and receives published
// values in publish order. Publish never blocks: a subscriber whose
// buffer is full has the value dropped and counted, never queued
// without bound. Dropping is acceptable everywhere the core uses
// streams because the push layer is best-effort by contract and every
// consumer can recover authoritative state through a REST re-query.
//
// There is no ordering guarantee across subscribers or across
// streams, matching the delivery contract of the push channels
// themselves.
package stream

import "sync"

// Stream broadcasts values of type T to any number of subscribers.
// Safe for concurrent use; Subscribe and Cancel may race with Publish.
type Stream[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]chan T
	nextID      uint64
	buffer      int
	closed      bool
	published   uint64
	dropped     uint64
}

// DefaultBuffer is the per-subscriber channel capacity used when New
// is given a non-positive buffer size.
const DefaultBuffer = 64

// New creates a Stream whose subscribers each get a channel with the
// given capacity.
func New[T any](buffer int) *Stream[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Stream[T]{
		subscribers: make(map[uint64]chan T),
		buffer:      buffer,
	}
}

// Subscription is one subscriber's attachment to a Stream. Receive
// from C; call Cancel when done. Cancel closes C; values already
// buffered remain readable until drained.
type Subscription[T any] struct {
	// C delivers published values in publish order.
	C <-chan T

	cancelOnce sync.Once
	cancel     func()
}

// Cancel detaches the subscription. Idempotent. Values published
// after Cancel are not delivered.
func (s *Subscription[T]) Cancel() {
	s.cancelOnce.Do(s.cancel)
}

// Subscribe attaches a new subscriber. Subscribing to a closed Stream
// returns a subscription whose channel is already closed.
func (s *Stream[T]) Subscribe() *Subscription[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel := make(chan T, s.buffer)
	if s.closed {
		close(channel)
		return &Subscription[T]{C: channel, cancel: func() {}}
	}

	id := s.nextID
	s.nextID++
	s.subscribers[id] = channel

	return &Subscription[T]{
		C: channel,
		cancel: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if ch, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(ch)
			}
		},
	}
}

// Publish delivers v to every current subscriber without blocking.
// Subscribers with a full buffer miss the value (counted in Stats).
// Publishing to a closed Stream is a no-op.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.published++
	for _, channel := range s.subscribers {
		select {
		case channel <- v:
		default:
			s.dropped++
		}
	}
}

// Close detaches and closes every subscriber channel and marks the
// stream closed. Idempotent.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, channel := range s.subscribers {
		delete(s.subscribers, id)
		close(channel)
	}
}

// Stats is a snapshot of stream counters.
type Stats struct {
	// Published counts Publish calls.
	Published uint64
	// Dropped counts per-subscriber deliveries lost to full buffers.
	Dropped uint64
	// Subscribers is the current subscriber count.
	Subscribers int
}

// Stats returns a snapshot of the stream's counters.
func (s *Stream[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Published:   s.published,
		Dropped:     s.dropped,
		Subscribers: len(s.subscribers),
	}
}
