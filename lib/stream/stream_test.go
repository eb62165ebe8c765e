// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"testing"
	"time"

	"github.com/tagflow-project/tagflow/lib/testutil"
)

func TestPublishFanOut(t *testing.T) {
	s := New[int](4)
	defer s.Close()

	first := s.Subscribe()
	second := s.Subscribe()

	s.Publish(1)
	s.Publish(2)

	for _, sub := range []*Subscription[int]{first, second} {
		if got := testutil.RequireReceive(t, sub.C, time.Second, "first value"); got != 1 {
			t.Errorf("first value = %d", got)
		}
		if got := testutil.RequireReceive(t, sub.C, time.Second, "second value"); got != 2 {
			t.Errorf("second value = %d", got)
		}
	}
}

func TestPublishOrderPerSubscriber(t *testing.T) {
	s := New[int](16)
	defer s.Close()
	sub := s.Subscribe()

	for i := 0; i < 10; i++ {
		s.Publish(i)
	}
	for i := 0; i < 10; i++ {
		if got := testutil.RequireReceive(t, sub.C, time.Second, "value %d", i); got != i {
			t.Fatalf("value = %d, want %d", got, i)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	s := New[int](2)
	defer s.Close()
	sub := s.Subscribe()

	s.Publish(1)
	s.Publish(2)
	s.Publish(3) // buffer full, dropped

	stats := s.Stats()
	if stats.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", stats.Dropped)
	}
	if got := testutil.RequireReceive(t, sub.C, time.Second, "retained value"); got != 1 {
		t.Errorf("first retained = %d", got)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	s := New[int](4)
	defer s.Close()

	sub := s.Subscribe()
	other := s.Subscribe()
	sub.Cancel()
	sub.Cancel() // idempotent

	s.Publish(7)
	if got := testutil.RequireReceive(t, other.C, time.Second, "live subscriber"); got != 7 {
		t.Errorf("live subscriber got %d", got)
	}
	// Cancelled channel is closed and empty.
	if _, ok := <-sub.C; ok {
		t.Error("cancelled subscription received a value")
	}
	if got := s.Stats().Subscribers; got != 1 {
		t.Errorf("subscriber count = %d, want 1", got)
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	s := New[string](4)
	sub := s.Subscribe()
	s.Close()
	s.Close() // idempotent

	if _, ok := <-sub.C; ok {
		t.Error("subscription open after Close")
	}

	// Publishing and subscribing after Close are harmless.
	s.Publish("late")
	late := s.Subscribe()
	if _, ok := <-late.C; ok {
		t.Error("post-close subscription received a value")
	}
}
