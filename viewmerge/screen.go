// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package viewmerge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tagflow-project/tagflow/classify"
	"github.com/tagflow-project/tagflow/mediator"
	"github.com/tagflow-project/tagflow/restapi"
)

// ScreenConfig configures a Screen.
type ScreenConfig struct {
	// Name identifies the screen in logs and in the claim table.
	// Required, unique among mounted screens.
	Name string

	// Classifier provides the event streams. Required.
	Classifier *classify.Classifier

	// Mediator provides scan notifications, the refresh broadcast,
	// and the scan slot. Required.
	Mediator *mediator.Mediator

	// Claims arbitrates scan handling across screens. Required when
	// Navigate is set.
	Claims *ClaimTable

	// Fetch runs the screen's authoritative query. Called on mount,
	// on every refresh broadcast, and on re-query fallbacks. Required.
	Fetch func(ctx context.Context) ([]restapi.Unit, error)

	// Navigate opens the registration flow for a claimed scan. Nil
	// for screens that do not react to scans.
	Navigate func(scan mediator.ScanDetected)

	// OnRowError reports a withdrawn row so the screen can surface
	// the failure. Optional.
	OnRowError func(key classify.NaturalKey, reason string)

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Screen is one mounted view: a merge engine fed by the event
// streams for as long as the screen is mounted, and nothing once it
// is not. All event handling happens between Mount and Unmount;
// Rows is safe to call at any time.
type Screen struct {
	name       string
	classifier *classify.Classifier
	mediator   *mediator.Mediator
	claims     *ClaimTable
	fetch      func(ctx context.Context) ([]restapi.Unit, error)
	navigate   func(scan mediator.ScanDetected)
	onRowError func(key classify.NaturalKey, reason string)
	logger     *slog.Logger

	merger *Merger

	mu      sync.Mutex
	mounted bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScreen creates an unmounted Screen.
func NewScreen(config ScreenConfig) (*Screen, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("viewmerge: Name is required")
	}
	if config.Classifier == nil {
		return nil, fmt.Errorf("viewmerge: Classifier is required")
	}
	if config.Mediator == nil {
		return nil, fmt.Errorf("viewmerge: Mediator is required")
	}
	if config.Fetch == nil {
		return nil, fmt.Errorf("viewmerge: Fetch is required")
	}
	if config.Navigate != nil && config.Claims == nil {
		return nil, fmt.Errorf("viewmerge: Claims is required when Navigate is set")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Screen{
		name:       config.Name,
		classifier: config.Classifier,
		mediator:   config.Mediator,
		claims:     config.Claims,
		fetch:      config.Fetch,
		navigate:   config.Navigate,
		onRowError: config.OnRowError,
		logger:     logger.With("screen", config.Name),
		merger:     NewMerger(),
	}, nil
}

// Rows returns the current merged view.
func (s *Screen) Rows() []Row { return s.merger.Rows() }

// Name returns the screen's name.
func (s *Screen) Name() string { return s.name }

// Mount subscribes the screen to the event streams, runs the initial
// query, and starts the reconciliation loop. Mounting a mounted
// screen is an error.
func (s *Screen) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return fmt.Errorf("viewmerge: screen %q already mounted", s.name)
	}

	runCtx, cancel := context.WithCancel(ctx)

	// Subscribe before the initial fetch so no event falls between
	// the query snapshot and the first loop iteration.
	predictive := s.classifier.Predictive().Subscribe()
	immediate := s.classifier.Immediate().Subscribe()
	confirmed := s.classifier.Confirmed().Subscribe()
	refresh := s.mediator.Refresh().Subscribe()
	scans := s.mediator.Scans().Subscribe()

	done := make(chan struct{})
	s.mounted = true
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	// The initial query runs outside the lock: Mounted and Unmount
	// must not stall behind a REST round-trip.
	s.refetch(runCtx)

	go func() {
		defer close(done)
		defer predictive.Cancel()
		defer immediate.Cancel()
		defer confirmed.Cancel()
		defer refresh.Cancel()
		defer scans.Cancel()

		for {
			select {
			case <-runCtx.Done():
				return
			case event, ok := <-predictive.C:
				if !ok {
					return
				}
				s.merger.ApplyPredictive(event)
			case event, ok := <-immediate.C:
				if !ok {
					return
				}
				s.merger.ApplyPredictive(event)
			case resolution, ok := <-confirmed.C:
				if !ok {
					return
				}
				s.handleResolution(runCtx, resolution)
			case _, ok := <-refresh.C:
				if !ok {
					return
				}
				s.refetch(runCtx)
			case scan, ok := <-scans.C:
				if !ok {
					return
				}
				s.handleScan(scan)
			}
		}
	}()
	return nil
}

// Unmount stops the reconciliation loop, waits for it to finish, and
// releases the screen's claims. Unmounting an unmounted screen is a
// no-op.
func (s *Screen) Unmount() {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	s.mounted = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	<-done
	if s.claims != nil {
		s.claims.ReleaseAll(s.name)
	}
}

// Mounted reports whether the screen is currently mounted.
func (s *Screen) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted
}

// ReleaseClaim gives up this screen's claim on a key once its flow
// for the key has finished.
func (s *Screen) ReleaseClaim(key classify.NaturalKey) {
	if s.claims != nil {
		s.claims.Release(key, s.name)
	}
}

// handleResolution folds an authoritative outcome into the view.
// Rollbacks additionally surface the failure reason; re-query
// fallbacks rerun the authoritative query.
func (s *Screen) handleResolution(ctx context.Context, resolution classify.Resolution) {
	switch resolution.Kind {
	case classify.KindRequery:
		s.refetch(ctx)
	case classify.KindRollback:
		s.merger.ApplyResolution(resolution)
		if s.onRowError != nil {
			s.onRowError(resolution.Key, resolution.Reason)
		}
	default:
		s.merger.ApplyResolution(resolution)
	}
}

// handleScan runs the scan claim protocol: claim the key, consume
// the slot, navigate. Losing the claim, or winning it after another
// consumer emptied the slot, both mean standing down.
func (s *Screen) handleScan(scan mediator.ScanDetected) {
	if s.navigate == nil {
		return
	}
	if !s.claims.TryClaim(scan.Key, s.name) {
		return
	}
	consumed := s.mediator.ConsumeScan()
	if consumed == nil {
		s.claims.Release(scan.Key, s.name)
		return
	}
	if consumed.Key != scan.Key {
		// A newer scan overwrote the slot before this notification
		// was handled. The claim must cover the scan actually
		// consumed, not the one that triggered us.
		s.claims.Release(scan.Key, s.name)
		if !s.claims.TryClaim(consumed.Key, s.name) {
			return
		}
	}
	s.logger.Info("handling scan", "key", consumed.Key, "scanner", consumed.ScannerID)
	s.navigate(*consumed)
}

// refetch reruns the authoritative query and replaces the page. A
// failed query keeps the current view; the next refresh broadcast
// retries it.
func (s *Screen) refetch(ctx context.Context) {
	units, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("authoritative query failed", "error", err)
		return
	}
	s.merger.ApplyPage(units)
}
