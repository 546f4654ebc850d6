// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package archive

import (
	"context"
	"fmt"
	"math/rand"
)

// Balancer fans reads out across multiple Readers backed by independent
// remote stores, so a single slow or unavailable archive mirror cannot
// stall catch-up. Mirrors ArchiveReaderBalancer from the reader this
// package is grounded on.
type Balancer struct {
	readers []*Reader
	rng     *rand.Rand
}

// NewBalancer wraps readers, which must be non-empty.
func NewBalancer(readers []*Reader, seed int64) (*Balancer, error) {
	if len(readers) == 0 {
		return nil, fmt.Errorf("archive: balancer requires at least one reader")
	}
	return &Balancer{readers: readers, rng: rand.New(rand.NewSource(seed))}, nil
}

// PickOneRandom returns a uniformly random reader among those whose
// manifest covers [start, end), for load-spreading reads that don't need
// a specific mirror.
func (b *Balancer) PickOneRandom(ctx context.Context, start, end uint64) (*Reader, error) {
	var candidates []*Reader
	for _, r := range b.readers {
		latest, err := r.LatestAvailableCheckpoint(ctx)
		if err != nil {
			continue
		}
		if latest >= end {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("archive: no reader covers range [%d, %d)", start, end)
	}
	return candidates[b.rng.Intn(len(candidates))], nil
}

// LatestAvailableCheckpoint returns the maximum checkpoint available across
// every reader, for driving catch-up progress independent of any one
// mirror's lag.
func (b *Balancer) LatestAvailableCheckpoint(ctx context.Context) (uint64, error) {
	var max uint64
	var found bool
	for _, r := range b.readers {
		latest, err := r.LatestAvailableCheckpoint(ctx)
		if err != nil {
			continue
		}
		if !found || latest > max {
			max, found = latest, true
		}
	}
	if !found {
		return 0, fmt.Errorf("archive: no reader reachable")
	}
	return max, nil
}

// PruningWatermark returns the minimum checkpoint available across every
// reader flagged UseForPruningWatermark, below which it is unsafe to prune
// local state: some archive mirror still depends on it being retrievable
// from elsewhere before it is asked to serve a range.
func (b *Balancer) PruningWatermark(ctx context.Context) (uint64, error) {
	var min uint64
	var found bool
	for _, r := range b.readers {
		if !r.UseForPruningWatermark() {
			continue
		}
		latest, err := r.LatestAvailableCheckpoint(ctx)
		if err != nil {
			return 0, fmt.Errorf("archive: pruning watermark reader %s unreachable: %w", r.Bucket(), err)
		}
		if !found || latest < min {
			min, found = latest, true
		}
	}
	if !found {
		return 0, fmt.Errorf("archive: no reader configured for pruning watermark")
	}
	return min, nil
}

// ReadRange picks a covering reader at random and applies [start, end) to
// target.
func (b *Balancer) ReadRange(ctx context.Context, start, end uint64, target ApplyTarget, skipVerify bool) error {
	r, err := b.PickOneRandom(ctx, start, end)
	if err != nil {
		return err
	}
	return r.ReadRange(ctx, start, end, target, skipVerify)
}
