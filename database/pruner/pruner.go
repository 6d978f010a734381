// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package pruner removes superseded records from a version store according
// to a retention policy.
package pruner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xsoniclabs/statetrees/backend/versionstore"
	"github.com/ethereum/go-ethereum/log"
)

// Config defines the retry behavior and retention policy of a pruner.
type Config struct {
	// KeepLatest is the number of most recent versions kept readable by
	// periodic runs. Zero is treated as one.
	KeepLatest uint64
	// MaxRetries is the number of times a failed prune is repeated.
	MaxRetries int
	// RetryDelay is the delay before the first retry. It doubles for each
	// further retry.
	RetryDelay time.Duration
}

// DefaultConfig keeps the latest 128 versions and retries failed prunes
// three times.
var DefaultConfig = Config{
	KeepLatest: 128,
	MaxRetries: 3,
	RetryDelay: 100 * time.Millisecond,
}

// Pruner drives the pruning of a version store. Since interrupted prunes
// leave the store valid, failed attempts are simply repeated.
type Pruner struct {
	store  versionstore.Store
	config Config
	sleep  func(time.Duration)
}

func NewPruner(store versionstore.Store, config Config) *Pruner {
	return &Pruner{
		store:  store,
		config: config,
		sleep:  time.Sleep,
	}
}

// PruneUpTo removes all records not needed by versions at or after the
// given one. It returns the number of removed records, including those
// removed by failed attempts.
func (p *Pruner) PruneUpTo(version uint64) (uint64, error) {
	delay := p.config.RetryDelay
	total := uint64(0)
	var errs []error
	for attempt := 0; ; attempt++ {
		removed, err := p.store.PruneUpTo(version)
		total += removed
		if err == nil {
			log.Debug("Pruned versions", "cutoff", version, "removed", total, "attempts", attempt+1)
			return total, nil
		}
		errs = append(errs, err)
		if attempt >= p.config.MaxRetries {
			return total, fmt.Errorf("failed to prune up to version %d after %d attempts: %w", version, attempt+1, errors.Join(errs...))
		}
		log.Warn("Prune failed, retrying", "cutoff", version, "attempt", attempt+1, "delay", delay, "err", err)
		p.sleep(delay)
		delay *= 2
	}
}

// KeepLatest prunes all versions except the latest n ones. If fewer
// versions exist, nothing is pruned.
func (p *Pruner) KeepLatest(n uint64) (uint64, error) {
	n = max(n, 1)
	latest, _, found, err := p.store.LatestVersion()
	if err != nil {
		return 0, fmt.Errorf("failed to read latest version: %w", err)
	}
	if !found || latest < n {
		return 0, nil
	}
	return p.PruneUpTo(latest - n + 1)
}

// Run prunes the store according to the configured retention every
// interval until the context is cancelled. Failed runs are logged and
// repeated with the next tick.
func (p *Pruner) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("Pruner started", "interval", interval, "keep", p.config.KeepLatest)
	for {
		select {
		case <-ctx.Done():
			log.Info("Pruner stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.KeepLatest(p.config.KeepLatest); err != nil {
				log.Error("Periodic prune failed", "err", err)
			}
		}
	}
}
