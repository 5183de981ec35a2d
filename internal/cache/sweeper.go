package cache

import (
	"context"
	"time"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/log"
)

// Expirable is the subset of Cache the sweeper needs. Both namespace
// instantiations satisfy it regardless of their value type.
type Expirable interface {
	RemoveExpired() int
}

// Sweeper proactively removes expired entries from its registered caches
// on a fixed interval, independent of access patterns.
//
// The sweeper is constructed and owned explicitly by the process lifecycle:
// start it with Run under the application context and it stops when that
// context is canceled. Callers must track the goroutine with a WaitGroup.
type Sweeper struct {
	caches   []Expirable
	interval time.Duration
	logger   log.Logger
}

// NewSweeper creates a sweeper over the given caches with the default
// interval.
func NewSweeper(logger log.Logger, caches ...Expirable) *Sweeper {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Sweeper{
		caches:   caches,
		interval: SweepInterval,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled, sweeping all registered caches on each
// tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

// runOnce executes a single sweep cycle.
func (s *Sweeper) runOnce() {
	total := 0
	for _, c := range s.caches {
		total += c.RemoveExpired()
	}
	if total > 0 {
		s.logger.Debug("swept expired cache entries", "count", total)
	}
}
