package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"stalker/internal/compose"
	"stalker/internal/event"
	"stalker/internal/snapshot"
	logx "stalker/pkg/logx"
)

// SeedConfig tunes the profile fetch retries used to seed baselines.
type SeedConfig struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

func (c SeedConfig) withDefaults() SeedConfig {
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	return c
}

// Seed fetches every id's profile once and stores it as the baseline. It blocks until
// all fetches are done. Failures are logged and leave the subject without a baseline,
// so its first real profile update only seeds.
func (e *Engine) Seed(ctx context.Context, ids []string) int {
	seeded := 0
	for _, id := range ids {
		if err := e.seedOne(ctx, id); err == nil {
			seeded++
		}
	}
	e.log.Info("profile baselines seeded", logx.Int("seeded", seeded), logx.Int("requested", len(ids)))
	return seeded
}

func (e *Engine) seedOne(ctx context.Context, id string) error {
	if e.deps.Profiles == nil {
		return errors.New("no profile fetcher")
	}
	cfg := e.deps.Seed

	var p event.ProfileUpdated
	err := retry.Do(
		func() error {
			var err error
			p, err = e.deps.Profiles.FetchProfile(ctx, id)
			return err
		},
		retry.Attempts(cfg.Attempts),
		retry.Delay(cfg.Delay),
		retry.MaxDelay(cfg.MaxDelay),
		retry.Context(ctx),
		retry.MaxJitter(cfg.Delay),
		retry.OnRetry(func(n uint, err error) {
			e.log.Debug("retrying profile fetch", logx.String("subject", id), logx.Uint64("attempt", uint64(n)), logx.Err(err))
		}),
	)
	if err != nil {
		e.log.Warn("profile fetch failed; no baseline", logx.String("subject", id), logx.Err(err))
		return fmt.Errorf("seed %s: %w", id, err)
	}
	if !e.deps.Watch.Contains(id) {
		return nil
	}
	e.deps.Snapshots.Put(id, snapshot.New(p.Values))
	return nil
}

// Advise probes the fallback message source once and, when it is missing, sends a
// single advisory notification. It reports whether the source is available.
func (e *Engine) Advise(ctx context.Context) bool {
	if e.deps.Resolver != nil && e.deps.Resolver.Probe(ctx) {
		return true
	}
	e.log.Warn("fallback message log unavailable; deleted messages will not be reported")
	e.notify(ctx, compose.Advisory(
		"Message log unavailable",
		"Deleted messages cannot be reported until a message log is configured.",
		e.deps.AdvisoryURL,
	))
	return false
}
