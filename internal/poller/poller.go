// Package poller periodically fetches the profiles of watched subjects.
//
// The gateway does not push profile changes for arbitrary users, so the poller turns
// each fetched profile into a ProfileUpdated event; the engine's change detector
// decides whether anything changed.
package poller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stalker/internal/event"
	logx "stalker/pkg/logx"
)

const DefaultSpec = "@every 10m"

type Config struct {
	Enabled  bool
	Spec     string
	Timezone string
	// Timeout bounds one full polling round.
	Timeout time.Duration
}

type Fetcher interface {
	FetchProfile(ctx context.Context, id string) (event.ProfileUpdated, error)
}

type Poller struct {
	fetch Fetcher
	ids   func() []string
	emit  func(event.Event)
	log   logx.Logger

	parser cron.Parser

	mu   sync.Mutex
	cfg  Config
	c    *cron.Cron
	base context.Context
}

// New returns a poller that fetches ids() on every tick and hands each profile to emit.
func New(cfg Config, fetch Fetcher, ids func() []string, emit func(event.Event), log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		cfg:    normalize(cfg),
		fetch:  fetch,
		ids:    ids,
		emit:   emit,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func normalize(cfg Config) Config {
	cfg.Spec = strings.TrimSpace(cfg.Spec)
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return cfg
}

// Validate reports whether spec parses.
func (p *Poller) Validate(spec string) error {
	if _, err := p.parser.Parse(spec); err != nil {
		return fmt.Errorf("profile poll spec %q: %w", spec, err)
	}
	return nil
}

// Start schedules polling. It is a no-op when disabled or already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = ctx
	if p.c != nil || !p.cfg.Enabled {
		return nil
	}
	return p.startLocked()
}

func (p *Poller) startLocked() error {
	sched, err := p.parser.Parse(p.cfg.Spec)
	if err != nil {
		return fmt.Errorf("profile poll spec %q: %w", p.cfg.Spec, err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(p.cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			p.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		}
	}

	c := cron.New(
		cron.WithParser(p.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{p.log}), cron.SkipIfStillRunning(cronLogger{p.log})),
	)
	base, timeout := p.base, p.cfg.Timeout
	c.Schedule(sched, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		p.PollOnce(ctx)
	}))
	c.Start()
	p.c = c
	p.log.Info("profile poller started", logx.String("spec", p.cfg.Spec), logx.String("tz", loc.String()))
	return nil
}

// Stop halts scheduling and waits for a running round to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	c := p.c
	p.c = nil
	p.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Apply swaps the config, restarting the schedule when it changed.
func (p *Poller) Apply(cfg Config) error {
	cfg = normalize(cfg)
	p.mu.Lock()
	old := p.cfg
	p.cfg = cfg
	running := p.c != nil
	base := p.base
	p.mu.Unlock()

	if old == cfg {
		return nil
	}
	if running {
		p.Stop()
	}
	if cfg.Enabled && base != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.c == nil {
			return p.startLocked()
		}
	}
	return nil
}

// PollOnce fetches every watched subject once and emits what it got. Failures are logged
// and skipped. It returns the number of profiles emitted.
func (p *Poller) PollOnce(ctx context.Context) int {
	if p.fetch == nil || p.ids == nil || p.emit == nil {
		return 0
	}
	emitted := 0
	for _, id := range p.ids() {
		if ctx.Err() != nil {
			break
		}
		prof, err := p.fetch.FetchProfile(ctx, id)
		if err != nil {
			p.log.Warn("profile poll failed", logx.String("subject", id), logx.Err(err))
			continue
		}
		if prof.SubjectID == "" {
			prof.SubjectID = id
		}
		p.emit(prof)
		emitted++
	}
	p.log.Debug("profile poll round done", logx.Int("emitted", emitted))
	return emitted
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", keysAndValues))
}
