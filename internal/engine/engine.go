// Package engine is the stalker pipeline: filter, resolve or detect, compose, notify.
//
// All state (watch set, snapshots, viewing channel, settings) is owned by an Engine
// value; nothing is package-level. Cheap checks run on the caller's goroutine. Work
// that may block on an external source (fallback resolution, subject lookups, profile
// fetches) runs on a worker pool, and watch membership is re-checked once it returns.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/samber/mo"

	"stalker/internal/compose"
	"stalker/internal/event"
	"stalker/internal/eventbus"
	"stalker/internal/fallback"
	"stalker/internal/snapshot"
	"stalker/internal/watchlist"
	logx "stalker/pkg/logx"
)

var ErrEmptyID = errors.New("empty subject id")

// Outcomes reported to the Observer besides the filter verdicts.
const (
	OutcomeNotified     = "notified"
	OutcomeNotifyFailed = "notify_failed"
	OutcomeUnresolved   = "unresolved"
	OutcomeUnchanged    = "unchanged"
	OutcomeSeeded       = "seeded"
	OutcomeUnwatched    = "unwatched_in_flight"
)

// Directory looks up display information for a subject.
type Directory interface {
	Lookup(ctx context.Context, id string) mo.Option[event.Subject]
}

// Forgetter is implemented by directories that cache lookups. The engine calls Forget
// when a subject's profile changes so later titles and icons are fresh.
type Forgetter interface {
	Forget(id string)
}

// ProfileFetcher fetches a subject's current profile.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, id string) (event.ProfileUpdated, error)
}

type Resolver interface {
	Resolve(ctx context.Context, channelID, messageID string) fallback.Resolved
	Probe(ctx context.Context) bool
}

type Notifier interface {
	Notify(ctx context.Context, n compose.Notification) error
}

// Observer receives one outcome per dispatched event (filter verdict or pipeline outcome).
type Observer interface {
	ObserveEvent(kind event.Kind, outcome string)
}

type Deps struct {
	Watch     *watchlist.Registry
	Snapshots *snapshot.Cache
	Resolver  Resolver
	Directory Directory
	Profiles  ProfileFetcher
	Notifier  Notifier
	Bus       eventbus.Bus
	Observer  Observer
	Log       logx.Logger

	// Workers sizes the pool for blocking lookups (default 4).
	Workers int
	// AdvisoryURL is linked from the missing-fallback advisory.
	AdvisoryURL string
	// Seed tunes profile seeding retries.
	Seed SeedConfig
	// OnWatchChange is called with the full sorted watch list after a command changed it.
	OnWatchChange func(ids []string)
}

type Engine struct {
	deps     Deps
	log      logx.Logger
	detector *snapshot.Detector

	mu       sync.RWMutex
	settings Settings
	viewing  string

	poolMu  sync.RWMutex
	pool    *workerpool.WorkerPool
	stopped bool
}

func New(deps Deps, settings Settings) *Engine {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Watch == nil {
		deps.Watch = watchlist.New()
	}
	if deps.Snapshots == nil {
		deps.Snapshots = snapshot.NewCache()
	}
	if deps.Workers <= 0 {
		deps.Workers = 4
	}
	if settings.BodyCharacterLimit < 0 {
		settings.BodyCharacterLimit = 0
	}
	deps.Seed = deps.Seed.withDefaults()
	return &Engine{
		deps:     deps,
		log:      deps.Log.With(logx.String("comp", "engine")),
		detector: snapshot.NewDetector(deps.Snapshots),
		settings: settings,
		pool:     workerpool.New(deps.Workers),
	}
}

func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

func (e *Engine) ApplySettings(s Settings) {
	if s.BodyCharacterLimit < 0 {
		s.BodyCharacterLimit = 0
	}
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
}

// SetViewing sets the channel the operator is looking at. Empty clears it.
func (e *Engine) SetViewing(channelID string) {
	e.mu.Lock()
	e.viewing = channelID
	e.mu.Unlock()
}

func (e *Engine) Viewing() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.viewing
}

func (e *Engine) filter() Filter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Filter{Settings: e.settings, Watch: e.deps.Watch, ViewingID: e.viewing}
}

func (e *Engine) composer() compose.Composer {
	s := e.Settings()
	return compose.New(compose.Options{IncludeBody: s.IncludeMessageBody, BodyLimit: s.BodyCharacterLimit})
}

// Run dispatches every event received on events until ctx is done or the channel closes.
// Bus events whose payload is not an event.Event are ignored.
func (e *Engine) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case be, ok := <-events:
			if !ok {
				return
			}
			if ev, ok := be.Data.(event.Event); ok {
				e.Dispatch(ctx, ev)
			}
		}
	}
}

// Dispatch routes one event through the pipeline. It never panics on bad input and
// returns once the synchronous part is done; blocking work continues on the pool.
func (e *Engine) Dispatch(ctx context.Context, ev event.Event) {
	switch v := ev.(type) {
	case event.MessageCreated:
		e.onMessageCreated(ctx, v)
	case event.MessageEdited:
		e.onMessageEdited(ctx, v)
	case event.MessageDeleted:
		e.onMessageDeleted(ctx, v)
	case event.TypingStarted:
		e.onTypingStarted(ctx, v)
	case event.ProfileUpdated:
		e.onProfileUpdated(ctx, v)
	case event.ThreadCreated:
		e.onThreadCreated(ctx, v)
	default:
		e.log.Debug("unsupported event dropped")
	}
}

func (e *Engine) onMessageCreated(ctx context.Context, ev event.MessageCreated) {
	kind := event.KindMessageCreated
	if ev.IsMemberJoin() {
		kind = event.KindMemberJoined
	}
	actor := ActorOf(ev)
	if !e.admit(kind, ev, actor) {
		return
	}
	c := e.composer()
	e.async(ctx, kind, actor.SubjectID, func(who event.Subject) (compose.Notification, bool) {
		if ev.IsMemberJoin() {
			return c.MemberJoined(ev, who), true
		}
		return c.MessageCreated(ev, who), true
	})
}

func (e *Engine) onMessageEdited(ctx context.Context, ev event.MessageEdited) {
	actor := ActorOf(ev)
	if !e.admit(ev.Kind(), ev, actor) {
		return
	}
	c := e.composer()
	e.async(ctx, ev.Kind(), actor.SubjectID, func(who event.Subject) (compose.Notification, bool) {
		return c.MessageEdited(ev, who), true
	})
}

func (e *Engine) onTypingStarted(ctx context.Context, ev event.TypingStarted) {
	actor := ActorOf(ev)
	if !e.admit(ev.Kind(), ev, actor) {
		return
	}
	c := e.composer()
	e.async(ctx, ev.Kind(), actor.SubjectID, func(who event.Subject) (compose.Notification, bool) {
		return c.TypingStarted(ev, who), true
	})
}

func (e *Engine) onThreadCreated(ctx context.Context, ev event.ThreadCreated) {
	actor := ActorOf(ev)
	if !e.admit(ev.Kind(), ev, actor) {
		return
	}
	c := e.composer()
	e.async(ctx, ev.Kind(), actor.SubjectID, func(who event.Subject) (compose.Notification, bool) {
		return c.ThreadCreated(ev, who)
	})
}

// onProfileUpdated detects changes synchronously so baselines follow dispatch order.
func (e *Engine) onProfileUpdated(ctx context.Context, ev event.ProfileUpdated) {
	actor := ActorOf(ev)
	if !e.admit(ev.Kind(), ev, actor) {
		return
	}
	changed, seeded := e.detector.Observe(ev.SubjectID, snapshot.New(ev.Values))
	if seeded {
		e.observe(ev.Kind(), OutcomeSeeded)
		return
	}
	if len(changed) == 0 {
		e.observe(ev.Kind(), OutcomeUnchanged)
		return
	}
	if f, ok := e.deps.Directory.(Forgetter); ok {
		f.Forget(ev.SubjectID)
	}
	c := e.composer()
	e.async(ctx, ev.Kind(), actor.SubjectID, func(who event.Subject) (compose.Notification, bool) {
		return c.ProfileUpdated(ev, who, changed)
	})
}

// onMessageDeleted resolves the message before the membership check, since only the
// resolved message knows its author.
func (e *Engine) onMessageDeleted(ctx context.Context, ev event.MessageDeleted) {
	kind := ev.Kind()
	f := e.filter()
	if err := ev.Validate(); err != nil {
		e.reject(kind, Malformed, err)
		return
	}
	// The event channel is the message channel; skip resolution when it is being viewed.
	if f.ViewingID != "" && ev.ChannelID == f.ViewingID {
		e.observe(kind, Viewing.String())
		return
	}
	if e.deps.Resolver == nil {
		e.log.Error("deleted message cannot be resolved: no resolver", logx.String("message_id", ev.ID))
		e.observe(kind, OutcomeUnresolved)
		return
	}
	c := e.composer()

	e.submit(func() {
		res := e.deps.Resolver.Resolve(ctx, ev.ChannelID, ev.ID)
		if !res.Found() {
			e.log.Error("deleted message not found in live store or fallback log",
				logx.String("channel_id", ev.ChannelID), logx.String("message_id", ev.ID))
			e.observe(kind, OutcomeUnresolved)
			return
		}
		actor := Actor{SubjectID: res.Message.AuthorID, ContextID: res.Message.ChannelID}
		if v := e.filter().Check(ev, actor); v != Accepted {
			e.observe(kind, v.String())
			return
		}
		who := e.subject(ctx, actor.SubjectID)
		if !e.deps.Watch.Contains(actor.SubjectID) {
			e.observe(kind, OutcomeUnwatched)
			return
		}
		if n, ok := c.MessageDeleted(ev, res, who); ok {
			e.notify(ctx, n)
		}
	})
}

// admit runs the filter and records rejections.
func (e *Engine) admit(kind event.Kind, ev event.Event, actor Actor) bool {
	v := e.filter().Check(ev, actor)
	if v == Accepted {
		return true
	}
	var err error
	if v == Malformed {
		err = ev.Validate()
	}
	e.reject(kind, v, err)
	return false
}

func (e *Engine) reject(kind event.Kind, v Verdict, err error) {
	if v == Malformed {
		e.log.Debug("malformed event ignored", logx.String("kind", string(kind)), logx.Err(err))
	}
	e.observe(kind, v.String())
}

// async looks the subject up on the pool, re-checks membership and composes.
func (e *Engine) async(ctx context.Context, kind event.Kind, subjectID string, build func(who event.Subject) (compose.Notification, bool)) {
	e.submit(func() {
		who := e.subject(ctx, subjectID)
		if !e.deps.Watch.Contains(subjectID) {
			e.observe(kind, OutcomeUnwatched)
			return
		}
		if n, ok := build(who); ok {
			e.notify(ctx, n)
		}
	})
}

func (e *Engine) submit(task func()) {
	e.poolMu.RLock()
	defer e.poolMu.RUnlock()
	if e.stopped {
		return
	}
	e.pool.Submit(task)
}

func (e *Engine) subject(ctx context.Context, id string) event.Subject {
	who := event.Subject{ID: id}
	if e.deps.Directory != nil {
		who = e.deps.Directory.Lookup(ctx, id).OrElse(who)
	}
	if who.ID == "" {
		who.ID = id
	}
	return who
}

func (e *Engine) notify(ctx context.Context, n compose.Notification) {
	if e.deps.Notifier == nil {
		return
	}
	if err := e.deps.Notifier.Notify(ctx, n); err != nil {
		e.log.Warn("notification not queued", logx.String("kind", string(n.Kind)), logx.Err(err))
		e.observe(n.Kind, OutcomeNotifyFailed)
		return
	}
	e.observe(n.Kind, OutcomeNotified)
}

func (e *Engine) observe(kind event.Kind, outcome string) {
	if e.deps.Observer != nil {
		e.deps.Observer.ObserveEvent(kind, outcome)
	}
}

// Stop stops accepting work and waits for in-flight lookups to finish.
func (e *Engine) Stop() {
	e.poolMu.Lock()
	if e.stopped {
		e.poolMu.Unlock()
		return
	}
	e.stopped = true
	e.poolMu.Unlock()
	e.pool.StopWait()
}

// Pending is the number of queued pool tasks.
func (e *Engine) Pending() int {
	return e.pool.WaitingQueueSize()
}
