package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stalker/internal/compose"
	"stalker/internal/event"
	"stalker/internal/fallback"
	"stalker/internal/snapshot"
	"stalker/internal/watchlist"
	logx "stalker/pkg/logx"
)

type fakeNotifier struct {
	mu  sync.Mutex
	got []compose.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n compose.Notification) error {
	f.mu.Lock()
	f.got = append(f.got, n)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) all() []compose.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]compose.Notification(nil), f.got...)
}

type fakeObserver struct {
	mu  sync.Mutex
	got map[string]int
}

func (f *fakeObserver) ObserveEvent(kind event.Kind, outcome string) {
	f.mu.Lock()
	if f.got == nil {
		f.got = map[string]int{}
	}
	f.got[string(kind)+"/"+outcome]++
	f.mu.Unlock()
}

func (f *fakeObserver) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[key]
}

type dirStub map[string]event.Subject

func (d dirStub) Lookup(_ context.Context, id string) mo.Option[event.Subject] {
	if s, ok := d[id]; ok {
		return mo.Some(s)
	}
	return mo.None[event.Subject]()
}

// blockingDir holds every lookup until release is closed.
type blockingDir struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingDir) Lookup(context.Context, string) mo.Option[event.Subject] {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return mo.Some(event.Subject{ID: "U1", DisplayName: "Alice"})
}

type profileStub struct {
	values map[string]map[string]string
	err    error
}

func (p profileStub) FetchProfile(_ context.Context, id string) (event.ProfileUpdated, error) {
	if p.err != nil {
		return event.ProfileUpdated{}, p.err
	}
	return event.ProfileUpdated{SubjectID: id, Values: p.values[id]}, nil
}

type liveStub map[string]event.Message

func (l liveStub) Message(_, id string) (event.Message, bool) {
	m, ok := l[id]
	return m, ok
}

type logStub map[string]event.Message

func (l logStub) Lookup(_ context.Context, id string) (event.Message, bool, error) {
	m, ok := l[id]
	return m, ok, nil
}

type harness struct {
	eng      *Engine
	notes    *fakeNotifier
	observed *fakeObserver
}

func newHarness(t *testing.T, deps Deps, settings Settings) *harness {
	t.Helper()
	h := &harness{notes: &fakeNotifier{}, observed: &fakeObserver{}}
	if deps.Watch == nil {
		deps.Watch = watchlist.New("U1")
	}
	if deps.Directory == nil {
		deps.Directory = dirStub{"U1": {ID: "U1", DisplayName: "Alice"}}
	}
	deps.Notifier = h.notes
	deps.Observer = h.observed
	deps.Log = logx.Nop()
	deps.Seed = SeedConfig{Attempts: 1, Delay: time.Millisecond, MaxDelay: time.Millisecond}
	h.eng = New(deps, settings)
	t.Cleanup(h.eng.Stop)
	return h
}

// drain waits for pool work and returns what was notified.
func (h *harness) drain() []compose.Notification {
	h.eng.Stop()
	return h.notes.all()
}

func created(author, channel, content string) event.MessageCreated {
	return event.MessageCreated{GuildID: "G1", Message: &event.Message{ID: "M1", ChannelID: channel, AuthorID: author, Content: content}}
}

func profile(id string, values map[string]string) event.ProfileUpdated {
	return event.ProfileUpdated{SubjectID: id, Values: values}
}

func TestWatchUnwatchCommands(t *testing.T) {
	h := newHarness(t, Deps{Watch: watchlist.New()}, DefaultSettings())
	ctx := context.Background()

	msg, err := h.eng.Watch(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "Stalking Alice", msg)
	_, _ = h.eng.Watch(ctx, "U1")
	assert.Equal(t, []string{"U1"}, h.eng.deps.Watch.IDs())

	msg, err = h.eng.Unwatch(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "Stopped stalking Alice", msg)
	assert.False(t, h.eng.deps.Watch.Contains("U1"))

	_, err = h.eng.Unwatch(ctx, "U1")
	assert.NoError(t, err)

	_, err = h.eng.Watch(ctx, "  ")
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestWatchPersistsAndSeeds(t *testing.T) {
	var persisted []string
	cache := snapshot.NewCache()
	h := newHarness(t, Deps{
		Watch:         watchlist.New(),
		Snapshots:     cache,
		Profiles:      profileStub{values: map[string]map[string]string{"U2": {"bio": "hi"}}},
		OnWatchChange: func(ids []string) { persisted = ids },
	}, DefaultSettings())

	msg, err := h.eng.Watch(context.Background(), "U2")
	require.NoError(t, err)
	assert.Equal(t, "Stalking U2", msg, "unknown subjects fall back to their id")
	assert.Equal(t, []string{"U2"}, persisted)

	h.drain()
	base, ok := cache.Get("U2").Get()
	require.True(t, ok)
	assert.Equal(t, "hi", base.Get(snapshot.AttrBio))
}

func TestUnwatchForgetsBaseline(t *testing.T) {
	cache := snapshot.NewCache()
	h := newHarness(t, Deps{Snapshots: cache}, DefaultSettings())
	ctx := context.Background()

	h.eng.Dispatch(ctx, profile("U1", map[string]string{"bio": "a"}))
	require.Equal(t, 1, cache.Len())

	_, _ = h.eng.Unwatch(ctx, "U1")
	assert.Zero(t, cache.Len())
	_, _ = h.eng.Watch(ctx, "U1")

	h.eng.Dispatch(ctx, profile("U1", map[string]string{"bio": "b"}))
	assert.Empty(t, h.drain(), "re-watching starts from a fresh baseline")
}

func TestProfileFirstSightNeverNotifies(t *testing.T) {
	h := newHarness(t, Deps{}, DefaultSettings())
	ctx := context.Background()

	h.eng.Dispatch(ctx, profile("U1", map[string]string{"bio": "a", "avatar": "x"}))
	h.eng.Dispatch(ctx, profile("U1", map[string]string{"bio": "a", "avatar": "x"}))
	h.eng.Dispatch(ctx, profile("U1", map[string]string{"bio": "b", "avatar": "y", "presence": "online"}))
	h.eng.Dispatch(ctx, profile("U1", map[string]string{"bio": "b", "avatar": "y", "presence": "idle"}))

	got := h.drain()
	require.Len(t, got, 1)
	assert.Equal(t, "Alice updated their profile!", got[0].Title)
	assert.Equal(t, "Updated properties: avatar, bio.", got[0].Body)
	assert.Equal(t, 1, h.observed.count("profile.updated/seeded"))
	assert.Equal(t, 2, h.observed.count("profile.updated/unchanged"))
}

// forgettingDir is a caching directory: it keeps serving the first name it saw until forgotten.
type forgettingDir struct {
	mu        sync.Mutex
	names     map[string]string
	forgotten []string
}

func (d *forgettingDir) Lookup(_ context.Context, id string) mo.Option[event.Subject] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return mo.Some(event.Subject{ID: id, DisplayName: d.names[id]})
}

func (d *forgettingDir) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forgotten = append(d.forgotten, id)
	d.names[id] = ""
}

func TestProfileRenameUsesNewName(t *testing.T) {
	dir := &forgettingDir{names: map[string]string{"U1": "Alice"}}
	h := newHarness(t, Deps{Directory: dir}, DefaultSettings())
	ctx := context.Background()

	h.eng.Dispatch(ctx, event.ProfileUpdated{SubjectID: "U1", DisplayName: "Alice", Values: map[string]string{"global_name": "Alice"}})
	h.eng.Dispatch(ctx, event.ProfileUpdated{SubjectID: "U1", DisplayName: "Bob", Values: map[string]string{"global_name": "Bob"}})

	got := h.drain()
	require.Len(t, got, 1)
	assert.Equal(t, "Bob updated their profile!", got[0].Title)
	assert.Equal(t, "Updated properties: global_name.", got[0].Body)

	dir.mu.Lock()
	defer dir.mu.Unlock()
	assert.Equal(t, []string{"U1"}, dir.forgotten)
}

func TestSeedFailureLeavesNoBaseline(t *testing.T) {
	h := newHarness(t, Deps{Profiles: profileStub{err: errors.New("rate limited")}}, DefaultSettings())
	ctx := context.Background()

	assert.Zero(t, h.eng.Seed(ctx, []string{"U1"}))
	h.eng.Dispatch(ctx, profile("U1", map[string]string{"bio": "new"}))
	assert.Empty(t, h.drain())
}

func TestSeedThenChangeNotifies(t *testing.T) {
	h := newHarness(t, Deps{Profiles: profileStub{values: map[string]map[string]string{"U1": {"bio": "old"}}}}, DefaultSettings())
	ctx := context.Background()

	assert.Equal(t, 1, h.eng.Seed(ctx, []string{"U1"}))
	h.eng.Dispatch(ctx, profile("U1", map[string]string{"bio": "new"}))
	got := h.drain()
	require.Len(t, got, 1)
	assert.Equal(t, "Updated properties: bio.", got[0].Body)
}

func TestMessageBodyTruncation(t *testing.T) {
	s := DefaultSettings()
	s.IncludeMessageBody = true
	s.BodyCharacterLimit = 10
	h := newHarness(t, Deps{}, s)

	h.eng.Dispatch(context.Background(), created("U1", "C1", "hello world"))
	got := h.drain()
	require.Len(t, got, 1)
	assert.Equal(t, "hello worl...", got[0].Body)
	assert.Equal(t, "Alice sent a message", got[0].Title)
}

func TestMessageBodyUnlimited(t *testing.T) {
	s := DefaultSettings()
	s.IncludeMessageBody = true
	s.BodyCharacterLimit = 0
	h := newHarness(t, Deps{}, s)

	h.eng.Dispatch(context.Background(), created("U1", "C1", "hello world"))
	got := h.drain()
	require.Len(t, got, 1)
	assert.Equal(t, "hello world", got[0].Body)
}

func TestSelfSuppression(t *testing.T) {
	h := newHarness(t, Deps{}, DefaultSettings())
	ctx := context.Background()
	h.eng.Focus("C1")

	h.eng.Dispatch(ctx, created("U1", "C1", "hi"))
	h.eng.Dispatch(ctx, event.TypingStarted{ChannelID: "C1", UserID: "U1"})
	h.eng.Dispatch(ctx, event.MessageDeleted{GuildID: "G1", ChannelID: "C1", ID: "M1"})

	assert.Empty(t, h.drain())
	assert.Equal(t, 1, h.observed.count("message.created/viewing"))
	assert.Equal(t, 1, h.observed.count("typing.started/viewing"))
	assert.Equal(t, 1, h.observed.count("message.deleted/viewing"))
}

func TestMemberJoinSubKind(t *testing.T) {
	h := newHarness(t, Deps{}, DefaultSettings())
	ev := created("U1", "C1", "")
	ev.Message.Type = event.MessageTypeMemberJoin

	h.eng.Dispatch(context.Background(), ev)
	got := h.drain()
	require.Len(t, got, 1)
	assert.Equal(t, event.KindMemberJoined, got[0].Kind)
	assert.Equal(t, "Alice joined a server", got[0].Title)
}

func TestDeleteResolvedFromFallback(t *testing.T) {
	resolver := fallback.NewResolver(liveStub{}, func(context.Context) (fallback.Provider, error) {
		return logStub{"M1": {ID: "M1", ChannelID: "C1", AuthorID: "U1", Content: "secret plan"}}, nil
	}, logx.Nop())
	h := newHarness(t, Deps{Resolver: resolver}, DefaultSettings())

	h.eng.Dispatch(context.Background(), event.MessageDeleted{ChannelID: "C1", ID: "M1", GuildID: "G1"})

	got := h.drain()
	require.Len(t, got, 1)
	assert.Equal(t, "secret plan", got[0].Body)
	assert.Equal(t, "Alice deleted a message!", got[0].Title)
	assert.Equal(t, "G1", got[0].Target.GuildID)
	assert.Equal(t, "C1", got[0].Target.ChannelID)
	assert.Equal(t, "M1", got[0].Target.MessageID)
}

func TestDeleteUnresolvedOrUnwatched(t *testing.T) {
	resolver := fallback.NewResolver(liveStub{"M2": {ID: "M2", ChannelID: "C1", AuthorID: "U9", Content: "x"}}, nil, logx.Nop())
	h := newHarness(t, Deps{Resolver: resolver}, DefaultSettings())
	ctx := context.Background()

	h.eng.Dispatch(ctx, event.MessageDeleted{ChannelID: "C1", ID: "M1", GuildID: "G1"})
	h.eng.Dispatch(ctx, event.MessageDeleted{ChannelID: "C1", ID: "M2", GuildID: "G1"})
	h.eng.Dispatch(ctx, event.MessageDeleted{ChannelID: "C1", ID: "M3"})

	assert.Empty(t, h.drain())
	assert.Equal(t, 1, h.observed.count("message.deleted/unresolved"))
	assert.Equal(t, 1, h.observed.count("message.deleted/not_watched"))
	assert.Equal(t, 1, h.observed.count("message.deleted/malformed"))
}

func TestUnwatchRaceDropsPendingNotification(t *testing.T) {
	dir := &blockingDir{started: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, Deps{Directory: dir}, DefaultSettings())
	ctx := context.Background()

	h.eng.Dispatch(ctx, created("U1", "C1", "hi"))
	select {
	case <-dir.started:
	case <-time.After(2 * time.Second):
		t.Fatal("lookup never started")
	}

	h.eng.deps.Watch.Remove("U1")
	close(dir.release)

	assert.Empty(t, h.drain())
	assert.Equal(t, 1, h.observed.count("message.created/"+OutcomeUnwatched))
}

func TestDisabledKindsAndStaleThreads(t *testing.T) {
	s := DefaultSettings()
	s.TrackTypingStarted = false
	h := newHarness(t, Deps{}, s)
	ctx := context.Background()
	thread := &event.Thread{ID: "T1", GuildID: "G1", ParentID: "C1", OwnerID: "U1"}

	h.eng.Dispatch(ctx, event.TypingStarted{ChannelID: "C1", UserID: "U1"})
	h.eng.Dispatch(ctx, event.ThreadCreated{Thread: thread})
	h.eng.Dispatch(ctx, event.ThreadCreated{Thread: thread, NewlyCreated: true})

	got := h.drain()
	require.Len(t, got, 1)
	assert.Equal(t, "New thread created by Alice", got[0].Title)
	assert.Equal(t, 1, h.observed.count("typing.started/disabled"))
	assert.Equal(t, 1, h.observed.count("thread.created/stale"))
}

func TestMalformedEventsDoNotStopDispatch(t *testing.T) {
	h := newHarness(t, Deps{}, DefaultSettings())
	ctx := context.Background()

	h.eng.Dispatch(ctx, event.MessageCreated{})
	h.eng.Dispatch(ctx, event.ThreadCreated{})
	h.eng.Dispatch(ctx, nil)
	h.eng.Dispatch(ctx, created("U1", "C1", "still alive"))

	assert.Len(t, h.drain(), 1)
	assert.Equal(t, 1, h.observed.count("message.created/malformed"))
}

func TestAdviseWhenFallbackMissing(t *testing.T) {
	missing := fallback.NewResolver(nil, func(context.Context) (fallback.Provider, error) {
		return nil, fallback.ErrUnavailable
	}, logx.Nop())
	h := newHarness(t, Deps{Resolver: missing, AdvisoryURL: "https://example.org/msglog"}, DefaultSettings())

	assert.False(t, h.eng.Advise(context.Background()))
	got := h.drain()
	require.Len(t, got, 1)
	assert.Equal(t, compose.KindAdvisory, got[0].Kind)
	assert.Equal(t, "https://example.org/msglog", got[0].Target.URL)
}

func TestReconcileWatchlist(t *testing.T) {
	cache := snapshot.NewCache()
	cache.Put("U1", snapshot.New(map[string]string{"bio": "x"}))
	h := newHarness(t, Deps{Snapshots: cache}, DefaultSettings())

	h.eng.ReconcileWatchlist(context.Background(), []string{"U2", "U3"})
	h.drain()

	assert.Equal(t, []string{"U2", "U3"}, h.eng.deps.Watch.IDs())
	assert.False(t, cache.Get("U1").IsPresent())
}

func TestApplySettingsAffectsNextEvent(t *testing.T) {
	h := newHarness(t, Deps{}, DefaultSettings())
	s := DefaultSettings()
	s.TrackSentMessages = false
	h.eng.ApplySettings(s)

	h.eng.Dispatch(context.Background(), created("U1", "C1", "x"))
	assert.Empty(t, h.drain())
}
