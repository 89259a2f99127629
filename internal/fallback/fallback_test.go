package fallback

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stalker/internal/event"
	logx "stalker/pkg/logx"
)

type liveStub map[string]event.Message

func (l liveStub) Message(_, id string) (event.Message, bool) {
	m, ok := l[id]
	return m, ok
}

type providerStub struct {
	msgs map[string]event.Message
	err  error
}

func (p providerStub) Lookup(_ context.Context, id string) (event.Message, bool, error) {
	if p.err != nil {
		return event.Message{}, false, p.err
	}
	m, ok := p.msgs[id]
	return m, ok, nil
}

func loaderOf(p Provider, err error, calls *atomic.Int32) Loader {
	return func(context.Context) (Provider, error) {
		if calls != nil {
			calls.Add(1)
		}
		return p, err
	}
}

func TestResolve_LiveStoreFirst(t *testing.T) {
	var calls atomic.Int32
	r := NewResolver(liveStub{"M1": {ID: "M1", Content: "live"}}, loaderOf(providerStub{}, nil, &calls), logx.Nop())

	got := r.Resolve(context.Background(), "C1", "M1")

	assert.Equal(t, SourceLive, got.Source)
	assert.Equal(t, "live", got.Message.Content)
	assert.Zero(t, calls.Load(), "fallback must not load when the live store hits")
}

func TestResolve_FallbackWhenLiveMisses(t *testing.T) {
	p := providerStub{msgs: map[string]event.Message{"M1": {ID: "M1", AuthorID: "U1", Content: "secret plan"}}}
	r := NewResolver(liveStub{}, loaderOf(p, nil, nil), logx.Nop())

	got := r.Resolve(context.Background(), "C1", "M1")

	require.True(t, got.Found())
	assert.Equal(t, SourceFallback, got.Source)
	assert.Equal(t, "secret plan", got.Message.Content)
	assert.Equal(t, "C1", got.Message.ChannelID, "channel is filled from the event when the log lacks it")
}

func TestResolve_NotFoundAnywhere(t *testing.T) {
	r := NewResolver(liveStub{}, loaderOf(providerStub{}, nil, nil), logx.Nop())
	assert.False(t, r.Resolve(context.Background(), "C1", "M404").Found())
}

func TestResolve_ProviderErrorDegrades(t *testing.T) {
	r := NewResolver(nil, loaderOf(providerStub{err: errors.New("disk on fire")}, nil, nil), logx.Nop())
	assert.Equal(t, Resolved{}, r.Resolve(context.Background(), "C1", "M1"))
}

func TestResolver_LoadsOnceEvenWhenUnavailable(t *testing.T) {
	var calls atomic.Int32
	r := NewResolver(liveStub{}, loaderOf(nil, ErrUnavailable, &calls), logx.Nop())

	assert.False(t, r.Available())
	for i := 0; i < 3; i++ {
		assert.False(t, r.Resolve(context.Background(), "C1", "M1").Found())
	}
	assert.False(t, r.Probe(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTwoPathLoader(t *testing.T) {
	good := providerStub{msgs: map[string]event.Message{}}
	bad := errors.New("not installed")

	t.Run("primary wins", func(t *testing.T) {
		var second atomic.Int32
		p, err := TwoPathLoader(logx.Nop(), loaderOf(good, nil, nil), loaderOf(nil, bad, &second))(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, p)
		assert.Zero(t, second.Load())
	})

	t.Run("secondary fallback", func(t *testing.T) {
		p, err := TwoPathLoader(logx.Nop(), loaderOf(nil, bad, nil), loaderOf(good, nil, nil))(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, p)
	})

	t.Run("both fail", func(t *testing.T) {
		p, err := TwoPathLoader(logx.Nop(), loaderOf(nil, bad, nil), nil)(context.Background())
		assert.Nil(t, p)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.ErrorIs(t, err, bad)
	})
}
