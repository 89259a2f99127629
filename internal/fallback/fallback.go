// Package fallback resolves messages for delete events: the host's live store first, then a
// secondary message log that is loaded once, lazily.
package fallback

import (
	"context"
	"errors"
	"sync"

	"stalker/internal/event"
	logx "stalker/pkg/logx"
)

// ErrUnavailable is returned by loaders when no fallback source could be opened.
var ErrUnavailable = errors.New("fallback message source unavailable")

// LiveStore is the host's in-memory message cache.
type LiveStore interface {
	Message(channelID, messageID string) (event.Message, bool)
}

// Provider is a secondary message source (a message log).
type Provider interface {
	Lookup(ctx context.Context, messageID string) (event.Message, bool, error)
}

// Loader produces the Provider. It is called at most once per Resolver.
type Loader func(ctx context.Context) (Provider, error)

type Source int

const (
	SourceNone Source = iota
	SourceLive
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Resolved is the outcome of a resolution: found in the live store, found in the
// fallback log, or not found at all.
type Resolved struct {
	Source  Source
	Message event.Message
}

func (r Resolved) Found() bool { return r.Source != SourceNone }

type Resolver struct {
	live   LiveStore
	loader Loader
	log    logx.Logger

	once      sync.Once
	done      chan struct{}
	provider  Provider
	available bool
}

func NewResolver(live LiveStore, loader Loader, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{live: live, loader: loader, log: log, done: make(chan struct{})}
}

// Probe runs the lazy load now (if it has not run yet) and reports whether a fallback
// source is available. The answer never changes afterwards.
func (r *Resolver) Probe(ctx context.Context) bool {
	r.load(ctx)
	select {
	case <-r.done:
		return r.available
	case <-ctx.Done():
		return false
	}
}

// Available reports the decided availability without triggering a load.
// Before the first load it returns false.
func (r *Resolver) Available() bool {
	select {
	case <-r.done:
		return r.available
	default:
		return false
	}
}

func (r *Resolver) load(ctx context.Context) {
	r.once.Do(func() {
		defer close(r.done)
		if r.loader == nil {
			return
		}
		p, err := r.loader(ctx)
		if err != nil || p == nil {
			r.log.Error("fallback message source unavailable; deleted messages cannot be resolved", logx.Err(err))
			return
		}
		r.provider = p
		r.available = true
	})
}

// Resolve looks the message up in the live store and then in the fallback source.
// It never fails: every error degrades to SourceNone.
func (r *Resolver) Resolve(ctx context.Context, channelID, messageID string) Resolved {
	if r.live != nil {
		if m, ok := r.live.Message(channelID, messageID); ok {
			return Resolved{Source: SourceLive, Message: m}
		}
	}

	r.load(ctx)
	select {
	case <-r.done:
	case <-ctx.Done():
		return Resolved{}
	}
	if !r.available {
		return Resolved{}
	}

	m, ok, err := r.provider.Lookup(ctx, messageID)
	if err != nil {
		r.log.Warn("fallback lookup failed", logx.String("message_id", messageID), logx.Err(err))
		return Resolved{}
	}
	if !ok {
		return Resolved{}
	}
	if m.ChannelID == "" {
		m.ChannelID = channelID
	}
	return Resolved{Source: SourceFallback, Message: m}
}

// TwoPathLoader tries primary, then secondary. When both fail it logs and returns
// ErrUnavailable.
func TwoPathLoader(log logx.Logger, primary, secondary Loader) Loader {
	if log.IsZero() {
		log = logx.Nop()
	}
	return func(ctx context.Context) (Provider, error) {
		var errs []error
		for i, l := range []Loader{primary, secondary} {
			if l == nil {
				continue
			}
			p, err := l(ctx)
			if err == nil && p != nil {
				log.Info("fallback message source loaded", logx.Int("path", i+1))
				return p, nil
			}
			if err != nil {
				errs = append(errs, err)
			}
			log.Debug("fallback message source path failed", logx.Int("path", i+1), logx.Err(err))
		}
		log.Error("failed to load fallback message source from both primary and secondary locations", logx.Err(errors.Join(errs...)))
		return nil, errors.Join(append([]error{ErrUnavailable}, errs...)...)
	}
}
