package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	lru "github.com/hashicorp/golang-lru"
	"github.com/samber/mo"

	"stalker/internal/event"
	logx "stalker/pkg/logx"
)

// UserFetcher is the slice of *discordgo.Session the directory needs.
type UserFetcher interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

type directoryItem struct {
	subject event.Subject
	expires time.Time
}

// Directory resolves subject display information through REST, cached in a 2Q cache.
type Directory struct {
	users UserFetcher
	cache *lru.TwoQueueCache
	ttl   time.Duration
	log   logx.Logger
}

// DefaultDirectoryTTL applies when NewDirectory gets a ttl <= 0.
const DefaultDirectoryTTL = 30 * time.Minute

func NewDirectory(users UserFetcher, size int, ttl time.Duration, log logx.Logger) (*Directory, error) {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = DefaultDirectoryTTL
	}
	cache, err := lru.New2Q(size)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Directory{users: users, cache: cache, ttl: ttl, log: log}, nil
}

func (d *Directory) Lookup(ctx context.Context, id string) mo.Option[event.Subject] {
	if id == "" {
		return mo.None[event.Subject]()
	}
	if v, ok := d.cache.Get(id); ok {
		item := v.(directoryItem)
		if time.Now().Before(item.expires) {
			return mo.Some(item.subject)
		}
		d.cache.Remove(id)
	}
	if d.users == nil {
		return mo.None[event.Subject]()
	}

	u, err := d.users.User(id, discordgo.WithContext(ctx))
	if err != nil || u == nil {
		d.log.Warn("subject lookup failed", logx.String("subject", id), logx.Err(err))
		return mo.None[event.Subject]()
	}
	s := event.Subject{
		ID:          u.ID,
		DisplayName: u.GlobalName,
		Username:    u.Username,
		AvatarURL:   u.AvatarURL("128"),
	}
	d.cache.Add(id, directoryItem{subject: s, expires: time.Now().Add(d.ttl)})
	return mo.Some(s)
}

// Forget drops id from the cache. The engine calls it when id's profile changes.
func (d *Directory) Forget(id string) {
	d.cache.Remove(id)
}
