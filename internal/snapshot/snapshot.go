// Package snapshot keeps the last-known profile attributes of watched subjects
// and diffs them against fresh observations.
package snapshot

import (
	"strings"
	"sync"

	"github.com/samber/mo"
)

// Attribute is one tracked profile attribute.
type Attribute string

const (
	AttrUsername      Attribute = "username"
	AttrGlobalName    Attribute = "global_name"
	AttrAvatar        Attribute = "avatar"
	AttrDiscriminator Attribute = "discriminator"
	AttrClan          Attribute = "clan"
	AttrFlags         Attribute = "flags"
	AttrBanner        Attribute = "banner"
	AttrBannerColor   Attribute = "banner_color"
	AttrAccentColor   Attribute = "accent_color"
	AttrBio           Attribute = "bio"
)

// Tracked is the fixed allow-list, in the order changes are reported.
// Anything outside it (presence, cached mutual counts, ...) never counts as a change.
var Tracked = []Attribute{
	AttrUsername,
	AttrGlobalName,
	AttrAvatar,
	AttrDiscriminator,
	AttrClan,
	AttrFlags,
	AttrBanner,
	AttrBannerColor,
	AttrAccentColor,
	AttrBio,
}

func isTracked(a Attribute) bool {
	for _, t := range Tracked {
		if t == a {
			return true
		}
	}
	return false
}

// Snapshot is an immutable set of tracked attribute values.
type Snapshot struct {
	values map[Attribute]string
}

// New builds a snapshot from raw attribute values. Keys are matched case-insensitively,
// camelCase keys are accepted (globalName, accentColor) and untracked keys are dropped.
func New(raw map[string]string) Snapshot {
	values := make(map[Attribute]string, len(Tracked))
	for k, v := range raw {
		a := Attribute(normalizeKey(k))
		if isTracked(a) {
			values[a] = v
		}
	}
	return Snapshot{values: values}
}

func (s Snapshot) Get(a Attribute) string { return s.values[a] }

// Equal compares the tracked attributes only.
func (s Snapshot) Equal(o Snapshot) bool {
	return len(Diff(s, o)) == 0
}

// Diff returns the tracked attributes whose values differ between old and next.
func Diff(old, next Snapshot) []Attribute {
	var changed []Attribute
	for _, a := range Tracked {
		if old.values[a] != next.values[a] {
			changed = append(changed, a)
		}
	}
	return changed
}

func normalizeKey(k string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(k) {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Cache holds one snapshot per subject. Safe for concurrent use.
type Cache struct {
	mu   sync.RWMutex
	byID map[string]Snapshot
}

func NewCache() *Cache {
	return &Cache{byID: map[string]Snapshot{}}
}

func (c *Cache) Get(id string) mo.Option[Snapshot] {
	c.mu.RLock()
	s, ok := c.byID[id]
	c.mu.RUnlock()
	if !ok {
		return mo.None[Snapshot]()
	}
	return mo.Some(s)
}

// Put overwrites the snapshot for id unconditionally.
func (c *Cache) Put(id string, s Snapshot) {
	c.mu.Lock()
	c.byID[id] = s
	c.mu.Unlock()
}

func (c *Cache) Remove(id string) {
	c.mu.Lock()
	delete(c.byID, id)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// Detector diffs incoming snapshots against the cached baseline.
type Detector struct {
	cache *Cache
	mu    sync.Mutex
}

func NewDetector(cache *Cache) *Detector {
	return &Detector{cache: cache}
}

// Detect compares incoming with the stored baseline for id and returns the changed attributes.
//
// The first observation only seeds the baseline and reports nothing. The baseline is
// replaced on every call, including calls that found no change.
func (d *Detector) Detect(id string, incoming Snapshot) []Attribute {
	changed, _ := d.Observe(id, incoming)
	return changed
}

// Observe is Detect that also reports whether the call seeded a missing baseline.
func (d *Detector) Observe(id string, incoming Snapshot) (changed []Attribute, seeded bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.cache.Get(id).Get()
	d.cache.Put(id, incoming)
	if !ok {
		return nil, true
	}
	return Diff(prev, incoming), false
}
