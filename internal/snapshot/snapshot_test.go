package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NormalizesAndDropsUntracked(t *testing.T) {
	s := New(map[string]string{
		"globalName":   "Zed",
		"accent_color": "42",
		"pronouns":     "they/them",
		"mutualCount":  "7",
	})

	assert.Equal(t, "Zed", s.Get(AttrGlobalName))
	assert.Equal(t, "42", s.Get(AttrAccentColor))
	assert.Empty(t, s.Get(Attribute("pronouns")))
	assert.True(t, s.Equal(New(map[string]string{"global_name": "Zed", "accentColor": "42"})))
}

func TestDetector_FirstSightSeedsOnly(t *testing.T) {
	cache := NewCache()
	d := NewDetector(cache)

	changed := d.Detect("U1", New(map[string]string{"username": "a", "bio": "hello"}))

	assert.Empty(t, changed)
	require.True(t, cache.Get("U1").IsPresent(), "first observation must seed the baseline")
}

func TestDetector_ObserveReportsSeeding(t *testing.T) {
	d := NewDetector(NewCache())
	a := New(map[string]string{"username": "a"})

	changed, seeded := d.Observe("U1", a)
	assert.Empty(t, changed)
	assert.True(t, seeded)

	changed, seeded = d.Observe("U1", a)
	assert.Empty(t, changed)
	assert.False(t, seeded)

	changed, seeded = d.Observe("U1", New(map[string]string{"username": "b"}))
	assert.Equal(t, []Attribute{AttrUsername}, changed)
	assert.False(t, seeded)
}

func TestDetector_ReportsChangesInTrackedOrder(t *testing.T) {
	d := NewDetector(NewCache())
	d.Detect("U1", New(map[string]string{"username": "a", "bio": "hello", "avatar": "x"}))

	changed := d.Detect("U1", New(map[string]string{"username": "a", "bio": "bye", "avatar": "y"}))

	assert.Equal(t, []Attribute{AttrAvatar, AttrBio}, changed)
}

func TestDetector_IdempotentOnIdenticalSnapshots(t *testing.T) {
	d := NewDetector(NewCache())
	a := New(map[string]string{"username": "a"})

	assert.Empty(t, d.Detect("U1", a))
	assert.Empty(t, d.Detect("U1", a))
	assert.Empty(t, d.Detect("U1", a))
}

func TestDetector_RefreshesBaselineEveryCall(t *testing.T) {
	cache := NewCache()
	d := NewDetector(cache)
	d.Detect("U1", New(map[string]string{"username": "a"}))
	d.Detect("U1", New(map[string]string{"username": "b"}))

	// b is now the baseline, so going back to b reports nothing.
	assert.Empty(t, d.Detect("U1", New(map[string]string{"username": "b"})))
	assert.Equal(t, "b", cache.Get("U1").MustGet().Get(AttrUsername))
}

func TestDetector_UntrackedChangesIgnored(t *testing.T) {
	d := NewDetector(NewCache())
	d.Detect("U1", New(map[string]string{"username": "a", "status": "online"}))

	assert.Empty(t, d.Detect("U1", New(map[string]string{"username": "a", "status": "idle"})))
}

func TestCache_RemoveStartsFresh(t *testing.T) {
	cache := NewCache()
	d := NewDetector(cache)
	d.Detect("U1", New(map[string]string{"username": "a"}))

	cache.Remove("U1")

	assert.False(t, cache.Get("U1").IsPresent())
	assert.Empty(t, d.Detect("U1", New(map[string]string{"username": "b"})), "re-subscribe must re-seed")
	assert.Equal(t, 1, cache.Len())
}
