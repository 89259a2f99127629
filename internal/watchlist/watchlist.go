// Package watchlist holds the set of subjects the operator is watching.
package watchlist

import (
	"sort"
	"strings"
	"sync"
)

// Registry is the in-memory WatchSet. Safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func New(ids ...string) *Registry {
	r := &Registry{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		r.Add(id)
	}
	return r
}

// Add inserts id. Returns false if id was already present or empty.
func (r *Registry) Add(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

// Remove deletes id. Returns false if id was not present.
func (r *Registry) Remove(id string) bool {
	id = strings.TrimSpace(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; !ok {
		return false
	}
	delete(r.ids, id)
	return true
}

func (r *Registry) Contains(id string) bool {
	if id == "" {
		return false
	}
	r.mu.RLock()
	_, ok := r.ids[id]
	r.mu.RUnlock()
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// IDs returns a sorted copy of the watched IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Replace swaps the whole set and reports what changed.
// Used when the persisted list is edited outside the process.
func (r *Registry) Replace(ids []string) (added, removed []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			next[id] = struct{}{}
		}
	}

	r.mu.Lock()
	for id := range next {
		if _, ok := r.ids[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range r.ids {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	r.ids = next
	r.mu.Unlock()

	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// Parse splits the persisted comma-joined representation.
// Blank entries and duplicates are dropped; first-seen order is kept.
func Parse(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Join is the inverse of Parse.
func Join(ids []string) string {
	return strings.Join(Parse(strings.Join(ids, ",")), ",")
}
