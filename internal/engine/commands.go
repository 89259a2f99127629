package engine

import (
	"context"
	"strings"

	"stalker/internal/event"
	"stalker/internal/eventbus"
	logx "stalker/pkg/logx"
)

// Watch adds id to the watch set and seeds its profile baseline in the background.
// It returns the confirmation text for the operator. Watching an already watched
// subject is not an error.
func (e *Engine) Watch(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyID
	}
	if e.deps.Watch.Add(id) {
		e.log.Info("subject watched", logx.String("subject", id))
		e.publish(eventbus.TopicWatchAdded, id)
		e.watchChanged()
		e.submit(func() { _ = e.seedOne(ctx, id) })
	}
	return "Stalking " + e.subject(ctx, id).Name(), nil
}

// Unwatch removes id and forgets its baseline, so watching it again starts fresh.
func (e *Engine) Unwatch(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyID
	}
	if e.deps.Watch.Remove(id) {
		e.log.Info("subject unwatched", logx.String("subject", id))
		e.publish(eventbus.TopicWatchRemoved, id)
		e.watchChanged()
	}
	e.deps.Snapshots.Remove(id)
	return "Stopped stalking " + e.subject(ctx, id).Name(), nil
}

// Focus marks channelID as the one the operator is viewing. An empty id clears focus.
func (e *Engine) Focus(channelID string) string {
	channelID = strings.TrimSpace(channelID)
	e.SetViewing(channelID)
	if channelID == "" {
		return "Focus cleared"
	}
	return "Focused on " + channelID
}

// List returns the watched subjects in ID order.
func (e *Engine) List(ctx context.Context) []event.Subject {
	ids := e.deps.Watch.IDs()
	out := make([]event.Subject, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.subject(ctx, id))
	}
	return out
}

// ReconcileWatchlist makes the watch set equal to ids (after a config reload).
// Added subjects are seeded; removed ones lose their baseline.
func (e *Engine) ReconcileWatchlist(ctx context.Context, ids []string) {
	added, removed := e.deps.Watch.Replace(ids)
	for _, id := range removed {
		e.deps.Snapshots.Remove(id)
		e.publish(eventbus.TopicWatchRemoved, id)
	}
	for _, id := range added {
		id := id
		e.publish(eventbus.TopicWatchAdded, id)
		e.submit(func() { _ = e.seedOne(ctx, id) })
	}
	if len(added)+len(removed) > 0 {
		e.log.Info("watch list reconciled", logx.Strings("added", added), logx.Strings("removed", removed))
	}
}

func (e *Engine) watchChanged() {
	if e.deps.OnWatchChange != nil {
		e.deps.OnWatchChange(e.deps.Watch.IDs())
	}
}

func (e *Engine) publish(topic, id string) {
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(eventbus.Event{Type: topic, Data: id})
	}
}
