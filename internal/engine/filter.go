package engine

import (
	"stalker/internal/event"
)

// Settings are the hot-reloadable tracking toggles.
type Settings struct {
	TrackProfileChanges bool
	TrackTypingStarted  bool
	TrackSentMessages   bool
	IncludeMessageBody  bool
	// BodyCharacterLimit caps message bodies in runes; 0 means unlimited.
	BodyCharacterLimit int
}

func DefaultSettings() Settings {
	return Settings{
		TrackProfileChanges: true,
		TrackTypingStarted:  true,
		TrackSentMessages:   true,
		BodyCharacterLimit:  100,
	}
}

type Verdict int

const (
	Accepted Verdict = iota
	Malformed
	Disabled
	NotWatched
	Viewing
	Stale
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Malformed:
		return "malformed"
	case Disabled:
		return "disabled"
	case NotWatched:
		return "not_watched"
	case Viewing:
		return "viewing"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Actor is who an event is about and where it happened. ContextID is empty for events
// without a channel (profile updates, threads).
type Actor struct {
	SubjectID string
	ContextID string
}

// ActorOf derives the actor from the event itself. Deletes carry no author, so their
// actor comes from the resolved message instead.
func ActorOf(ev event.Event) Actor {
	switch e := ev.(type) {
	case event.MessageCreated:
		if e.Message != nil {
			return Actor{SubjectID: e.Message.AuthorID, ContextID: e.Message.ChannelID}
		}
	case event.MessageEdited:
		if e.Message != nil {
			return Actor{SubjectID: e.Message.AuthorID, ContextID: e.Message.ChannelID}
		}
	case event.TypingStarted:
		return Actor{SubjectID: e.UserID, ContextID: e.ChannelID}
	case event.ProfileUpdated:
		return Actor{SubjectID: e.SubjectID}
	case event.ThreadCreated:
		if e.Thread != nil {
			return Actor{SubjectID: e.Thread.OwnerID}
		}
	}
	return Actor{}
}

// WatchSet is the membership test the filter needs.
type WatchSet interface {
	Contains(id string) bool
}

// Filter decides whether an event may produce a notification. It has no side effects.
type Filter struct {
	Settings Settings
	Watch    WatchSet
	// ViewingID is the channel the operator is looking at; events there are suppressed.
	ViewingID string
}

// Check runs the validation, toggle, membership and self-suppression checks in that order.
func (f Filter) Check(ev event.Event, actor Actor) Verdict {
	if ev == nil || ev.Validate() != nil {
		return Malformed
	}
	if !f.enabled(ev) {
		return Disabled
	}
	if t, ok := ev.(event.ThreadCreated); ok && !t.NewlyCreated {
		return Stale
	}
	if actor.SubjectID == "" || f.Watch == nil || !f.Watch.Contains(actor.SubjectID) {
		return NotWatched
	}
	if actor.ContextID != "" && actor.ContextID == f.ViewingID {
		return Viewing
	}
	return Accepted
}

// Accept is Check with the actor taken from the event.
func (f Filter) Accept(ev event.Event) bool {
	return f.Check(ev, ActorOf(ev)) == Accepted
}

func (f Filter) enabled(ev event.Event) bool {
	switch ev.Kind() {
	case event.KindMessageCreated:
		return f.Settings.TrackSentMessages
	case event.KindTypingStarted:
		return f.Settings.TrackTypingStarted
	case event.KindProfileUpdated:
		return f.Settings.TrackProfileChanges
	default:
		return true
	}
}
