// Package compose turns accepted events into notifications.
//
// A Notification is a plain value: title, body, icon and a click target the sink renders
// into something clickable. Nothing here performs I/O.
package compose

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"stalker/internal/event"
	"stalker/internal/fallback"
	"stalker/internal/snapshot"
)

const (
	// DeletedBodyLimit is the hard rune limit for the body of a delete notification.
	DeletedBodyLimit = 100

	ellipsis = "..."

	bodyJumpToMessage = "Click to jump to the message"
	bodyJoined        = "Click to jump to the message."
	bodyJumpToChannel = "Click to jump to the channel."
	bodyViewThread    = "Click to view the thread."

	// DirectMessages is the guild placeholder used for channels outside any guild.
	DirectMessages = "@me"

	DefaultBaseURL = "https://discord.com"

	KindAdvisory event.Kind = "advisory"
)

type TargetKind string

const (
	TargetMessage TargetKind = "message"
	TargetChannel TargetKind = "channel"
	TargetProfile TargetKind = "profile"
	TargetLink    TargetKind = "link"
)

// Target addresses what activating a notification should open.
type Target struct {
	Kind      TargetKind `json:"kind"`
	GuildID   string     `json:"guild_id,omitempty"`
	ChannelID string     `json:"channel_id,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	SubjectID string     `json:"subject_id,omitempty"`
	URL       string     `json:"url,omitempty"`
}

// Guild returns GuildID, or "@me" when empty.
func (t Target) Guild() string {
	if t.GuildID == "" {
		return DirectMessages
	}
	return t.GuildID
}

// Link renders the target as a jump URL under base (DefaultBaseURL if empty).
func (t Target) Link(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	switch t.Kind {
	case TargetMessage:
		return base + "/channels/" + t.Guild() + "/" + t.ChannelID + "/" + t.MessageID
	case TargetChannel:
		return base + "/channels/" + t.Guild() + "/" + t.ChannelID
	case TargetProfile:
		return base + "/users/" + t.SubjectID
	case TargetLink:
		return t.URL
	default:
		return ""
	}
}

func (t Target) String() string {
	return string(t.Kind) + ":" + t.Guild() + "/" + t.ChannelID + "/" + t.MessageID + "/" + t.SubjectID + "/" + t.URL
}

type Notification struct {
	ID        string     `json:"id"`
	Kind      event.Kind `json:"kind"`
	SubjectID string     `json:"subject_id,omitempty"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Icon      string     `json:"icon,omitempty"`
	Target    Target     `json:"target"`
	CreatedAt time.Time  `json:"created_at"`
}

// Options are the composer knobs that follow hot-reloaded settings.
type Options struct {
	IncludeBody bool
	// BodyLimit is the rune limit for message bodies; 0 means unlimited.
	BodyLimit int
}

type Composer struct {
	opts Options
}

func New(opts Options) Composer {
	if opts.BodyLimit < 0 {
		opts.BodyLimit = 0
	}
	return Composer{opts: opts}
}

func (c Composer) MessageCreated(ev event.MessageCreated, who event.Subject) Notification {
	return c.message(event.KindMessageCreated, who, " sent a message", ev.Message, ev.GuildID)
}

func (c Composer) MessageEdited(ev event.MessageEdited, who event.Subject) Notification {
	return c.message(event.KindMessageEdited, who, " edited a message", ev.Message, ev.GuildID)
}

// MemberJoined composes the "member joined" system message. Its body is fixed.
func (c Composer) MemberJoined(ev event.MessageCreated, who event.Subject) Notification {
	n := c.message(event.KindMemberJoined, who, " joined a server", ev.Message, ev.GuildID)
	n.Body = bodyJoined
	return n
}

func (c Composer) message(kind event.Kind, who event.Subject, verb string, m *event.Message, guildID string) Notification {
	var msg event.Message
	if m != nil {
		msg = *m
	}
	if guildID == "" {
		guildID = msg.GuildID
	}

	body := bodyJumpToMessage
	if c.opts.IncludeBody {
		text := msg.Content
		if strings.TrimSpace(text) == "" {
			text = msg.FirstAttachment()
		}
		if text != "" {
			body = Truncate(text, c.opts.BodyLimit)
		}
	}

	return build(kind, who, who.Name()+verb, body, Target{
		Kind:      TargetMessage,
		GuildID:   guildID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
	})
}

// MessageDeleted composes a delete notification. It reports false when the message
// was not resolved; such deletes produce no notification.
func (c Composer) MessageDeleted(ev event.MessageDeleted, res fallback.Resolved, who event.Subject) (Notification, bool) {
	if !res.Found() {
		return Notification{}, false
	}
	text := res.Message.Content
	if strings.TrimSpace(text) == "" {
		text = res.Message.FirstAttachment()
	}
	return build(event.KindMessageDeleted, who, who.Name()+" deleted a message!", Truncate(text, DeletedBodyLimit), Target{
		Kind:      TargetMessage,
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		MessageID: ev.ID,
	}), true
}

func (c Composer) TypingStarted(ev event.TypingStarted, who event.Subject) Notification {
	return build(event.KindTypingStarted, who, who.Name()+" started typing...", bodyJumpToChannel, Target{
		Kind:      TargetChannel,
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
	})
}

// ProfileUpdated lists the changed attributes. No changes means no notification.
func (c Composer) ProfileUpdated(ev event.ProfileUpdated, who event.Subject, changed []snapshot.Attribute) (Notification, bool) {
	if len(changed) == 0 {
		return Notification{}, false
	}
	names := make([]string, len(changed))
	for i, a := range changed {
		names[i] = string(a)
	}
	if who.ID == "" {
		who.ID = ev.SubjectID
	}
	if n := strings.TrimSpace(ev.DisplayName); n != "" {
		who.DisplayName = n
	}
	return build(event.KindProfileUpdated, who, who.Name()+" updated their profile!",
		"Updated properties: "+strings.Join(names, ", ")+".",
		Target{Kind: TargetProfile, SubjectID: ev.SubjectID}), true
}

// ThreadCreated only composes for threads created just now, never for backfilled ones.
// The target is the parent channel.
func (c Composer) ThreadCreated(ev event.ThreadCreated, who event.Subject) (Notification, bool) {
	if !ev.NewlyCreated || ev.Thread == nil {
		return Notification{}, false
	}
	return build(event.KindThreadCreated, who, "New thread created by "+who.Name(), bodyViewThread, Target{
		Kind:      TargetChannel,
		GuildID:   ev.Thread.GuildID,
		ChannelID: ev.Thread.ParentID,
	}), true
}

// Advisory is a notification not tied to any subject, such as a missing-dependency notice.
func Advisory(title, body, url string) Notification {
	t := Target{Kind: TargetLink, URL: url}
	return Notification{
		ID:        ulid.Make().String(),
		Kind:      KindAdvisory,
		Title:     title,
		Body:      body,
		Target:    t,
		CreatedAt: time.Now(),
	}
}

func build(kind event.Kind, who event.Subject, title, body string, target Target) Notification {
	return Notification{
		ID:        ulid.Make().String(),
		Kind:      kind,
		SubjectID: who.ID,
		Title:     title,
		Body:      body,
		Icon:      who.AvatarURL,
		Target:    target,
		CreatedAt: time.Now(),
	}
}

// Truncate cuts s to limit runes and appends "..." when something was cut.
// A limit of 0 or less returns s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + ellipsis
}
