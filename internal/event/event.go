package event

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingField is returned by Validate when a field required for the event kind is absent.
var ErrMissingField = errors.New("missing required field")

type Kind string

const (
	KindMessageCreated Kind = "message.created"
	KindMessageEdited  Kind = "message.edited"
	KindMessageDeleted Kind = "message.deleted"
	KindTypingStarted  Kind = "typing.started"
	KindProfileUpdated Kind = "profile.updated"
	KindThreadCreated  Kind = "thread.created"

	// KindMemberJoined is the sub-kind of KindMessageCreated for "member joined" system messages.
	KindMemberJoined Kind = "message.joined"
)

// Event is the tagged union of everything the gateway can push at the engine.
//
// Every field is optional until Validate has been called: producers hand over whatever the
// upstream payload carried.
type Event interface {
	Kind() Kind
	Validate() error
}

type MessageType int

const (
	MessageTypeDefault    MessageType = 0
	MessageTypeMemberJoin MessageType = 7
)

type Attachment struct {
	Filename string `json:"filename"`
}

type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	GuildID     string       `json:"guild_id,omitempty"`
	AuthorID    string       `json:"author_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Type        MessageType  `json:"type"`
}

// FirstAttachment returns the filename of the first attachment, or "".
func (m Message) FirstAttachment() string {
	for _, a := range m.Attachments {
		if strings.TrimSpace(a.Filename) != "" {
			return a.Filename
		}
	}
	return ""
}

// Subject is an account as the host knows it. Ephemeral; resolved through a directory lookup.
type Subject struct {
	ID          string
	DisplayName string
	Username    string
	AvatarURL   string
}

// Name returns the display name, falling back to username and finally the raw ID.
func (s Subject) Name() string {
	if n := strings.TrimSpace(s.DisplayName); n != "" {
		return n
	}
	if n := strings.TrimSpace(s.Username); n != "" {
		return n
	}
	return s.ID
}

type Thread struct {
	ID       string
	GuildID  string
	ParentID string
	OwnerID  string
	Name     string
}

type MessageCreated struct {
	GuildID   string
	ChannelID string
	Message   *Message
}

func (MessageCreated) Kind() Kind { return KindMessageCreated }

func (e MessageCreated) Validate() error {
	return validateMessage(e.Message)
}

// IsMemberJoin reports whether the message is the "member joined" system message.
func (e MessageCreated) IsMemberJoin() bool {
	return e.Message != nil && e.Message.Type == MessageTypeMemberJoin
}

type MessageEdited struct {
	GuildID string
	Message *Message
}

func (MessageEdited) Kind() Kind { return KindMessageEdited }

func (e MessageEdited) Validate() error {
	return validateMessage(e.Message)
}

type MessageDeleted struct {
	GuildID   string
	ChannelID string
	ID        string
}

func (MessageDeleted) Kind() Kind { return KindMessageDeleted }

func (e MessageDeleted) Validate() error {
	return require(
		field{"channel_id", e.ChannelID},
		field{"id", e.ID},
		field{"guild_id", e.GuildID},
	)
}

type TypingStarted struct {
	GuildID   string
	ChannelID string
	UserID    string
}

func (TypingStarted) Kind() Kind { return KindTypingStarted }

func (e TypingStarted) Validate() error {
	return require(
		field{"channel_id", e.ChannelID},
		field{"user_id", e.UserID},
	)
}

type ProfileUpdated struct {
	SubjectID   string
	DisplayName string
	// Values holds the raw attribute values keyed by attribute name.
	// The engine turns it into a snapshot restricted to the tracked attributes.
	Values map[string]string
}

func (ProfileUpdated) Kind() Kind { return KindProfileUpdated }

func (e ProfileUpdated) Validate() error {
	if err := require(field{"user.id", e.SubjectID}); err != nil {
		return err
	}
	if e.Values == nil {
		return fmt.Errorf("%w: user", ErrMissingField)
	}
	return nil
}

type ThreadCreated struct {
	Thread *Thread
	// NewlyCreated is false when the thread was discovered through backfill/sync.
	NewlyCreated bool
}

func (ThreadCreated) Kind() Kind { return KindThreadCreated }

func (e ThreadCreated) Validate() error {
	if e.Thread == nil {
		return fmt.Errorf("%w: channel", ErrMissingField)
	}
	return require(
		field{"channel.id", e.Thread.ID},
		field{"channel.owner_id", e.Thread.OwnerID},
	)
}

type field struct {
	name  string
	value string
}

func require(fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}
	return nil
}

func validateMessage(m *Message) error {
	if m == nil {
		return fmt.Errorf("%w: message", ErrMissingField)
	}
	return require(
		field{"message.author", m.AuthorID},
		field{"message.channel_id", m.ChannelID},
	)
}
