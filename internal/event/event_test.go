package event

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRequiredFields(t *testing.T) {
	t.Parallel()
	msg := &Message{ID: "M1", ChannelID: "C1", AuthorID: "U1"}
	tests := []struct {
		name    string
		ev      Event
		missing string
	}{
		{name: "created ok", ev: MessageCreated{ChannelID: "C1", Message: msg}},
		{name: "created nil message", ev: MessageCreated{ChannelID: "C1"}, missing: "message"},
		{name: "created no author", ev: MessageCreated{Message: &Message{ChannelID: "C1"}}, missing: "message.author"},
		{name: "edited no channel", ev: MessageEdited{Message: &Message{AuthorID: "U1"}}, missing: "message.channel_id"},
		{name: "deleted ok", ev: MessageDeleted{GuildID: "G1", ChannelID: "C1", ID: "M1"}},
		{name: "deleted no guild", ev: MessageDeleted{ChannelID: "C1", ID: "M1"}, missing: "guild_id"},
		{name: "typing no user", ev: TypingStarted{ChannelID: "C1"}, missing: "user_id"},
		{name: "profile no values", ev: ProfileUpdated{SubjectID: "U1"}, missing: "user"},
		{name: "profile ok", ev: ProfileUpdated{SubjectID: "U1", Values: map[string]string{}}},
		{name: "thread nil", ev: ThreadCreated{}, missing: "channel"},
		{name: "thread no owner", ev: ThreadCreated{Thread: &Thread{ID: "T1"}}, missing: "channel.owner_id"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.missing == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrMissingField) {
				t.Fatalf("Validate() = %v, want ErrMissingField", err)
			}
			if !strings.HasSuffix(err.Error(), ": "+tt.missing) {
				t.Fatalf("Validate() = %q, want field %q", err.Error(), tt.missing)
			}
		})
	}
}

func TestMemberJoinAndSubjectName(t *testing.T) {
	t.Parallel()
	ev := MessageCreated{Message: &Message{Type: MessageTypeMemberJoin}}
	if !ev.IsMemberJoin() {
		t.Fatal("expected member join")
	}
	if (MessageCreated{}).IsMemberJoin() {
		t.Fatal("nil message must not be a member join")
	}

	if got := (Subject{ID: "U1", Username: "zed"}).Name(); got != "zed" {
		t.Fatalf("Name() = %q, want zed", got)
	}
	if got := (Subject{ID: "U1"}).Name(); got != "U1" {
		t.Fatalf("Name() = %q, want U1", got)
	}
	if got := (Message{Attachments: []Attachment{{}, {Filename: "a.png"}}}).FirstAttachment(); got != "a.png" {
		t.Fatalf("FirstAttachment() = %q", got)
	}
}
