package discord

import (
	"github.com/bwmarrin/discordgo"
	lru "github.com/hashicorp/golang-lru"

	"stalker/internal/event"
)

// LiveStore reads messages from the session's in-memory state.
//
// discordgo evicts a deleted message from state before handlers run and hands the old
// copy over as BeforeDelete; those copies are kept in a small cache so delete events
// can still be resolved from memory.
type LiveStore struct {
	state   *discordgo.State
	deleted *lru.Cache
}

func NewLiveStore(state *discordgo.State, recent int) *LiveStore {
	if recent <= 0 {
		recent = 256
	}
	deleted, _ := lru.New(recent)
	return &LiveStore{state: state, deleted: deleted}
}

func (l *LiveStore) Message(channelID, messageID string) (event.Message, bool) {
	if l == nil {
		return event.Message{}, false
	}
	if l.state != nil {
		if m, err := l.state.Message(channelID, messageID); err == nil && m != nil {
			return *fromMessage(m), true
		}
	}
	if l.deleted != nil {
		if v, ok := l.deleted.Get(messageID); ok {
			return v.(event.Message), true
		}
	}
	return event.Message{}, false
}

func (l *LiveStore) remember(m *discordgo.Message) {
	if l == nil || l.deleted == nil || m == nil || m.ID == "" {
		return
	}
	l.deleted.Add(m.ID, *fromMessage(m))
}
