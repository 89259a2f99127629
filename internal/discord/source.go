// Package discord connects stalker to the Discord gateway and REST API.
//
// Source turns gateway dispatches into event values on the bus. LiveStore, Directory and
// ProfileFetcher read from the same session.
package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"stalker/internal/event"
	"stalker/internal/eventbus"
	logx "stalker/pkg/logx"
)

type Config struct {
	Token string
	// Bot prefixes the token with "Bot ".
	Bot bool
	// StateMessages is how many messages per channel the live store keeps.
	StateMessages int
}

type Source struct {
	session *discordgo.Session
	bus     eventbus.Bus
	log     logx.Logger
	live    *LiveStore
	remove  []func()
}

func NewSource(cfg Config, bus eventbus.Bus, log logx.Logger) (*Source, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("discord: empty token")
	}
	if cfg.Bot && !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	if cfg.StateMessages <= 0 {
		cfg.StateMessages = 500
	}
	session.StateEnabled = true
	session.State.MaxMessageCount = cfg.StateMessages
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageTyping |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsDirectMessageTyping |
		discordgo.IntentsMessageContent

	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Source{session: session, bus: bus, log: log, live: NewLiveStore(session.State, cfg.StateMessages)}
	s.remove = append(s.remove,
		session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { s.publish(fromMessageCreate(m)) }),
		session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) { s.publish(fromMessageUpdate(m)) }),
		session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
			if m != nil {
				s.live.remember(m.BeforeDelete)
			}
			s.publish(fromMessageDelete(m))
		}),
		session.AddHandler(func(_ *discordgo.Session, t *discordgo.TypingStart) { s.publish(fromTypingStart(t)) }),
		session.AddHandler(func(_ *discordgo.Session, t *discordgo.ThreadCreate) { s.publish(fromThreadCreate(t)) }),
		session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			if r != nil && r.User != nil {
				log.Info("discord gateway ready", logx.String("user", r.User.Username), logx.Int("guilds", len(r.Guilds)))
			}
		}),
	)
	return s, nil
}

// Session is shared with the directory and profile fetcher.
func (s *Source) Session() *discordgo.Session { return s.session }

func (s *Source) Live() *LiveStore { return s.live }

func (s *Source) Open() error {
	if err := s.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	return nil
}

func (s *Source) Close() error {
	for _, rm := range s.remove {
		rm()
	}
	s.remove = nil
	return s.session.Close()
}

func (s *Source) publish(ev event.Event) {
	if s.bus == nil || ev == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.GatewayTopic(string(ev.Kind())), Data: ev})
}

func fromMessage(m *discordgo.Message) *event.Message {
	if m == nil {
		return nil
	}
	out := &event.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Type:      event.MessageType(m.Type),
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
	}
	for _, a := range m.Attachments {
		if a != nil {
			out.Attachments = append(out.Attachments, event.Attachment{Filename: a.Filename})
		}
	}
	return out
}

func fromMessageCreate(m *discordgo.MessageCreate) event.Event {
	if m == nil || m.Message == nil {
		return event.MessageCreated{}
	}
	return event.MessageCreated{GuildID: m.GuildID, ChannelID: m.ChannelID, Message: fromMessage(m.Message)}
}

func fromMessageUpdate(m *discordgo.MessageUpdate) event.Event {
	if m == nil || m.Message == nil {
		return event.MessageEdited{}
	}
	return event.MessageEdited{GuildID: m.GuildID, Message: fromMessage(m.Message)}
}

func fromMessageDelete(m *discordgo.MessageDelete) event.Event {
	if m == nil || m.Message == nil {
		return event.MessageDeleted{}
	}
	return event.MessageDeleted{GuildID: m.GuildID, ChannelID: m.ChannelID, ID: m.ID}
}

func fromTypingStart(t *discordgo.TypingStart) event.Event {
	if t == nil {
		return event.TypingStarted{}
	}
	return event.TypingStarted{GuildID: t.GuildID, ChannelID: t.ChannelID, UserID: t.UserID}
}

func fromThreadCreate(t *discordgo.ThreadCreate) event.Event {
	if t == nil || t.Channel == nil {
		return event.ThreadCreated{}
	}
	return event.ThreadCreated{
		Thread: &event.Thread{
			ID:       t.ID,
			GuildID:  t.GuildID,
			ParentID: t.ParentID,
			OwnerID:  t.OwnerID,
			Name:     t.Name,
		},
		NewlyCreated: t.NewlyCreated,
	}
}
