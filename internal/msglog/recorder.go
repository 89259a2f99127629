package msglog

import (
	"context"
	"time"

	"stalker/internal/event"
	"stalker/internal/eventbus"
	logx "stalker/pkg/logx"
)

// Recorder appends every created/edited message seen on the bus to a Store, so delete
// events can be resolved after the live store has evicted the message.
type Recorder struct {
	store Store
	log   logx.Logger
}

func NewRecorder(store Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

// Run consumes events until ctx is done or the channel is closed.
func (r *Recorder) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			r.Record(ctx, e.Data)
		}
	}
}

// Record appends the message carried by a created/edited event. Other payloads are ignored.
func (r *Recorder) Record(ctx context.Context, payload any) {
	var m *event.Message
	switch ev := payload.(type) {
	case event.MessageCreated:
		m = withGuild(ev.Message, ev.GuildID)
	case event.MessageEdited:
		m = withGuild(ev.Message, ev.GuildID)
	default:
		return
	}
	if m == nil || m.ID == "" {
		return
	}

	actx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := r.store.Append(actx, *m); err != nil {
		r.log.Debug("message log append failed", logx.String("id", m.ID), logx.Err(err))
	}
}

func withGuild(m *event.Message, guildID string) *event.Message {
	if m == nil {
		return nil
	}
	cp := *m
	if cp.GuildID == "" {
		cp.GuildID = guildID
	}
	return &cp
}
