// Package telegram delivers notifications to a Telegram chat and accepts operator
// commands (/watch, /unwatch, /focus, /list, /status) from owner accounts.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"stalker/internal/compose"
	"stalker/internal/event"
	logx "stalker/pkg/logx"
	"stalker/pkg/tgui"
)

type Config struct {
	Token        string
	OwnerUserIDs []int64
	// ChatID receives notifications; 0 means the first owner.
	ChatID      int64
	PollTimeout time.Duration
	// LinkBase is the web root used to render click targets.
	LinkBase string

	// APIURL overrides the Bot API endpoint.
	APIURL string
	// Offline skips the getMe handshake.
	Offline bool
}

// Commands is the operator surface the bot exposes.
type Commands interface {
	Watch(ctx context.Context, id string) (string, error)
	Unwatch(ctx context.Context, id string) (string, error)
	Focus(channelID string) string
	List(ctx context.Context) []event.Subject
}

type Adapter struct {
	cfg    Config
	cmds   Commands
	status func() string
	log    logx.Logger

	bot    *tele.Bot
	owners map[int64]struct{}

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, cmds Commands, status func() string, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
		OnError: func(err error, _ tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}

	owners := make(map[int64]struct{}, len(cfg.OwnerUserIDs))
	for _, id := range cfg.OwnerUserIDs {
		owners[id] = struct{}{}
	}
	if cfg.ChatID == 0 && len(cfg.OwnerUserIDs) > 0 {
		cfg.ChatID = cfg.OwnerUserIDs[0]
	}
	a := &Adapter{cfg: cfg, cmds: cmds, status: status, log: log, bot: b, owners: owners}

	for _, name := range []string{"watch", "unwatch", "focus", "list", "status", "start"} {
		cmd := name
		b.Handle("/"+cmd, func(c tele.Context) error {
			var from int64
			if u := c.Sender(); u != nil {
				from = u.ID
			}
			reply, ok := a.handle(context.Background(), from, cmd, c.Args())
			if !ok {
				return nil
			}
			return c.Send(reply.String(), &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true})
		})
	}
	return a, nil
}

// Start begins long polling for commands. It returns immediately.
func (a *Adapter) Start(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start()
	}()
}

// Stop ends polling. Telegram long-polls can hang, so it waits at most a short grace period.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// Show sends n to the notification chat.
func (a *Adapter) Show(ctx context.Context, n compose.Notification) error {
	if a.cfg.ChatID == 0 {
		return errors.New("telegram: no chat to notify")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(&tele.Chat{ID: a.cfg.ChatID}, Format(n, a.cfg.LinkBase), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Format renders n as Telegram HTML: bold title, body, then the jump link.
func Format(n compose.Notification, linkBase string) string {
	return tgui.JoinH("\n",
		tgui.B(n.Title),
		tgui.Esc(tgui.TruncRunes(n.Body, tgui.MaxMessageRunes/2)),
		tgui.Esc(n.Target.Link(linkBase)),
	).String()
}

func (a *Adapter) isOwner(id int64) bool {
	_, ok := a.owners[id]
	return ok
}

// handle runs one command and returns an HTML reply. The bool is false when the sender
// is not allowed to use the bot.
func (a *Adapter) handle(ctx context.Context, from int64, cmd string, args []string) (tgui.H, bool) {
	if !a.isOwner(from) {
		a.log.Debug("ignoring command from non-owner", logx.Int64("from", from), logx.String("cmd", cmd))
		return "", false
	}

	arg := ""
	if len(args) > 0 {
		arg = strings.TrimSpace(args[0])
	}

	switch cmd {
	case "watch", "unwatch":
		if arg == "" {
			return tgui.Esc("usage: /" + cmd + " <user id>"), true
		}
		var (
			msg string
			err error
		)
		if cmd == "watch" {
			msg, err = a.cmds.Watch(ctx, arg)
		} else {
			msg, err = a.cmds.Unwatch(ctx, arg)
		}
		if err != nil {
			return tgui.Esc("error: " + err.Error()), true
		}
		return tgui.Esc(msg), true
	case "focus":
		return tgui.Esc(a.cmds.Focus(arg)), true
	case "list":
		subs := a.cmds.List(ctx)
		if len(subs) == 0 {
			return tgui.Esc("Not stalking anyone."), true
		}
		lines := make([]tgui.H, 0, len(subs))
		for _, s := range subs {
			lines = append(lines, tgui.JoinH(" ", tgui.Esc(s.Name()), tgui.Code(s.ID)))
		}
		return tgui.JoinH("\n", lines...), true
	case "status":
		if a.status == nil {
			return "ok", true
		}
		return tgui.Esc(a.status()), true
	default:
		return tgui.Esc("Commands: /watch <id>, /unwatch <id>, /focus [channel], /list, /status"), true
	}
}
