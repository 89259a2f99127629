package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"stalker/internal/app"
	"stalker/internal/config"
	"stalker/internal/watchlist"
)

type Options struct {
	Config  string `short:"c" long:"config" description:"path to config file (json or yaml)" default:"./config.yaml"`
	EnvFile string `long:"env-file" description:"dotenv file with STALKER_* tokens" default:".env"`
}

var (
	opts   Options
	stdout io.Writer = os.Stdout
)

type runCommand struct{}

type watchCommand struct {
	Args struct {
		ID string `positional-arg-name:"user-id" required:"yes"`
	} `positional-args:"yes"`
}

type unwatchCommand struct {
	Args struct {
		ID string `positional-arg-name:"user-id" required:"yes"`
	} `positional-args:"yes"`
}

type listCommand struct{}

func main() {
	parser := newParser()
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newParser() *flags.Parser {
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = false
	_, _ = parser.AddCommand("run", "Run the notifier", "Connect to Discord and send notifications for watched users.", &runCommand{})
	_, _ = parser.AddCommand("watch", "Watch a user", "Add a user ID to the watch list in the config file.", &watchCommand{})
	_, _ = parser.AddCommand("unwatch", "Stop watching a user", "Remove a user ID from the watch list in the config file.", &unwatchCommand{})
	_, _ = parser.AddCommand("list", "List watched users", "Print the watch list from the config file.", &listCommand{})
	return parser
}

func loadEnv() {
	if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Could not load %s: %v\n", opts.EnvFile, err)
	}
}

func (runCommand) Execute([]string) error {
	loadEnv()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(opts.Config)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSIGTERM
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func (c *watchCommand) Execute([]string) error {
	return editWatchlist(c.Args.ID, true)
}

func (c *unwatchCommand) Execute([]string) error {
	return editWatchlist(c.Args.ID, false)
}

// editWatchlist changes the watch list in the config file. A running daemon picks the
// change up through hot reload.
func editWatchlist(id string, add bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("empty user id")
	}
	m := config.NewConfigManager(opts.Config)
	_, err := m.Update(func(cfg *config.Config) error {
		reg := watchlist.New(watchlist.Parse(cfg.Stalker.WatchedSubjectIDs)...)
		if add {
			reg.Add(id)
		} else {
			reg.Remove(id)
		}
		cfg.Stalker.WatchedSubjectIDs = watchlist.Join(reg.IDs())
		return nil
	})
	if err != nil {
		return err
	}
	if add {
		fmt.Fprintf(stdout, "Stalking %s\n", id)
	} else {
		fmt.Fprintf(stdout, "Stopped stalking %s\n", id)
	}
	return nil
}

func (listCommand) Execute([]string) error {
	cfg, err := config.NewConfigManager(opts.Config).Parse()
	if err != nil {
		return err
	}
	for _, id := range watchlist.Parse(cfg.Stalker.WatchedSubjectIDs) {
		fmt.Fprintln(stdout, id)
	}
	return nil
}
