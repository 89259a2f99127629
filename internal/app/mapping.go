package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"stalker/internal/config"
	"stalker/internal/engine"
	"stalker/internal/metrics"
	"stalker/internal/msglog"
	"stalker/internal/notifier"
	"stalker/internal/poller"
	logx "stalker/pkg/logx"
)

// Environment overrides for secrets, so config files can be committed without tokens.
const (
	EnvDiscordToken  = "STALKER_DISCORD_TOKEN"
	EnvTelegramToken = "STALKER_TELEGRAM_TOKEN"
	EnvPprofToken    = "STALKER_PPROF_TOKEN"
)

const defaultMetricsAddr = "127.0.0.1:9464"

func applyEnv(cfg *config.Config) {
	if v := strings.TrimSpace(os.Getenv(EnvDiscordToken)); v != "" && strings.TrimSpace(cfg.Discord.Token) == "" {
		cfg.Discord.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" && strings.TrimSpace(cfg.Telegram.Token) == "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPprofToken)); v != "" && strings.TrimSpace(cfg.Metrics.PprofToken) == "" {
		cfg.Metrics.PprofToken = v
	}
}

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSettings(cfg *config.Config) engine.Settings {
	s := cfg.Stalker
	return engine.Settings{
		TrackProfileChanges: s.EffectiveTrackProfileChanges(),
		TrackTypingStarted:  s.EffectiveTrackTypingStarted(),
		TrackSentMessages:   s.EffectiveTrackSentMessages(),
		IncludeMessageBody:  s.EffectiveIncludeMessageBody(),
		BodyCharacterLimit:  s.EffectiveBodyCharacterLimit(),
	}
}

// mapNotifierConfig parses the notifier section. An omitted section means enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	def := config.DefaultNotifier()
	n := &def
	if cfg != nil && cfg.Notifier != nil {
		n = cfg.Notifier
	}

	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         orInt(n.Workers, def.Workers),
		QueueSize:       orInt(n.QueueSize, def.QueueSize),
		RatePerSec:      orInt(n.RatePerSec, def.RatePerSec),
		RetryMax:        orInt(n.RetryMax, def.RetryMax),
		DedupMaxEntries: orInt(n.DedupMaxEntries, def.DedupMaxEntries),
		HistorySize:     orInt(n.HistorySize, def.HistorySize),
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, time.Minute); err != nil {
		return notifier.Config{}, err
	}

	switch {
	case out.Workers < 0:
		return notifier.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	case out.QueueSize < 0:
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	case out.RatePerSec < 0:
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	case out.RetryMax < 0:
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	case out.DedupMaxEntries < 0:
		return notifier.Config{}, fmt.Errorf("notifier.dedup_max_entries must be >= 0")
	}
	return out, nil
}

// mapMessageLogConfig returns the configs for the primary and secondary locations.
// enabled is false when the driver is empty or "none".
func mapMessageLogConfig(cfg *config.Config) (primary, secondary msglog.Config, enabled bool, err error) {
	ml := cfg.MessageLog
	driver := strings.ToLower(strings.TrimSpace(ml.Driver))
	if driver == "" || driver == "none" {
		return msglog.Config{}, msglog.Config{}, false, nil
	}
	switch driver {
	case "file", "sqlite", "sqlite3":
	default:
		return msglog.Config{}, msglog.Config{}, false, fmt.Errorf("unknown message_log.driver: %s", ml.Driver)
	}
	path := strings.TrimSpace(ml.Path)
	if path == "" {
		return msglog.Config{}, msglog.Config{}, false, fmt.Errorf("message_log.path is required when message_log.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("message_log.busy_timeout", ml.BusyTimeout, time.Second)
	if err != nil {
		return msglog.Config{}, msglog.Config{}, false, err
	}

	primary = msglog.Config{Driver: driver, Path: path, BusyTimeout: busy, Create: ml.Record, MaxEntries: ml.MaxEntries}
	if p := strings.TrimSpace(ml.SecondaryPath); p != "" {
		secondary = msglog.Config{Driver: driver, Path: p, BusyTimeout: busy, MaxEntries: ml.MaxEntries}
	}
	return primary, secondary, true, nil
}

func mapPollerConfig(cfg *config.Config) (poller.Config, error) {
	pp := cfg.ProfilePoll
	timeout, err := config.ParseDurationOrDefault("profile_poll.timeout", pp.Timeout, 2*time.Minute)
	if err != nil {
		return poller.Config{}, err
	}
	if tz := strings.TrimSpace(pp.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return poller.Config{}, fmt.Errorf("profile_poll.timezone: invalid %q: %w", tz, err)
		}
	}
	return poller.Config{
		Enabled:  pp.EffectiveEnabled(),
		Spec:     pp.Spec,
		Timezone: pp.Timezone,
		Timeout:  timeout,
	}, nil
}

func mapSeedConfig(cfg *config.Config) (engine.SeedConfig, error) {
	e := cfg.Engine
	delay, err := config.ParseDurationField("engine.seed_delay", e.SeedDelay)
	if err != nil {
		return engine.SeedConfig{}, err
	}
	maxDelay, err := config.ParseDurationField("engine.seed_max_delay", e.SeedMaxDelay)
	if err != nil {
		return engine.SeedConfig{}, err
	}
	return engine.SeedConfig{Attempts: e.SeedAttempts, Delay: delay, MaxDelay: maxDelay}, nil
}

func mapMetricsConfig(cfg *config.Config) metrics.ServeConfig {
	addr := strings.TrimSpace(cfg.Metrics.Addr)
	if addr == "" {
		addr = defaultMetricsAddr
	}
	return metrics.ServeConfig{
		Addr:  addr,
		Pprof: cfg.Metrics.Pprof,
		Token: strings.TrimSpace(cfg.Metrics.PprofToken),
	}
}

// validate rejects configs the reload loop could not apply.
func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must be >= 0")
	}
	if cfg.Stalker.BodyCharacterLimit != nil && *cfg.Stalker.BodyCharacterLimit < 0 {
		return fmt.Errorf("stalker.body_character_limit must be >= 0")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("discord.directory_ttl", cfg.Discord.DirectoryTTL); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, _, err := mapMessageLogConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPollerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSeedConfig(cfg); err != nil {
		return err
	}
	return nil
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
