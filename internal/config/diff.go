package config

import (
	"reflect"
	"sort"
	"strings"

	logx "stalker/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe structured
// attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Discord.StateMessages != newCfg.Discord.StateMessages ||
		oldCfg.Discord.Bot != newCfg.Discord.Bot ||
		strings.TrimSpace(oldCfg.Discord.APIBase) != strings.TrimSpace(newCfg.Discord.APIBase) ||
		oldCfg.Discord.DirectorySize != newCfg.Discord.DirectorySize ||
		strings.TrimSpace(oldCfg.Discord.DirectoryTTL) != strings.TrimSpace(newCfg.Discord.DirectoryTTL) ||
		(oldCfg.Discord.Token != "") != (newCfg.Discord.Token != "") {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Bool("discord.token_set", newCfg.Discord.Token != ""),
			logx.Int("discord.state_messages", newCfg.Discord.StateMessages),
		)
	}

	if oldCfg.Telegram.Enabled != newCfg.Telegram.Enabled ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		oldCfg.Telegram.ChatID != newCfg.Telegram.ChatID {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	prev, next := oldCfg.Stalker, newCfg.Stalker
	if prev.EffectiveTrackProfileChanges() != next.EffectiveTrackProfileChanges() ||
		prev.EffectiveTrackTypingStarted() != next.EffectiveTrackTypingStarted() ||
		prev.EffectiveTrackSentMessages() != next.EffectiveTrackSentMessages() ||
		prev.EffectiveIncludeMessageBody() != next.EffectiveIncludeMessageBody() ||
		prev.EffectiveBodyCharacterLimit() != next.EffectiveBodyCharacterLimit() ||
		prev.ViewingChannelID != next.ViewingChannelID {
		changed = append(changed, "stalker")
		attrs = append(attrs,
			logx.Bool("stalker.track_profile_changes", next.EffectiveTrackProfileChanges()),
			logx.Bool("stalker.track_typing_started", next.EffectiveTrackTypingStarted()),
			logx.Bool("stalker.track_sent_messages", next.EffectiveTrackSentMessages()),
			logx.Bool("stalker.include_message_body", next.EffectiveIncludeMessageBody()),
			logx.Int("stalker.body_character_limit", next.EffectiveBodyCharacterLimit()),
		)
	}
	if strings.TrimSpace(prev.WatchedSubjectIDs) != strings.TrimSpace(next.WatchedSubjectIDs) {
		changed = append(changed, "watchlist")
	}

	defN := DefaultNotifier()
	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if oldN == nil {
		oldN = &defN
	}
	if newN == nil {
		newN = &defN
	}
	if *oldN != *newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
		)
	}

	if oldCfg.MessageLog != newCfg.MessageLog {
		changed = append(changed, "message_log")
		attrs = append(attrs,
			logx.String("message_log.driver", strings.TrimSpace(newCfg.MessageLog.Driver)),
			logx.Bool("message_log.record", newCfg.MessageLog.Record),
		)
	}

	oldP, newP := oldCfg.ProfilePoll, newCfg.ProfilePoll
	if oldP.EffectiveEnabled() != newP.EffectiveEnabled() ||
		oldP.Spec != newP.Spec || oldP.Timezone != newP.Timezone || oldP.Timeout != newP.Timeout {
		changed = append(changed, "profile_poll")
		attrs = append(attrs,
			logx.Bool("profile_poll.enabled", newP.EffectiveEnabled()),
			logx.String("profile_poll.spec", strings.TrimSpace(newP.Spec)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs, logx.Int("engine.workers", newCfg.Engine.Workers))
	}

	sort.Strings(changed)
	return changed, attrs
}

// DefaultNotifier is the runtime notifier config used when the section is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		SendTimeout:     "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
		HistorySize:     200,
	}
}
