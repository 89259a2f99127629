package config

type Config struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Stalker holds the user-facing options of the notification engine.
	Stalker StalkerConfig `json:"stalker"`

	// Notifier controls the async delivery pipeline. If omitted, it defaults to enabled.
	Notifier    *NotifierConfig   `json:"notifier,omitempty"`
	MessageLog  MessageLogConfig  `json:"message_log"`
	ProfilePoll ProfilePollConfig `json:"profile_poll"`
	Metrics     MetricsConfig     `json:"metrics"`
	Engine      EngineConfig      `json:"engine"`
}

// StalkerConfig mirrors the engine settings.
//
// Booleans and the body limit are pointers so an omitted key keeps its default
// (track_* true, include_message_body false, body_character_limit 100). A body limit of 0
// means unlimited.
type StalkerConfig struct {
	TrackProfileChanges *bool `json:"track_profile_changes,omitempty"`
	TrackTypingStarted  *bool `json:"track_typing_started,omitempty"`
	TrackSentMessages   *bool `json:"track_sent_messages,omitempty"`
	IncludeMessageBody  *bool `json:"include_message_body,omitempty"`
	BodyCharacterLimit  *int  `json:"body_character_limit,omitempty"`

	// WatchedSubjectIDs is a comma-separated list of user IDs.
	WatchedSubjectIDs string `json:"watched_subject_ids"`
	// ViewingChannelID is the channel currently in focus; events there are suppressed.
	ViewingChannelID string `json:"viewing_channel_id,omitempty"`
}

type DiscordConfig struct {
	// Token may be left empty and supplied through STALKER_DISCORD_TOKEN.
	Token string `json:"token"`
	// Bot prefixes the token with "Bot ".
	Bot bool `json:"bot"`
	// StateMessages is the per-channel message count kept in memory (live store).
	StateMessages int `json:"state_messages,omitempty"`
	// APIBase overrides the REST root used by the profile fetcher.
	APIBase string `json:"api_base,omitempty"`

	DirectorySize int `json:"directory_size,omitempty"`
	// DirectoryTTL is a Go duration string; omitted or "0s" means 30m.
	DirectoryTTL string `json:"directory_ttl,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ChatID receives notifications. Defaults to the first owner.
	ChatID int64 `json:"chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	HistorySize     int    `json:"history_size,omitempty"`
}

// MessageLogConfig points at the message log used to resolve deleted messages.
//
// Example:
//
//	"message_log": { "driver": "sqlite", "path": "./stalker.db", "record": true }
type MessageLogConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// SecondaryPath is tried when Path cannot be opened.
	SecondaryPath string `json:"secondary_path,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Record appends observed messages to Path, creating it if needed.
	Record     bool `json:"record"`
	MaxEntries int  `json:"max_entries,omitempty"`
}

// ProfilePollConfig schedules profile fetches, the only source of profile changes.
// Enabled defaults to true when omitted.
type ProfilePollConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Spec     string `json:"spec,omitempty"` // cron spec; default "@every 10m"
	Timezone string `json:"timezone,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

func (p ProfilePollConfig) EffectiveEnabled() bool { return boolOr(p.Enabled, true) }

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"

	// Pprof mounts /debug/pprof on the metrics listener. Off loopback it needs
	// PprofToken, which is normally supplied through STALKER_PPROF_TOKEN.
	Pprof      bool   `json:"pprof,omitempty"`
	PprofToken string `json:"pprof_token,omitempty"`
}

// EngineConfig tunes the dispatch pipeline.
type EngineConfig struct {
	Workers int `json:"workers,omitempty"`

	SeedAttempts uint   `json:"seed_attempts,omitempty"`
	SeedDelay    string `json:"seed_delay,omitempty"`
	SeedMaxDelay string `json:"seed_max_delay,omitempty"`

	// AdvisoryURL is attached to the "message log unavailable" advisory.
	AdvisoryURL string `json:"advisory_url,omitempty"`
}

func (s StalkerConfig) EffectiveTrackProfileChanges() bool { return boolOr(s.TrackProfileChanges, true) }
func (s StalkerConfig) EffectiveTrackTypingStarted() bool  { return boolOr(s.TrackTypingStarted, true) }
func (s StalkerConfig) EffectiveTrackSentMessages() bool   { return boolOr(s.TrackSentMessages, true) }
func (s StalkerConfig) EffectiveIncludeMessageBody() bool  { return boolOr(s.IncludeMessageBody, false) }

func (s StalkerConfig) EffectiveBodyCharacterLimit() int {
	if s.BodyCharacterLimit == nil || *s.BodyCharacterLimit < 0 {
		return 100
	}
	return *s.BodyCharacterLimit
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
