package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
discord:
  token: ""
  bot: false
telegram:
  enabled: true
  token: "t"
  owner_user_ids: [42]
  poll_timeout: "10s"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
stalker:
  track_typing_started: false
  body_character_limit: 0
  watched_subject_ids: "U1,U2"
message_log:
  driver: file
  path: ./messages.jsonl
  record: true
profile_poll:
  enabled: true
  spec: "@every 5m"
metrics:
  enabled: false
engine:
  workers: 2
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Stalker.WatchedSubjectIDs != "U1,U2" {
		t.Fatalf("watched = %q, want U1,U2", cfg.Stalker.WatchedSubjectIDs)
	}
	if cfg.Stalker.EffectiveTrackTypingStarted() {
		t.Fatal("track_typing_started = true, want false")
	}
	if !cfg.Stalker.EffectiveTrackProfileChanges() || !cfg.Stalker.EffectiveTrackSentMessages() {
		t.Fatal("omitted track_* should default to true")
	}
	if cfg.Stalker.EffectiveIncludeMessageBody() {
		t.Fatal("include_message_body should default to false")
	}
	if got := cfg.Stalker.EffectiveBodyCharacterLimit(); got != 0 {
		t.Fatalf("body_character_limit = %d, want 0 (unlimited)", got)
	}
	if !reflect.DeepEqual(cfg.Telegram.OwnerUserIDs, []int64{42}) {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if m.Get() != cfg {
		t.Fatal("Get() should return the committed config")
	}
}

func TestStalkerDefaults(t *testing.T) {
	t.Parallel()

	var s StalkerConfig
	if got := s.EffectiveBodyCharacterLimit(); got != 100 {
		t.Fatalf("default body limit = %d, want 100", got)
	}

	var p ProfilePollConfig
	if !p.EffectiveEnabled() {
		t.Fatal("profile_poll.enabled default = false, want true")
	}
	off := false
	p.Enabled = &off
	if p.EffectiveEnabled() {
		t.Fatal("profile_poll.enabled = false was ignored")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeFile(t, "config.json", `{"stalker": {"watched": "U1"}}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("Parse() accepted an unknown key")
	}

	m = NewConfigManager(writeFile(t, "config.json", `{} {}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("Parse() accepted trailing data")
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"config.yaml", "config.json"} {
		body := sampleYAML
		if strings.HasSuffix(name, ".json") {
			body = `{"stalker": {"watched_subject_ids": "U1"}}`
		}
		m := NewConfigManager(writeFile(t, name, body))

		_, err := m.Update(func(cfg *Config) error {
			cfg.Stalker.WatchedSubjectIDs = "U1,U9"
			return nil
		})
		if err != nil {
			t.Fatalf("%s: Update() = %v", name, err)
		}

		again, err := m.Parse()
		if err != nil {
			t.Fatalf("%s: Parse() after save = %v", name, err)
		}
		if again.Stalker.WatchedSubjectIDs != "U1,U9" {
			t.Fatalf("%s: watched = %q, want U1,U9", name, again.Stalker.WatchedSubjectIDs)
		}
		if hashConfig(again) != hashConfig(m.Get()) {
			t.Fatalf("%s: committed config differs from file", name)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	off := false
	oldCfg := &Config{Stalker: StalkerConfig{WatchedSubjectIDs: "U1"}}
	newCfg := &Config{
		Stalker:  StalkerConfig{WatchedSubjectIDs: "U1,U2", TrackTypingStarted: &off},
		Discord:  DiscordConfig{Token: "secret"},
		Notifier: &NotifierConfig{Enabled: false},
	}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"discord", "notifier", "stalker", "watchlist"}
	if !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("attrs empty")
	}

	if changed, _ := SummarizeConfigChange(oldCfg, oldCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", `{"stalker": {"watched_subject_ids": "U1"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"stalker": {"watched_subject_ids": "U1,U2"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-sub:
		if cfg.Stalker.WatchedSubjectIDs != "U1,U2" {
			t.Fatalf("published watched = %q", cfg.Stalker.WatchedSubjectIDs)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", time.Second)
	if err != nil || d != time.Second {
		t.Fatalf("ParseDurationOrDefault(\"\") = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("bad duration accepted")
	}
}
