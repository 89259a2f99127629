package msglog

import (
	"context"
	"path/filepath"
	"testing"

	"stalker/internal/event"
	logx "stalker/pkg/logx"
)

func openTestStore(t *testing.T, driver string) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log."+driver)
	st, err := Open(Config{Driver: driver, Path: path, Create: true}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) error: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestStoreAppendLookup(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st, _ := openTestStore(t, driver)

			msg := event.Message{
				ID: "M1", ChannelID: "C1", GuildID: "G1", AuthorID: "U1",
				Content: "secret plan", Attachments: []event.Attachment{{Filename: "plan.pdf"}},
			}
			if err := st.Append(ctx, msg); err != nil {
				t.Fatalf("Append error: %v", err)
			}
			msg.Content = "secret plan v2"
			if err := st.Append(ctx, msg); err != nil {
				t.Fatalf("Append (edit) error: %v", err)
			}

			got, ok, err := st.Lookup(ctx, "M1")
			if err != nil || !ok {
				t.Fatalf("Lookup = ok:%v err:%v, want hit", ok, err)
			}
			if got.Content != "secret plan v2" || got.GuildID != "G1" || got.FirstAttachment() != "plan.pdf" {
				t.Fatalf("Lookup = %+v", got)
			}

			if _, ok, err := st.Lookup(ctx, "missing"); ok || err != nil {
				t.Fatalf("Lookup(missing) = ok:%v err:%v, want miss", ok, err)
			}
		})
	}
}

func TestFileStoreReplaysJournal(t *testing.T) {
	ctx := context.Background()
	st, path := openTestStore(t, "file")
	if err := st.Append(ctx, event.Message{ID: "M1", ChannelID: "C1", AuthorID: "U1", Content: "hi"}); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	_ = st.Close()

	reopened, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()
	got, ok, _ := reopened.Lookup(ctx, "M1")
	if !ok || got.Content != "hi" {
		t.Fatalf("Lookup after reopen = %+v ok=%v", got, ok)
	}
}

func TestOpenWithoutCreateRequiresExistingPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.jsonl")
	for _, driver := range []string{"file", "sqlite"} {
		if _, err := Open(Config{Driver: driver, Path: missing}, logx.Nop()); err == nil {
			t.Fatalf("%s: expected error for missing path", driver)
		}
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("Open(none) = %v, %v; want nil, nil", st, err)
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreCompactionBoundsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bounded.jsonl")
	st, err := Open(Config{Driver: "file", Path: path, Create: true, MaxEntries: 10}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	for i := 0; i < 30; i++ {
		id := string(rune('a'+i%26)) + string(rune('A'+i/26))
		if err := st.Append(ctx, event.Message{ID: id, ChannelID: "C", AuthorID: "U"}); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}
	fs := st.(*fileStore)
	if n := len(fs.byID); n > 11 {
		t.Fatalf("index size = %d, want <= 11", n)
	}
}

func TestRecorderLogsCreatedAndEdited(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t, "file")
	r := NewRecorder(st, logx.Nop())

	r.Record(ctx, event.MessageCreated{GuildID: "G1", Message: &event.Message{ID: "M1", ChannelID: "C1", AuthorID: "U1", Content: "a"}})
	r.Record(ctx, event.MessageEdited{Message: &event.Message{ID: "M1", ChannelID: "C1", AuthorID: "U1", Content: "b"}})
	r.Record(ctx, event.TypingStarted{ChannelID: "C1", UserID: "U1"})

	got, ok, _ := st.Lookup(ctx, "M1")
	if !ok || got.Content != "b" {
		t.Fatalf("Lookup = %+v ok=%v", got, ok)
	}
}
