package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWriterLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn").With(String("comp", "engine"))

	log.Info("dropped")
	log.Warn("kept",
		Int("n", 3),
		Bool("ok", true),
		Strings("ids", []string{"U1", "U2"}),
		Duration("took", time.Second),
		Err(errors.New("boom")),
	)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1 (info must be filtered): %q", len(lines), buf.String())
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["message"] != "kept" || got["comp"] != "engine" || got["level"] != "warn" {
		t.Fatalf("entry = %v", got)
	}
	if got["n"] != float64(3) || got["ok"] != true {
		t.Fatalf("fields = %v", got)
	}
	if got["error"] != "boom" && got["err"] != "boom" {
		t.Fatalf("error field missing: %v", got)
	}
	if _, ok := got["caller"]; !ok {
		t.Fatalf("caller missing: %v", got)
	}
}

func TestNopAndZero(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("Logger{}.IsZero() = false, want true")
	}
	if Nop().IsZero() {
		t.Fatal("Nop().IsZero() = true, want false")
	}
	zero.Info("no panic on zero logger")
}
