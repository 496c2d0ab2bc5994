package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, output %q", err, buf.String())
	}
	return entry
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		level string
		log   func(string, ...any)
	}{
		{"DEBUG", l.Debug},
		{"INFO", l.Info},
		{"WARN", l.Warn},
		{"ERROR", l.Error},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf.Reset()
			tt.log("link up", "conn", "01J0")
			entry := decode(t, &buf)
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
			if entry["msg"] != "link up" || entry["conn"] != "01J0" {
				t.Errorf("entry = %v", entry)
			}
		})
	}
}

func TestLoggerWithAndSlog(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.With("component", "relay").Slog().Info("resync", "nodes", 3)
	entry := decode(t, &buf)
	if entry["component"] != "relay" {
		t.Errorf("component = %v, want relay", entry["component"])
	}
	if entry["nodes"] != float64(3) {
		t.Errorf("nodes = %v, want 3", entry["nodes"])
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "error", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer SetLevel("info")

	l.Info("filtered")
	if buf.Len() != 0 {
		t.Fatalf("info logged at error level: %q", buf.String())
	}

	SetLevel("debug")
	l.Debug("shown")
	if buf.Len() == 0 {
		t.Fatal("debug not logged after SetLevel(debug)")
	}
	if got := GetLevel(); got != "debug" {
		t.Errorf("GetLevel() = %q, want debug", got)
	}
}

func TestParseLevel(t *testing.T) {
	defer SetLevel("info")
	tests := []struct {
		input string
		want  string
		valid bool
	}{
		{"debug", "debug", true},
		{"INFO", "info", true},
		{"warning", "warn", true},
		{"Error", "error", true},
		{"verbose", "info", false},
		{"", "info", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			SetLevel(tt.input)
			if got := GetLevel(); got != tt.want {
				t.Errorf("SetLevel(%q); GetLevel() = %q, want %q", tt.input, got, tt.want)
			}
			if got := ValidLevel(tt.input); got != tt.valid {
				t.Errorf("ValidLevel(%q) = %v, want %v", tt.input, got, tt.valid)
			}
		})
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("span opened", "dist", 2)
	out := buf.String()
	if !strings.Contains(out, "span opened") || !strings.Contains(out, "dist=2") {
		t.Errorf("text output = %q", out)
	}
}

func TestPackageDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	SetDefault(l)

	for name, log := range map[string]func(string, ...any){
		"Debug": Debug, "Info": Info, "Warn": Warn, "Error": Error,
	} {
		buf.Reset()
		log("hello")
		if buf.Len() == 0 {
			t.Errorf("%s() produced no output", name)
		}
	}
}

func TestFromSlog(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	FromSlog(base).Info("adopted", "conn", "c1")
	entry := decode(t, &buf)
	if entry["msg"] != "adopted" || entry["conn"] != "c1" {
		t.Errorf("entry = %v", entry)
	}
	if FromSlog(base).Slog() != base {
		t.Error("Slog() did not return the wrapped logger")
	}
	if FromSlog(nil).Slog() == nil {
		t.Error("FromSlog(nil) has no slog logger")
	}
}
