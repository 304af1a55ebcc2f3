package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}
	return entry
}

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelInfo)

	l.Warn("通知を配信しました",
		slog.String("user_id", "u-123"),
		slog.Int("delivered", 2),
	)

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "通知を配信しました" {
		t.Errorf("msg = %q", entry["msg"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %q, want WARN", entry["level"])
	}
	if entry["user_id"] != "u-123" || entry["delivered"] != float64(2) {
		t.Errorf("attrs = %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetup_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelWarn)

	l.Info("出力されない")
	if buf.Len() != 0 {
		t.Errorf("INFOはWARNレベルでは出力されない: %s", buf.String())
	}

	l.Error("出力される")
	if !strings.Contains(buf.String(), "出力される") {
		t.Error("ERRORはWARNレベルで出力される")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	l := SetupDefault(&buf, slog.LevelDebug)

	slog.Default().Debug("global test", slog.String("test_key", "test_val"))

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "global test" || entry["test_key"] != "test_val" {
		t.Errorf("entry = %v", entry)
	}
	if l != slog.Default() {
		t.Error("SetupDefaultは設定したロガーを返す")
	}
}
