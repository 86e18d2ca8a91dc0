package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// observed - логгер с перехватом записей
func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	zl := zap.New(core)
	return &Logger{Logger: zl, sugar: zl.Sugar()}, logs
}

// withGlobal подменяет глобальный логгер на время теста
func withGlobal(t *testing.T, l *Logger) {
	t.Helper()
	globalMu.Lock()
	prev := globalLogger
	globalLogger = l
	globalMu.Unlock()
	t.Cleanup(func() { SetGlobalLogger(prev) })
}

// ============================================================
// InitLogger
// ============================================================

func TestInitLogger_Formats(t *testing.T) {
	for _, cfg := range []LogConfig{
		{},
		{Level: "info", Format: "json"},
		{Level: "debug", Format: "text"},
		{Level: "debug", Format: "console", Development: true},
		{Level: "info", Output: "stdout"},
		{Level: "info", Output: "/nonexistent/directory/core.log"},
	} {
		l := InitLogger(cfg)
		if l == nil || l.Logger == nil || l.sugar == nil {
			t.Fatalf("InitLogger(%+v) returned incomplete logger", cfg)
		}
	}
}

func TestInitLogger_FileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.log")

	l := InitLogger(LogConfig{Level: "info", Format: "json", Output: path})
	l.WithComponent("portfolio").Info("account updated", AccountID("BITMEX-001"), Block(17))
	l.Debug("below level")
	_ = l.Sync()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 entry, got %d: %s", len(lines), content)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("entry is not JSON: %v", err)
	}
	for key, want := range map[string]any{
		"msg":        "account updated",
		"component":  "portfolio",
		"account_id": "BITMEX-001",
		"block":      float64(17),
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %v", key, entry[key], want)
		}
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("timestamp key ts missing")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"Error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

func TestGlobalLogger_LazyDefault(t *testing.T) {
	withGlobal(t, nil)

	l := GetGlobalLogger()
	if l == nil {
		t.Fatal("GetGlobalLogger returned nil")
	}
	if L() != l {
		t.Error("L() must return the global logger")
	}
}

func TestInitGlobalLogger(t *testing.T) {
	withGlobal(t, nil)

	l := InitGlobalLogger(LogConfig{Level: "warn"})
	if GetGlobalLogger() != l {
		t.Error("InitGlobalLogger did not replace the global logger")
	}
}

func TestGlobalFunctions(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)
	withGlobal(t, l)

	Debug("bus started", Topic("data.quotes.*"))
	Info("instruments loaded", Int("count", 3))
	Warn("account poll failed")
	Error("bridge stopped")
	Infof("replayed %d quotes", 42)
	Errorf("pool %s failed", "0xabc")

	want := []string{"bus started", "instruments loaded", "account poll failed",
		"bridge stopped", "replayed 42 quotes", "pool 0xabc failed"}
	entries := logs.AllUntimed()
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.Message != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Message, want[i])
		}
	}
}

// ============================================================
// Контекст и поля
// ============================================================

func TestLogger_WithContext(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)

	l.WithComponent("venue_feed").
		WithVenue("BITMEX").
		WithInstrument("XBTUSD.BITMEX").
		WithAccount("BITMEX-001").
		Info("mark price")

	ctx := logs.All()[0].ContextMap()
	for key, want := range map[string]string{
		"component":     "venue_feed",
		"venue":         "BITMEX",
		"instrument_id": "XBTUSD.BITMEX",
		"account_id":    "BITMEX-001",
	} {
		if ctx[key] != want {
			t.Errorf("%s = %v, want %s", key, ctx[key], want)
		}
	}
}

func TestFieldConstructors(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)

	l.Info("position changed",
		OrderID("O-1"),
		PositionID("P-1"),
		Price("65000.5"),
		Quantity("100"),
		PNL("-0.0012 XBT"),
		Side("LONG"),
		State("OPEN"),
		Latency(12.5),
		RequestID("req-1"),
		Attempt(2),
		URL("wss://ws.bitmex.com/realtime"),
	)

	ctx := logs.All()[0].ContextMap()
	want := map[string]any{
		"order_id":    "O-1",
		"position_id": "P-1",
		"price":       "65000.5",
		"quantity":    "100",
		"pnl":         "-0.0012 XBT",
		"side":        "LONG",
		"state":       "OPEN",
		"latency_ms":  12.5,
		"request_id":  "req-1",
		"attempt":     int64(2),
		"url":         "wss://ws.bitmex.com/realtime",
	}
	for key, v := range want {
		if ctx[key] != v {
			t.Errorf("%s = %v (%T), want %v", key, ctx[key], ctx[key], v)
		}
	}
}

func TestLogger_Infow(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)

	l.Infow("snapshot saved", String("pool", "0xabc"), Uint64("block", 9))

	ctx := logs.All()[0].ContextMap()
	if ctx["pool"] != "0xabc" || ctx["block"] != uint64(9) {
		t.Errorf("unexpected context %v", ctx)
	}
}

func TestFieldsToInterface(t *testing.T) {
	kv := fieldsToInterface([]zap.Field{String("venue", "SIM"), Int("count", 2)})
	if len(kv) != 4 || kv[0] != "venue" || kv[1] != "SIM" || kv[2] != "count" {
		t.Errorf("unexpected pairs %v", kv)
	}
}

func BenchmarkLogger_With(b *testing.B) {
	l := NewNop()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		l.WithVenue("BITMEX").WithInstrument("XBTUSD.BITMEX").Info("mark price", Int("i", i))
	}
}
