package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitFromEnvWritesFile(t *testing.T) {
	t.Cleanup(func() { Set(nil) })
	path := filepath.Join(t.TempDir(), "nested", "round.log")
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FILE", path)
	t.Setenv("LOG_FORMAT", "json")

	if err := InitFromEnv(); err != nil {
		t.Fatalf("init: %v", err)
	}
	L().Info("round_start", zap.String("round_id", "r1"))
	Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"round_id":"r1"`) {
		t.Fatalf("log line missing field: %s", b)
	}
}

func TestSetNilRestoresNop(t *testing.T) {
	Set(nil)
	if L() == nil {
		t.Fatal("nil logger")
	}
	L().Info("ignored")
}
