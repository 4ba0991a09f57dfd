package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseLevel(raw), "level %q", raw)
	}
}

func TestSetOutputJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "warn", "json")
	t.Cleanup(func() { Configure("", "") })

	Info("[test] hidden")
	Warn("[test] shown", "sessionId", "abc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"[test] shown"`)
	assert.Contains(t, out, `"sessionId":"abc"`)
}
