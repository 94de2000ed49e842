package log

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LevelWarn)

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", "user", "alice@example.com")
	Error("shown error", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown warn user=alice@example.com")
	assert.Contains(t, out, "[ERROR] shown error err=boom")
}

func TestValueFormatting(t *testing.T) {
	buf := capture(t, LevelDebug)

	Debug("kv",
		"subject", "Busy (synced)",
		"empty", "",
		"took", 1500*time.Millisecond,
		"at", time.Date(2008, 4, 21, 13, 0, 0, 0, time.UTC),
		42, "dropped",
		"odd",
	)

	out := buf.String()
	assert.Contains(t, out, `subject="Busy (synced)"`)
	assert.Contains(t, out, `empty=""`)
	assert.Contains(t, out, "took=1.5s")
	assert.Contains(t, out, "at=2008-04-21T13:00:00Z")
	assert.NotContains(t, out, "dropped")
	assert.NotContains(t, out, "odd")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"":        LevelInfo,
		"Info":    LevelInfo,
		"warning": LevelWarn,
		"ERROR":   LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
