package sloghooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func newLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestKeysAreRedacted(t *testing.T) {
	var buf bytes.Buffer
	h := New(newLogger(&buf), Options{})

	h.FactoryError("op-1", "user:42", errors.New("db down"))

	recs := records(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "layercache.factory_error", recs[0]["msg"])
	assert.Equal(t, "WARN", recs[0]["level"])
	assert.Equal(t, "db down", recs[0]["err"])
	assert.NotContains(t, recs[0]["key"], "user:42")
	assert.Len(t, recs[0]["key"], 16)
}

func TestCustomRedactor(t *testing.T) {
	var buf bytes.Buffer
	h := New(newLogger(&buf), Options{Redact: func(string) string { return "***" }})

	h.AutoRecoveryDropped("k", "capacity")
	recs := records(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "***", recs[0]["key"])
	assert.Equal(t, "capacity", recs[0]["reason"])
}

func TestHitSampling(t *testing.T) {
	var buf bytes.Buffer
	h := New(newLogger(&buf), Options{HitEvery: 3})

	for i := 0; i < 9; i++ {
		h.Hit("op", "k", false)
	}
	assert.Len(t, records(t, &buf), 3)
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	assert.NotPanics(t, func() {
		h.Hit("op", "k", true)
		h.Miss("op", "k")
		h.Set("op", "k")
		h.CircuitBreakerChanged("distributed", true)
		h.DistributedError("op", "k", errors.New("x"))
	})
}
