package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColoredTextHandlerCarriesBoundComponent(t *testing.T) {
	var buf bytes.Buffer
	h := NewColoredTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(h).With("component", "scheduler")

	logger.Info("job submitted", "job_id", "abc")

	out := buf.String()
	assert.Contains(t, out, "component=scheduler")
	assert.Contains(t, out, "\033[36mcomponent=scheduler\033[0m", "scheduler's component token should be cyan-colored")
	assert.Contains(t, out, "job_id=abc", "attrs bound earlier in the chain must still reach the serialized line")
}

func TestColoredTextHandlerUnknownComponentUncolored(t *testing.T) {
	var buf bytes.Buffer
	h := NewColoredTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(h).With("component", "something-new")

	logger.Info("tick")

	out := buf.String()
	assert.Contains(t, out, "component=something-new")
	assert.False(t, strings.Contains(out, "component=something-new\033["), "an unrecognized component name must pass through without its own color")
}

func TestColoredTextHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewColoredTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(h)

	logger.Info("should be filtered")
	logger.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should appear")
}
