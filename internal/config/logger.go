package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger initializes the application logger based on configuration
func InitLogger(cfg *LoggingConfig) (*slog.Logger, error) {
	// Parse log level
	level := parseLogLevel(cfg.Level)

	// If file is empty, try to use default
	if cfg.File == "" {
		cfg.File = filepath.Join(getStateDir(), "acquisitiond", "acquisitiond.log")
	}

	// Create log file directory if it doesn't exist
	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	// Configure log rotation
	var writer io.Writer
	if cfg.File != "" {
		writer = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}
	} else {
		writer = os.Stderr
	}

	// Create handler based on format
	var handler slog.Handler
	handlerOpts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, handlerOpts)
	default:
		// For text format, we'll use a colored handler if enabled and outputting to console
		isConsole := cfg.File == "" // Only apply coloring when logging to console, not file
		if cfg.Color && isConsole {
			handler = NewColoredTextHandler(writer, handlerOpts)
		} else {
			handler = slog.NewTextHandler(writer, handlerOpts)
		}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, nil
}

// componentColors assigns a stable ANSI color per "component" attr value,
// so a mixed stream from the scheduler, reconcile service, catalog store
// and HLS fetcher can be told apart at a glance without grepping. Anything
// outside this set falls back to no color.
var componentColors = map[string]string{
	"scheduler": "\033[36m", // cyan
	"reconcile": "\033[35m", // magenta
	"catalog":   "\033[34m", // blue
	"hls":       "\033[94m", // bright blue
}

// ColoredTextHandler wraps slog.TextHandler to color-code console output by
// level and, on top of that, by the emitting component, since acquisitiond
// runs several subsystems concurrently on one stderr stream. It tracks its
// own WithAttrs/WithGroup chain rather than delegating to a pre-built
// slog.TextHandler, since Handle needs a fresh buffer-backed handler per
// record and must still carry forward every attr/group bound upstream by
// logger.With/WithGroup (e.g. "component", bound once per subsystem logger).
type ColoredTextHandler struct {
	writer io.Writer
	opts   *slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
}

// NewColoredTextHandler creates a new handler that adds colors for console output
func NewColoredTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColoredTextHandler {
	return &ColoredTextHandler{writer: w, opts: opts}
}

// Handle implements slog.Handler interface
func (h *ColoredTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var buf strings.Builder
	var inner slog.Handler = slog.NewTextHandler(&buf, h.opts)
	for _, g := range h.groups {
		inner = inner.WithGroup(g)
	}
	if len(h.attrs) > 0 {
		inner = inner.WithAttrs(h.attrs)
	}
	if err := inner.Handle(ctx, r); err != nil {
		return err
	}

	line := h.addColor(buf.String(), r.Level.String())
	line = h.addComponentColor(line, h.boundComponent())

	_, err := h.writer.Write([]byte(line))
	return err
}

// boundComponent returns the "component" value bound via logger.With, if
// any. Components are always bound once at logger construction, never
// passed per log-call, so only h.attrs (not the record's own attrs) need
// checking.
func (h *ColoredTextHandler) boundComponent() string {
	for _, a := range h.attrs {
		if a.Key == "component" {
			return a.Value.String()
		}
	}
	return ""
}

// addColor applies ANSI color codes based on log level
func (h *ColoredTextHandler) addColor(line, level string) string {
	var colorFunc func(string) string

	// Determine color based on log level
	switch level {
	case "DEBUG":
		// Gray for debug
		colorFunc = func(s string) string {
			return fmt.Sprintf("\033[90m%s\033[0m", s) // bright black/gray
		}
	case "INFO":
		// Green for info
		colorFunc = func(s string) string {
			return fmt.Sprintf("\033[32m%s\033[0m", s) // green
		}
	case "WARN":
		// Yellow for warning
		colorFunc = func(s string) string {
			return fmt.Sprintf("\033[33m%s\033[0m", s) // yellow
		}
	case "ERROR":
		// Red for error
		colorFunc = func(s string) string {
			return fmt.Sprintf("\033[31m%s\033[0m", s) // red
		}
	default:
		return line // Return unchanged if no match
	}

	// Colorize the first word (typically the level) in the log line
	parts := strings.SplitN(line, " ", 2)
	if len(parts) >= 2 {
		coloredPart := colorFunc(parts[0])
		return coloredPart + " " + parts[1]
	}
	return colorFunc(line)
}

// addComponentColor colors the "component=<name>" token so concurrent
// subsystems read apart on a shared stream; unrecognized or absent
// components pass through untouched.
func (h *ColoredTextHandler) addComponentColor(line, component string) string {
	color, ok := componentColors[component]
	if !ok {
		return line
	}
	needle := "component=" + component
	colored := color + needle + "\033[0m"
	return strings.Replace(line, needle, colored, 1)
}

// WithAttrs implements slog.Handler interface
func (h *ColoredTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColoredTextHandler{
		writer: h.writer,
		opts:   h.opts,
		attrs:  append(append([]slog.Attr(nil), h.attrs...), attrs...),
		groups: h.groups,
	}
}

// WithGroup implements slog.Handler interface
func (h *ColoredTextHandler) WithGroup(name string) slog.Handler {
	return &ColoredTextHandler{
		writer: h.writer,
		opts:   h.opts,
		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}

// Enabled implements slog.Handler interface
func (h *ColoredTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts != nil && h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// parseLogLevel parses a log level string
func parseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
