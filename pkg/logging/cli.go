package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

const (
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorReset  = "\033[0m"

	noColorEnv = "NO_COLOR"
)

// CLIHandler is a custom slog.Handler for CLI output.
type CLIHandler struct {
	mu     *sync.Mutex
	writer io.Writer
	level  slog.Level
	color  bool
	prefix string
	attrs  []string
}

// NewCLIHandler writes to w. Colors are used only when w is a terminal
// and NO_COLOR is not set.
func NewCLIHandler(w io.Writer, level slog.Level) *CLIHandler {
	return &CLIHandler{
		mu:     &sync.Mutex{},
		writer: w,
		level:  level,
		color:  useColor(w),
	}
}

// WithColor returns a copy of the handler with colors forced on or off.
func (h *CLIHandler) WithColor(on bool) *CLIHandler {
	c := h.clone()
	c.color = on
	return c
}

func (h *CLIHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *CLIHandler) Handle(_ context.Context, r slog.Record) error {
	msg := r.Message
	if h.prefix != "" {
		msg = "[" + h.prefix + "] " + msg
	}

	attrs := slices.Clone(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		attrs = appendAttr(attrs, "", a)
		return true
	})
	if len(attrs) > 0 {
		msg = msg + ": " + strings.Join(attrs, " ")
	}

	if h.color {
		msg = levelColor(r.Level) + msg + colorReset
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.writer, msg)
	return err
}

func (h *CLIHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := h.clone()
	for _, a := range attrs {
		c.attrs = appendAttr(c.attrs, "", a)
	}
	return c
}

func (h *CLIHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	if c.prefix == "" {
		c.prefix = name
	} else {
		c.prefix = c.prefix + "." + name
	}
	return c
}

func (h *CLIHandler) clone() *CLIHandler {
	return &CLIHandler{
		mu:     h.mu,
		writer: h.writer,
		level:  h.level,
		color:  h.color,
		prefix: h.prefix,
		attrs:  slices.Clip(h.attrs),
	}
}

func appendAttr(list []string, group string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return list
	}

	key := a.Key
	if group != "" {
		key = group + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			list = appendAttr(list, key, ga)
		}
		return list
	}

	return append(list, fmt.Sprintf("%s=%v", key, a.Value))
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return colorRed
	case l >= slog.LevelWarn:
		return colorYellow
	default:
		return colorGreen
	}
}

func useColor(w io.Writer) bool {
	if _, ok := os.LookupEnv(noColorEnv); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func NewCLILogger(level string) *slog.Logger {
	lev := ParseLogLevel(level)
	handler := NewCLIHandler(os.Stderr, lev)
	return slog.New(handler)
}

func SetDefaultCLILogger(level string) {
	slog.SetDefault(NewCLILogger(level))
}

// ParseLogLevel converts a string log level to slog.Level.
// Defaults to slog.LevelInfo for unrecognized strings.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
