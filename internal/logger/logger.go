package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var (
	levelVar = new(slog.LevelVar)
	format   = "json"
	output   io.Writer = os.Stdout
)

var L = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// SetFormat switches the handler between "json" and "text".
func SetFormat(f string) {
	format = strings.ToLower(f)
	rebuild()
}

// SetOutput redirects log output, e.g. to stderr when stdout carries command output.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	output = w
	rebuild()
}

func rebuild() {
	opts := &slog.HandlerOptions{Level: levelVar}
	if format == "text" {
		L = slog.New(slog.NewTextHandler(output, opts))
		return
	}
	L = slog.New(slog.NewJSONHandler(output, opts))
}
