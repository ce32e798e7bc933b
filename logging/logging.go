package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// SubSystem tags every log line with the part of the pipeline that emitted it
type SubSystem string

const (
	Run     SubSystem = "run"
	Config  SubSystem = "config"
	Storage SubSystem = "storage"
	Sumo    SubSystem = "sumo"
	Traci   SubSystem = "traci"
	Train   SubSystem = "train"
	Test    SubSystem = "test"
	Report  SubSystem = "report"
)

// Setup installs the default logger. format is "text" or "json".
func Setup(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func Warn(msg string, subSystem SubSystem, keyvals ...interface{}) {
	withSubsystem := append([]interface{}{"subsystem", subSystem}, keyvals...)
	slog.Warn(msg, withSubsystem...)
}

func Info(msg string, subSystem SubSystem, keyvals ...interface{}) {
	withSubsystem := append([]interface{}{"subsystem", subSystem}, keyvals...)
	slog.Info(msg, withSubsystem...)
}

func Error(msg string, subSystem SubSystem, keyvals ...interface{}) {
	withSubsystem := append([]interface{}{"subsystem", subSystem}, keyvals...)
	slog.Error(msg, withSubsystem...)
}

func Debug(msg string, subSystem SubSystem, keyvals ...interface{}) {
	withSubsystem := append([]interface{}{"subsystem", subSystem}, keyvals...)
	slog.Debug(msg, withSubsystem...)
}
