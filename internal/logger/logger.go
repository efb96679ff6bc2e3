// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var stderr = struct{ io.Writer }{os.Stderr}

// Format selects the log output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func init() { //nolint:gochecknoinits // init with zerolog is idiomatic
	Configure(os.Getenv("LOG_LEVEL"), Format(os.Getenv("LOG_TYPE")))
}

type tTesting interface {
	Log(args ...interface{})
	Logf(format string, args ...interface{})
	Helper()
	Cleanup(f func())
}

// ConfigureTestLogging routes logs to the test's own output.
func ConfigureTestLogging(t tTesting) {
	oldLogger := log.Logger
	oldContextLogger := zerolog.DefaultContextLogger
	oldLevel := zerolog.GlobalLevel()
	configure(zerolog.DebugLevel, FormatText, zerolog.ConsoleTestWriter(t))
	t.Cleanup(func() {
		log.Logger = oldLogger
		zerolog.DefaultContextLogger = oldContextLogger
		zerolog.SetGlobalLevel(oldLevel)
	})
}

// ParseLevel maps a level name to a zerolog level. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Configure sets the global logger. Unknown levels fall back to info.
func Configure(level string, format Format) {
	lvl, _ := ParseLevel(level)
	configure(lvl, format)
}

func configure(level zerolog.Level, format Format, opts ...func(w *zerolog.ConsoleWriter)) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(level)

	var w io.Writer
	if strings.ToLower(string(format)) == string(FormatJSON) {
		w = stderr
	} else {
		defaults := func(w *zerolog.ConsoleWriter) {
			w.Out = stderr
			w.NoColor = !isatty.IsTerminal(os.Stderr.Fd())
			w.TimeFormat = "15:04:05.999 |"
		}
		w = zerolog.NewConsoleWriter(append([]func(w *zerolog.ConsoleWriter){defaults}, opts...)...)
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger
}
