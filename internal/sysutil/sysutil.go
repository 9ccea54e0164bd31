// Package sysutil holds process-level setup shared by the catalogd
// commands: global logger construction and small string helpers.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tbourn/go-catalog-ingest/internal/config"
)

// SetLogLevel configures the global zerolog level. Unknown values mean info.
func SetLogLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// LogWriter builds the log destination: stdout (console-formatted when
// pretty) plus a size-rotated file when LogFile.Path is set. The closer
// releases the file.
func LogWriter(stdout io.Writer, pretty bool, lf config.LogFileConfig) (io.Writer, io.Closer) {
	var console io.Writer = stdout
	if pretty {
		console = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339}
	}
	if strings.TrimSpace(lf.Path) == "" {
		return console, nopCloser{}
	}
	file := &lumberjack.Logger{
		Filename:   lf.Path,
		MaxSize:    lf.MaxSizeMB,
		MaxBackups: lf.MaxBackups,
		MaxAge:     lf.MaxAgeDays,
		Compress:   true,
	}
	return zerolog.MultiLevelWriter(console, file), file
}

// SetupLogging installs the global logger for cfg and makes it the default
// for contexts that carry none, so log.Ctx never drops lines.
func SetupLogging(cfg config.Config, component string) io.Closer {
	SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	w, closer := LogWriter(os.Stdout, cfg.LogPretty, cfg.LogFile)
	log.Logger = zerolog.New(w).With().
		Timestamp().
		Str("service", cfg.OTEL.ServiceName).
		Str("component", component).
		Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return closer
}

// FirstNonEmpty returns the first value that is not blank, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
