package util

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLogLevel           = LevelInfo
	useColors                 = IsTerminal(os.Stderr.Fd())
	useJSON                   = false
	output          io.Writer = os.Stderr

	logger = buildLogger()
)

func buildLogger() zerolog.Logger {
	var w io.Writer = output
	if !useJSON {
		w = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
			NoColor:    !useColors,
		}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(zerologLevel(currentLogLevel))
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLogLevel sets the minimum log level to display
func SetLogLevel(level LogLevel) {
	currentLogLevel = level
	logger = buildLogger()
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		SetLogLevel(LevelDebug)
	}
}

// SetQuiet enables quiet mode (errors only)
func SetQuiet(quiet bool) {
	if quiet {
		SetLogLevel(LevelError)
	}
}

// SetColors enables or disables colored output
func SetColors(enabled bool) {
	useColors = enabled
	logger = buildLogger()
}

// SetFormat switches between "console" and "json" output
func SetFormat(format string) error {
	switch format {
	case "", "console":
		useJSON = false
	case "json":
		useJSON = true
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, format)
	}
	logger = buildLogger()
	return nil
}

// SetOutput redirects log output (tests use a buffer)
func SetOutput(w io.Writer) {
	output = w
	logger = buildLogger()
}

// Logger returns the process logger for structured fields
func Logger() *zerolog.Logger {
	return &logger
}

// DebugLog logs debug messages
func DebugLog(format string, args ...interface{}) {
	logger.Debug().Msgf(format, args...)
}

// InfoLog logs informational messages
func InfoLog(format string, args ...interface{}) {
	logger.Info().Msgf(format, args...)
}

// WarnLog logs warning messages
func WarnLog(format string, args ...interface{}) {
	logger.Warn().Msgf(format, args...)
}

// ErrorLog logs error messages
func ErrorLog(format string, args ...interface{}) {
	logger.Error().Msgf(format, args...)
}

// SuccessLog logs success messages (always shown unless quiet)
func SuccessLog(format string, args ...interface{}) {
	logger.Info().Bool("ok", true).Msgf(format, args...)
}

// IsQuiet reports whether only errors are shown
func IsQuiet() bool {
	return currentLogLevel >= LevelError
}
