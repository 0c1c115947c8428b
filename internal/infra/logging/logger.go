package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logger is the shared zerolog instance for the application.
var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// InitLogger sets up zerolog with a rolling file backend using lumberjack.
// An empty logPath keeps output on stdout only.
func InitLogger(logPath string, maxSize, maxBackups, maxAge int, compress bool, logLevel string) {
	writers := []io.Writer{os.Stdout}
	if logPath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   logPath,    // Log file path
			MaxSize:    maxSize,    // Max size in megabytes before rotation
			MaxBackups: maxBackups, // Max number of rotated backups
			MaxAge:     maxAge,     // Max age in days to retain old logs
			Compress:   compress,   // Compress rotated files
		})
	}

	multi := zerolog.MultiLevelWriter(writers...)

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil || logLevel == "" {
		level = zerolog.InfoLevel // fallback to "info"
	}

	logger = zerolog.New(multi).
		With().
		Timestamp().
		Logger().
		Level(level)
}

func withFields(event *zerolog.Event, fields []any) *zerolog.Event {
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if err, isErr := fields[i+1].(error); isErr {
			event = event.AnErr(key, err)
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	return event
}

// Debug logs a message with level "debug" and optional key-value fields.
func Debug(msg string, fields ...any) {
	withFields(logger.Debug(), fields).Msg(msg)
}

// Info logs a message with level "info" and optional key-value fields.
func Info(msg string, fields ...any) {
	withFields(logger.Info(), fields).Msg(msg)
}

// Warn logs a message with level "warn" and optional key-value fields.
func Warn(msg string, fields ...any) {
	withFields(logger.Warn(), fields).Msg(msg)
}

// Error logs a message with level "error" and optional key-value fields.
func Error(msg string, fields ...any) {
	withFields(logger.Error(), fields).Msg(msg)
}

// SetLogLevel updates the logger's minimum log level at runtime.
func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	logger = logger.Level(lvl)
}

// SetLoggerForTest replaces the global logger – for test purposes only.
func SetLoggerForTest(l zerolog.Logger) {
	logger = l
}

// Redact shortens a token-like value so it can be logged without leaking it.
func Redact(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
