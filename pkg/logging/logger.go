package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is the application-wide structured logger. It embeds slog.Logger,
// so call sites use the usual Info/Warn/Error key-value API.
type Logger struct {
	*slog.Logger
}

// New builds a JSON logger at the given level. Unknown level strings fall
// back to info rather than failing startup.
func New(level string) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return &Logger{Logger: slog.New(handler)}
}

// Default returns an info-level logger for code paths that were handed a
// nil logger.
func Default() *Logger {
	return New("info")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithConversation returns a logger that stamps every record with the
// conversation id, so per-conversation pipelines stay greppable.
func (l *Logger) WithConversation(conversationID string) *Logger {
	return &Logger{Logger: l.Logger.With("conversation_id", conversationID)}
}

// WithTrace returns a logger that stamps every record with a trace id.
func (l *Logger) WithTrace(traceID string) *Logger {
	return &Logger{Logger: l.Logger.With("trace_id", traceID)}
}
