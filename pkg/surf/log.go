package surf

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Logger interface {
	Info(context.Context, string, ...string)
	Error(context.Context, error, string, ...string)
}

type loggerKey struct{}

// WithLogger returns a context carrying given logger. When the context
// already carries a logger, messages are written to both of them.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	if current, ok := ctx.Value(loggerKey{}).(Logger); ok {
		logger = broadcastLogs(current, logger)
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// CurrentLogger returns the logger attached to given context.
func CurrentLogger(ctx context.Context) (Logger, bool) {
	log, ok := ctx.Value(loggerKey{}).(Logger)
	return log, ok
}

// LogInfo writes info log message to logger present in given context. Message is
// discarded if no logger is present in context.
func LogInfo(ctx context.Context, message string, keyvals ...string) {
	if log, ok := ctx.Value(loggerKey{}).(Logger); ok {
		log.Info(ctx, message, keyvals...)
	}
}

// LogError writes error log message to logger present in given context. Message is
// discarded if no logger is present in context.
func LogError(ctx context.Context, err error, message string, keyvals ...string) {
	if log, ok := ctx.Value(loggerKey{}).(Logger); ok {
		log.Error(ctx, err, message, keyvals...)
	}
}

// NewLogger returns a Logger writing JSON lines to out. Given key-value pairs
// are attached to every entry.
func NewLogger(out io.Writer, keyvals ...string) Logger {
	return newZerologLogger(zerolog.New(out), keyvals)
}

// NewConsoleLogger returns a Logger producing human readable output, meant
// for terminals.
func NewConsoleLogger(out io.Writer, keyvals ...string) Logger {
	w := zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	return newZerologLogger(zerolog.New(w), keyvals)
}

func newZerologLogger(zl zerolog.Logger, keyvals []string) Logger {
	if len(keyvals)%2 == 1 {
		keyvals = append(keyvals, "")
	}
	c := zl.With().Timestamp()
	for i := 0; i < len(keyvals); i += 2 {
		c = c.Str(keyvals[i], keyvals[i+1])
	}
	return &logger{zl: c.Logger()}
}

type logger struct {
	zl zerolog.Logger
}

func (lg *logger) Info(ctx context.Context, message string, keyvalues ...string) {
	withPairs(lg.zl.Info(), keyvalues).Msg(message)
}

func (lg *logger) Error(ctx context.Context, err error, message string, keyvalues ...string) {
	withPairs(lg.zl.Error().Err(err), keyvalues).Msg(message)
}

func withPairs(ev *zerolog.Event, keyvalues []string) *zerolog.Event {
	if len(keyvalues)%2 == 1 {
		keyvalues = append(keyvalues, "")
	}
	for i := 0; i < len(keyvalues); i += 2 {
		ev = ev.Str(keyvalues[i], keyvalues[i+1])
	}
	return ev
}

// Discard returns Logger instance that drops all entries. It's the /dev/null
// of loggers
func Discard() Logger {
	return &discardLogger{}
}

type discardLogger struct{}

var _ Logger = (*discardLogger)(nil)

func (discardLogger) Info(ctx context.Context, message string, keyvals ...string) {
}

func (discardLogger) Error(ctx context.Context, err error, message string, keyvals ...string) {
}

func broadcastLogs(loggers ...Logger) Logger {
	switch len(loggers) {
	case 0:
		return Discard()
	case 1:
		return loggers[0]
	default:
		return broadcastingLogger(loggers)
	}
}

type broadcastingLogger []Logger

func (loggers broadcastingLogger) Info(ctx context.Context, message string, keyvals ...string) {
	for _, lg := range loggers {
		lg.Info(ctx, message, keyvals...)
	}
}

func (loggers broadcastingLogger) Error(ctx context.Context, err error, message string, keyvals ...string) {
	for _, lg := range loggers {
		lg.Error(ctx, err, message, keyvals...)
	}
}

// Recorder is a Logger that keeps all entries in memory. Safe for concurrent
// use.
type Recorder struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ Logger = (*Recorder)(nil)

type LogEntry struct {
	Created time.Time
	Level   string
	Error   error
	Message string
	Args    map[string]string
}

func (lr *Recorder) Info(ctx context.Context, message string, keyvals ...string) {
	lr.log("info", nil, message, keyvals)
}

func (lr *Recorder) Error(ctx context.Context, err error, message string, keyvals ...string) {
	lr.log("error", err, message, keyvals)
}

// Entries returns a copy of all recorded entries, oldest first.
func (lr *Recorder) Entries() []LogEntry {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return append([]LogEntry(nil), lr.entries...)
}

func (lr *Recorder) log(level string, err error, message string, keyvals []string) {
	args := make(map[string]string)
	if len(keyvals)%2 == 1 {
		keyvals = append(keyvals, "")
	}
	for i := 0; i < len(keyvals); i += 2 {
		args[keyvals[i]] = keyvals[i+1]
	}

	entry := LogEntry{
		Created: time.Now(),
		Level:   level,
		Message: message,
		Error:   err,
		Args:    args,
	}

	lr.mu.Lock()
	lr.entries = append(lr.entries, entry)
	lr.mu.Unlock()
}
