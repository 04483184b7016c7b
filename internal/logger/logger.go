package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"example.com/lanserve/internal/config"
)

// LogFields carries structured key/value pairs attached to a record.
type LogFields map[string]interface{}

// consoleTimeFormat is used by the human readable format.
const consoleTimeFormat = "2006-01-02 15:04:05.000"

// requestTimeFormat stamps access records with millisecond precision.
const requestTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// AccessRecord describes one request. It is built before the response
// headers are written, so it carries the planned status and headers.
type AccessRecord struct {
	Time     time.Time
	Stack    string // "IPv4" or "IPv6"
	Method   string
	Remote   string // host:port, IPv6 hosts bracketed
	Local    string
	Path     string // normalized, always starting with "/"
	Original string // request target as received
	Status   int
	Headers  []string // "Name: value", already sorted
	// Size is the human readable body size of a served file, if any.
	Size string
	// Rejected is the gate's reason when the connection was terminated.
	Rejected string
	// Err is the reason behind a 404, if one is known.
	Err error
}

// Logger writes structured records through zerolog to the configured
// target and, optionally, a JSON log file.
type Logger struct {
	zl    zerolog.Logger
	level config.LogLevel
	file  *fileSink
}

// fileSink is the optional log file. Writes after Close are dropped.
type fileSink struct {
	mu sync.Mutex
	f  *os.File
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return len(p), nil
	}
	return s.f.Write(p)
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// NewLogger creates a Logger from the logging configuration.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	var out *os.File
	target := "stdout"
	if cfg.Target != nil {
		target = *cfg.Target
	}
	switch target {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		return nil, fmt.Errorf("invalid log target: %s", target)
	}

	primary := formatWriter(out, cfg.Format, isTerminal(out))

	var file *fileSink
	var w io.Writer = primary
	if cfg.File != nil && *cfg.File != "" {
		f, err := os.OpenFile(*cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", *cfg.File, err)
		}
		file = &fileSink{f: f}
		// The file always receives JSON, whatever the console format.
		w = zerolog.MultiLevelWriter(primary, file)
	}

	l := newLogger(w, cfg.LogLevel)
	l.file = file
	return l, nil
}

// NewWithWriter creates a Logger writing to w. Console output is never
// coloured.
func NewWithWriter(w io.Writer, format config.LogFormat, level config.LogLevel) *Logger {
	return newLogger(formatWriter(w, format, false), level)
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	l := newLogger(io.Discard, config.LogLevelError)
	l.zl = zerolog.Nop()
	return l
}

func newLogger(w io.Writer, level config.LogLevel) *Logger {
	if level == "" {
		level = config.LogLevelInfo
	}
	return &Logger{
		zl:    zerolog.New(w).Level(toZerologLevel(level)).With().Timestamp().Logger(),
		level: level,
	}
}

func formatWriter(w io.Writer, format config.LogFormat, color bool) io.Writer {
	if format != config.LogFormatConsole {
		return w
	}
	return zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    !color,
		TimeFormat: consoleTimeFormat,
	}
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func toZerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Level returns the configured minimum level.
func (l *Logger) Level() config.LogLevel { return l.level }

func (l *Logger) emit(ev *zerolog.Event, msg string, fields []LogFields) {
	for _, f := range fields {
		ev = ev.Fields(map[string]interface{}(f))
	}
	ev.Msg(msg)
}

func (l *Logger) Info(msg string, fields ...LogFields) {
	l.emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...LogFields) {
	l.emit(l.zl.Error(), msg, fields)
}

func (l *Logger) Debug(msg string, fields ...LogFields) {
	l.emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...LogFields) {
	l.emit(l.zl.Warn(), msg, fields)
}

// Access logs a request record at INFO level.
func (l *Logger) Access(rec *AccessRecord) {
	ev := l.zl.Info().
		Str("kind", "access").
		Str("at", rec.Time.Format(requestTimeFormat)).
		Str("stack", rec.Stack).
		Str("method", rec.Method).
		Str("from", rec.Remote).
		Str("to", rec.Local).
		Str("path", rec.Path).
		Str("original", rec.Original)

	if rec.Rejected != "" {
		ev.Str("terminated", rec.Rejected).Msg("Connection terminated")
		return
	}
	ev = ev.Int("status", rec.Status).Strs("headers", rec.Headers)
	if rec.Size != "" {
		ev = ev.Str("size", rec.Size)
	}
	if rec.Err != nil {
		ev = ev.AnErr("cause", rec.Err)
	}
	ev.Msg("Incoming request")
}

// StdLogger adapts the Logger for APIs that need a *log.Logger, such as
// http.Server.ErrorLog. Lines are logged at WARNING level.
func (l *Logger) StdLogger(source string) *log.Logger {
	return log.New(stdWriter{l: l, source: source}, "", 0)
}

type stdWriter struct {
	l      *Logger
	source string
}

func (w stdWriter) Write(p []byte) (int, error) {
	w.l.Warn(strings.TrimRight(string(p), "\n"), LogFields{"source": w.source})
	return len(p), nil
}

// CloseLogFiles closes the log file, if one is open. Later records still go
// to the primary target.
func (l *Logger) CloseLogFiles() {
	if l.file != nil {
		l.file.Close()
	}
}
