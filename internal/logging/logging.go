// Package logging implements the process-wide log sink: a bounded
// in-memory buffer that later redirects to a rotating file once its path
// is known from configuration.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Verbose is the level backing the `loglevel = verbose` config value: it
// shows more than the default loglevel but less than full debug output.
// zerolog's built-in levels are contiguous small integers (DebugLevel=0,
// InfoLevel=1, ...) with no room for another value strictly between two
// of them, so Verbose is given its own reserved value outside that range
// and ordered via rank, below, rather than via zerolog's native Level()
// minimum-level gate.
const Verbose zerolog.Level = 9

func init() {
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		if l == Verbose {
			return "verbose"
		}
		return l.String()
	}
}

// Level maps the four configured loglevel names to their zerolog levels.
func Level(name string) (zerolog.Level, bool) {
	switch name {
	case "quiet":
		return zerolog.WarnLevel, true
	case "default":
		return zerolog.InfoLevel, true
	case "verbose":
		return Verbose, true
	case "debug":
		return zerolog.DebugLevel, true
	default:
		return 0, false
	}
}

// rank orders levels from most verbose (0) to least verbose, with Verbose
// placed strictly between DebugLevel and InfoLevel, an ordering zerolog's
// own contiguous Level integers can't express directly. Gating happens
// against this rank instead of raw Level values; see New.
func rank(l zerolog.Level) int {
	switch l {
	case zerolog.TraceLevel:
		return 0
	case zerolog.DebugLevel:
		return 1
	case Verbose:
		return 2
	case zerolog.InfoLevel:
		return 3
	case zerolog.WarnLevel:
		return 4
	case zerolog.ErrorLevel:
		return 5
	case zerolog.FatalLevel:
		return 6
	case zerolog.PanicLevel:
		return 7
	default:
		return 3
	}
}

// phase distinguishes the sink's two lifecycle stages.
type phase int

const (
	buffering phase = iota
	persistent
)

// record is one buffered log line, captured verbatim so it can be
// replayed into the real writer once the sink transitions.
type record struct {
	level zerolog.Level
	data  []byte
}

// Sink is an io.Writer zerolog can log through directly. While Buffering
// it holds up to capacity records in memory; ToPersistent transitions it
// to a real writer and flushes the buffer into it exactly once.
type Sink struct {
	mu       sync.Mutex
	phase    phase
	capacity int
	buffer   []record
	target   io.Writer
}

// NewBuffering constructs a Sink in its initial buffering phase, holding
// at most capacity records before the oldest are dropped.
func NewBuffering(capacity int) *Sink {
	return &Sink{phase: buffering, capacity: capacity}
}

// Write implements io.Writer. zerolog calls this once per log line; the
// line's level isn't available from the raw bytes alone, so the buffered
// copy is kept level-agnostic and replayed as-is.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == persistent {
		return s.target.Write(p)
	}

	cp := make([]byte, len(p))
	copy(cp, p)
	if len(s.buffer) >= s.capacity && s.capacity > 0 {
		s.buffer = s.buffer[1:]
	}
	s.buffer = append(s.buffer, record{data: cp})
	return len(p), nil
}

// ToPersistent transitions the sink to its persistent phase, backed by
// target, and flushes every buffered record into it in order. Subsequent
// writes go straight to target. Calling this more than once is a no-op
// after the first call, matching the "flushes the buffer exactly once"
// design note.
func (s *Sink) ToPersistent(target io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == persistent {
		return
	}

	for _, rec := range s.buffer {
		_, _ = target.Write(rec.data)
	}
	s.buffer = nil
	s.target = target
	s.phase = persistent
}

// NewFileWriter builds the rotating file writer the sink transitions to,
// once the configured logfile_path is known.
func NewFileWriter(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// consoleLevelWriter splits records across stdout and stderr by level:
// anything below Warn goes to stdout, the rest to stderr.
type consoleLevelWriter struct {
	stdout zerolog.ConsoleWriter
	stderr zerolog.ConsoleWriter
}

// NewConsoleWriter builds the split console writer.
func NewConsoleWriter() zerolog.LevelWriter {
	return consoleLevelWriter{
		stdout: zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"},
		stderr: zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	}
}

func (w consoleLevelWriter) Write(p []byte) (int, error) {
	return w.stdout.Write(p)
}

func (w consoleLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if rank(level) >= rank(zerolog.WarnLevel) {
		return w.stderr.Write(p)
	}
	return w.stdout.Write(p)
}

// verbosityGate discards events below the configured minimum rank. It
// replaces zerolog's native Level()-based gate, which can't place Verbose
// strictly between Debug and Info since those are adjacent integers.
type verbosityGate struct{ minRank int }

func (g verbosityGate) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if rank(level) < g.minRank {
		e.Discard()
	}
}

// New builds the console + sink multi-writer logger used for the whole
// process lifetime, showing only events at or above the given minimum
// level (ordered per rank, so loglevel=verbose falls strictly between
// default and debug).
func New(sink *Sink, level zerolog.Level) zerolog.Logger {
	multi := zerolog.MultiLevelWriter(NewConsoleWriter(), sink)
	return zerolog.New(multi).
		Level(zerolog.TraceLevel).
		Hook(verbosityGate{minRank: rank(level)}).
		With().Timestamp().Logger()
}
