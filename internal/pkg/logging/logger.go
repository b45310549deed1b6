// Package logging provides structured logging for syncore's components,
// built on zerolog with per-component sub-loggers.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with syncore-specific conveniences.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger at the given level writing to w.
// Valid levels: debug, info, warn, error, fatal, panic, trace.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = os.Stdout
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zl := zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return &Logger{zl: zl}
}

// NewConsole creates a logger with human-readable console output. The CLI
// does not use it; it logs through Default, which writes JSON.
func NewConsole(level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	zl := zerolog.New(output).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return &Logger{zl: zl}
}

// Component returns a sub-logger tagged with a component name, e.g.
// "dag", "syncmanager", "bridge".
func (l *Logger) Component(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

// With returns a sub-logger carrying an additional static field.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	event := l.zl.Info()
	l.addFields(event, fields...)
	event.Msg(msg)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	event := l.zl.Warn()
	l.addFields(event, fields...)
	event.Msg(msg)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	event := l.zl.Error()
	l.addFields(event, fields...)
	event.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	event := l.zl.Debug()
	l.addFields(event, fields...)
	event.Msg(msg)
}

func (l *Logger) Fatal(msg string, fields ...interface{}) {
	event := l.zl.Fatal()
	l.addFields(event, fields...)
	event.Msg(msg)
}

// addFields accepts key, value, key, value, ... pairs.
func (l *Logger) addFields(event *zerolog.Event, fields ...interface{}) {
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}

		switch v := fields[i+1].(type) {
		case string:
			event.Str(key, v)
		case int:
			event.Int(key, v)
		case int64:
			event.Int64(key, v)
		case uint32:
			event.Uint32(key, v)
		case float64:
			event.Float64(key, v)
		case bool:
			event.Bool(key, v)
		case error:
			event.Err(v)
		case time.Duration:
			event.Dur(key, v)
		case time.Time:
			event.Time(key, v)
		default:
			event.Interface(key, v)
		}
	}
}

// SamplingLogger wraps Logger with sampling for hot paths, e.g. the
// per-delta admit trace which would otherwise dominate log volume.
type SamplingLogger struct {
	*Logger
	sampler *zerolog.BasicSampler
}

// WithSampling returns a logger that emits roughly 1 in rate messages.
func (l *Logger) WithSampling(rate uint32) *SamplingLogger {
	return &SamplingLogger{Logger: l, sampler: &zerolog.BasicSampler{N: rate}}
}

func (sl *SamplingLogger) Sample() bool {
	return sl.sampler.Sample(zerolog.InfoLevel)
}

func (sl *SamplingLogger) InfoSampled(msg string, fields ...interface{}) {
	if sl.Sample() {
		sl.Info(msg, fields...)
	}
}

func (sl *SamplingLogger) DebugSampled(msg string, fields ...interface{}) {
	if sl.Sample() {
		sl.Debug(msg, fields...)
	}
}

// Nop returns a logger that discards all output, used in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

var defaultLogger = New(os.Stdout, "info")

func Default() *Logger     { return defaultLogger }
func SetDefault(l *Logger) { defaultLogger = l }
