// Package logger is the structured logger used across the scheduler. It wraps
// zap behind a small API so packages import neither zap nor zapcore for
// everyday logging.
package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging threshold.
type Level int8

const (
	LevelDebug = Level(zapcore.DebugLevel)
	LevelInfo  = Level(zapcore.InfoLevel)
	LevelWarn  = Level(zapcore.WarnLevel)
	LevelError = Level(zapcore.ErrorLevel)
)

// ParseLevel reads debug, info, warn (or warning) and error in any case.
// Anything else is info.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(s)); err != nil || zl > zapcore.ErrorLevel {
		return LevelInfo
	}
	return Level(zl)
}

// ══════════════════════════════════════════════════════════════════════════════
// FIELDS
// ══════════════════════════════════════════════════════════════════════════════

// Field is one structured key/value pair.
type Field = zap.Field

func String(key, value string) Field             { return zap.String(key, value) }
func Int(key string, value int) Field            { return zap.Int(key, value) }
func Int64(key string, value int64) Field        { return zap.Int64(key, value) }
func Float64(key string, value float64) Field    { return zap.Float64(key, value) }
func Bool(key string, value bool) Field          { return zap.Bool(key, value) }
func Duration(key string, d time.Duration) Field { return zap.Duration(key, d) }
func Time(key string, t time.Time) Field         { return zap.Time(key, t) }
func Any(key string, value any) Field            { return zap.Any(key, value) }

// Err logs err under "error"; a nil error adds nothing.
func Err(err error) Field { return zap.Error(err) }

func LearnerID(id string) Field     { return String("learner_id", id) }
func DomainID(id string) Field      { return String("domain", id) }
func BandField(b string) Field      { return String("band", b) }
func Grade(g int) Field             { return Int("grade", g) }
func Component(name string) Field   { return String("component", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }

// ══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ══════════════════════════════════════════════════════════════════════════════

// Logger writes structured entries.
type Logger struct {
	z *zap.Logger
}

// Options configures New.
type Options struct {
	Level Level

	// Development switches from JSON to a colored console encoder.
	Development bool

	AddCaller bool
}

// DefaultOptions logs JSON at info level with the caller attached.
func DefaultOptions() Options {
	return Options{Level: LevelInfo, AddCaller: true}
}

// New builds a logger writing to stdout.
func New(opts Options) *Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	if opts.Development {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
	} else {
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewJSONEncoder(enc)
	}

	zopts := []zap.Option{zap.AddCallerSkip(1)}
	if opts.AddCaller {
		zopts = append(zopts, zap.AddCaller())
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zapcore.Level(opts.Level))
	return &Logger{z: zap.New(core, zopts...)}
}

// NewFromZap wraps z, typically a zaptest/observer core in tests.
func NewFromZap(z *zap.Logger) *Logger { return &Logger{z: z} }

// Default is New(DefaultOptions()).
func Default() *Logger { return New(DefaultOptions()) }

// Nop discards everything.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields ...Field) *Logger { return &Logger{z: l.z.With(fields...)} }

// WithRequestID tags entries with the HTTP request id.
func (l *Logger) WithRequestID(id string) *Logger { return l.With(String("request_id", id)) }

// Sync flushes buffered entries; errors from syncing a terminal are ignored.
func (l *Logger) Sync() { _ = l.z.Sync() }

func (l *Logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

type ctxKey struct{}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by WithContext, or a default one.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}
