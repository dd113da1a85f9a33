package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stats-agent/pkg/config"
)

type Logger = zap.Logger

const defaultMaxAge = 7 * 24 * time.Hour

var (
	baseLogger     = zap.NewNop()
	loggerInitOnce sync.Once
	mu             sync.RWMutex
)

// ParseLevel maps the config level names (and their short forms) to zap levels.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "dbg", "debug":
		return zapcore.DebugLevel
	case "war", "warn":
		return zapcore.WarnLevel
	case "err", "error":
		return zapcore.ErrorLevel
	case "pan", "panic":
		return zapcore.PanicLevel
	case "fat", "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init builds the process logger once: coloured console on stdout plus JSON
// lines on a daily rotated file under cfg.Path.
func Init(cfg config.ZapLogConfig) error {
	var err error
	loggerInitOnce.Do(func() {
		level := ParseLevel(cfg.Level)

		if err = os.MkdirAll(cfg.Path, 0755); err != nil {
			return
		}

		writer, wErr := rotatelogs.New(
			filepath.Join(cfg.Path, "agent-%Y%m%d.log"),
			retention(cfg),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithRotationSize(int64(cfg.MaxSize)*1024*1024),
		)
		if wErr != nil {
			err = wErr
			return
		}

		core := zapcore.NewTee(
			zapcore.NewCore(consoleEncoder(cfg.Format), zapcore.AddSync(os.Stdout), level),
			zapcore.NewCore(jsonEncoder(), zapcore.AddSync(writer), level),
		)

		SetLogger(zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
	})
	return err
}

// retention keeps MaxAge days of files, or the last MaxBackup files when
// MaxAge is 0. rotatelogs rejects both at once.
func retention(cfg config.ZapLogConfig) rotatelogs.Option {
	if cfg.MaxAge <= 0 && cfg.MaxBackup > 0 {
		return rotatelogs.WithRotationCount(uint(cfg.MaxBackup))
	}
	maxAge := time.Duration(cfg.MaxAge) * 24 * time.Hour
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return rotatelogs.WithMaxAge(maxAge)
}

func consoleEncoder(format string) zapcore.Encoder {
	if format == "json" {
		return jsonEncoder()
	}

	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.ConsoleSeparator = " "
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("\033[34m%s\033[0m", t.Format("2006-01-02 15:04:05.000 -07:00")))
	}
	cfg.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		var levelStr string
		switch level {
		case zapcore.DebugLevel:
			levelStr = "\033[36mDEBUG\033[0m"
		case zapcore.InfoLevel:
			levelStr = "\033[32mINFO \033[0m"
		case zapcore.WarnLevel:
			levelStr = "\033[33mWARN \033[0m"
		case zapcore.ErrorLevel:
			levelStr = "\033[31mERROR\033[0m"
		case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
			levelStr = "\033[35m" + level.CapitalString() + "\033[0m"
		default:
			levelStr = "UNK  "
		}
		enc.AppendString(levelStr)
	}
	// dir/file.go:line
	cfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
		enc.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000 -07:00"))
	}
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewJSONEncoder(cfg)
}

// SetLogger replaces the process logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	baseLogger = l
	mu.Unlock()
}

// GetLogger returns the process logger, a no-op logger until Init succeeds.
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger
}

// Named returns a component logger tagged with a "component" field.
func Named(component string) *zap.Logger {
	return GetLogger().Named(component).With(zap.String("component", component))
}

func log(level zapcore.Level, msg string, fields ...zapcore.Field) {
	l := GetLogger().WithOptions(zap.AddCallerSkip(2))
	if ce := l.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func Debug(msg string, fields ...zapcore.Field) { log(zapcore.DebugLevel, msg, fields...) }
func Info(msg string, fields ...zapcore.Field)  { log(zapcore.InfoLevel, msg, fields...) }
func Warn(msg string, fields ...zapcore.Field)  { log(zapcore.WarnLevel, msg, fields...) }
func Error(msg string, fields ...zapcore.Field) { log(zapcore.ErrorLevel, msg, fields...) }
func Fatal(msg string, fields ...zapcore.Field) { log(zapcore.FatalLevel, msg, fields...) }

// Sync flushes buffered entries. The stdout handle reports EINVAL/EBADF on
// some terminals, which is ignored.
func Sync() error {
	err := GetLogger().Sync()
	if err != nil && (strings.Contains(err.Error(), "/dev/stdout") || strings.Contains(err.Error(), "invalid argument")) {
		return nil
	}
	return err
}
