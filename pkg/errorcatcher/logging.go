package errorcatcher

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// LogCatcher writes caught errors to the log and keeps nothing but a count.
type LogCatcher struct {
	logger *zap.Logger
	total  atomic.Int64
}

func NewLogCatcher(l *zap.Logger) *LogCatcher {
	return &LogCatcher{logger: l}
}

func (l *LogCatcher) Name() string { return BackendLog }

func (l *LogCatcher) Record(_ context.Context, c CaughtError) error {
	fields := []zap.Field{
		zap.Time("caught_at", c.Time()),
		zap.String("class", c.ClassName()),
		zap.Any("tags", c.Tags),
	}
	if c.Throwable != nil {
		fields = append(fields,
			zap.Strings("causes", c.Throwable.CauseClassNames()),
			zap.Strings("stack", c.Throwable.StackTrace))
	}
	l.logger.Error(c.Message(), fields...)
	l.total.Add(1)
	return nil
}

// List always returns nothing; the log is the record.
func (l *LogCatcher) List(context.Context) ([]CaughtError, error) { return nil, nil }

func (l *LogCatcher) Count(context.Context) (int, error) { return int(l.total.Load()), nil }
