package p2p

import (
	"context"
	"fmt"
	"log/slog"
)

// busLogger routes message bus logging into slog, tagged with the bus
// component. Formatting is skipped for disabled levels.
type busLogger struct {
	logger *slog.Logger
}

func newBusLogger(logger *slog.Logger) *busLogger {
	return &busLogger{logger: logger.With("component", "msgbus")}
}

func (l *busLogger) logf(level slog.Level, format string, v []any) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func (l *busLogger) Debugf(format string, v ...any) { l.logf(slog.LevelDebug, format, v) }
func (l *busLogger) Infof(format string, v ...any)  { l.logf(slog.LevelInfo, format, v) }
func (l *busLogger) Warnf(format string, v ...any)  { l.logf(slog.LevelWarn, format, v) }
func (l *busLogger) Errorf(format string, v ...any) { l.logf(slog.LevelError, format, v) }
