package audit

import (
	"context"
	"fmt"

	"spamguard/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Archive persists incidents. *storage.Store satisfies it.
type Archive interface {
	AddIncident(ctx context.Context, inc storage.Incident) error
}

type Logger struct {
	archive Archive
	logger  *zap.Logger
}

// NewLogger accepts a nil archive; incidents are then only logged.
func NewLogger(archive Archive, logger *zap.Logger) *Logger {
	return &Logger{archive: archive, logger: logger}
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	fields := []zap.Field{
		zap.String("level", level),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.String("details", details),
	}
	switch level {
	case LevelCrit:
		l.logger.Error("audit", fields...)
	case LevelWarn:
		l.logger.Warn("audit", fields...)
	default:
		l.logger.Info("audit", fields...)
	}
}

// RecordIncident logs a mitigated incident and archives it when an archive is
// configured. Archive failures are logged and swallowed.
func (l *Logger) RecordIncident(ctx context.Context, inc storage.Incident) {
	level := LevelWarn
	if inc.Failed() {
		level = LevelCrit
	}
	details := fmt.Sprintf("channel=%s count=%d deleted=%d rule=%d/%ds timeout=%ds timeout_failed=%t purge_failed=%t log_failed=%t",
		inc.ChannelID, inc.MessageCount, inc.DeletedCount, inc.Threshold, inc.WindowSeconds, inc.TimeoutSeconds,
		inc.TimeoutFailed, inc.PurgeFailed, inc.LogFailed)
	l.Log(ctx, level, inc.GuildID, inc.UserID, "anti_spam", details)

	if l.archive == nil {
		return
	}
	if err := l.archive.AddIncident(ctx, inc); err != nil {
		l.logger.Warn("incident archive failed", zap.String("guild_id", inc.GuildID), zap.String("user_id", inc.UserID), zap.Error(err))
	}
}
