// Package logging wraps zap the way the teacher's pkg/Logger did,
// adapted to carry session-scoped fields (spec.md §1 "logging" is an
// out-of-core collaborator, but the core still needs an ambient logger
// per SPEC_FULL.md §2).
package logging

import (
	"go.uber.org/zap"
)

type Logger struct {
	*zap.SugaredLogger
}

func Build(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.CallerKey = "caller"
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.Encoding = "json"
	}

	logger, _ := cfg.Build(zap.AddCaller())
	return &Logger{logger.Sugar()}
}

// Session returns a child logger with session_id attached to every
// entry, so a session's whole lifecycle can be filtered in one query.
func (l *Logger) Session(sessionID string) *Logger {
	return &Logger{l.SugaredLogger.With("session_id", sessionID)}
}
