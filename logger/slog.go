package logger

import (
	"context"
	"log/slog"
)

// SLog adapts a stdlib slog.Logger.
type SLog struct {
	l *slog.Logger
}

func NewSLog(l *slog.Logger) *SLog {
	if l == nil {
		l = slog.Default()
	}
	return &SLog{l: l}
}

func (s *SLog) Debug(msg string, keyvals ...any) {
	s.l.Log(context.Background(), slog.LevelDebug, msg, keyvals...)
}

func (s *SLog) Info(msg string, keyvals ...any) {
	s.l.Log(context.Background(), slog.LevelInfo, msg, keyvals...)
}

func (s *SLog) Error(msg string, keyvals ...any) {
	s.l.Log(context.Background(), slog.LevelError, msg, keyvals...)
}
