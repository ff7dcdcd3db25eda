package calendar

import (
	"context"

	"go.uber.org/zap"
)

// NewProvider picks the calendar backend once, at construction time.
// Without credentials, or when the Google client cannot be built, the in-memory mock is used.
func NewProvider(ctx context.Context, cfg GoogleConfig, log *zap.Logger) Provider {
	if len(cfg.CredentialsJSON) == 0 {
		log.Warn("no google calendar credentials found, using in-memory calendar")
		return NewMemoryProvider()
	}
	p, err := NewGoogleProvider(ctx, cfg, log)
	if err != nil {
		log.Error("failed to init google calendar, using in-memory calendar", zap.Error(err))
		return NewMemoryProvider()
	}
	log.Info("google calendar provider initialized", zap.String("calendar_id", p.calendarID))
	return p
}
