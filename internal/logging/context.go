package logging

import (
	"context"
	"log/slog"

	"applytrack/internal/services"
)

// WithContext returns logger tagged with the item, job, account, and request
// identifiers carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	var args []any
	tag := func(key string, value string, ok bool) {
		if ok {
			args = append(args, slog.String(key, value))
		}
	}
	id, ok := services.ItemIDFromContext(ctx)
	tag(FieldItemID, id, ok)
	job, ok := services.JobFromContext(ctx)
	tag(FieldJob, job, ok)
	account, ok := services.AccountFromContext(ctx)
	tag(FieldAccount, account, ok)
	rid, ok := services.RequestIDFromContext(ctx)
	tag(FieldCorrelationID, rid, ok)
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
