package services

import "context"

type ctxKey int

const (
	itemIDKey ctxKey = iota
	jobKey
	accountKey
	requestIDKey
)

func withValue(ctx context.Context, key ctxKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func valueOf(ctx context.Context, key ctxKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// WithItemID tags ctx with the queue item being worked on.
func WithItemID(ctx context.Context, id string) context.Context { return withValue(ctx, itemIDKey, id) }

func ItemIDFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, itemIDKey) }

// WithJob tags ctx with the scheduled job name.
func WithJob(ctx context.Context, job string) context.Context { return withValue(ctx, jobKey, job) }

func JobFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, jobKey) }

// WithAccount tags ctx with the mail account being ingested.
func WithAccount(ctx context.Context, account string) context.Context {
	return withValue(ctx, accountKey, account)
}

func AccountFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, accountKey) }

// WithRequestID tags ctx with an API request correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, requestIDKey) }
