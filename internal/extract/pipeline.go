package extract

import (
	"context"
	"log/slog"
	"time"

	"applytrack/internal/logging"
	"applytrack/internal/services"
)

// Pipeline runs the rule extractor and consults the fallback for postings
// that are still missing a title or company.
type Pipeline struct {
	rule     Extractor
	fallback Fallback
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPipeline builds a two-stage extractor. fallback may be nil.
func NewPipeline(rule Extractor, fallback Fallback, timeout time.Duration, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		rule:     rule,
		fallback: fallback,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "extract"),
	}
}

// Extract returns the postings found in msg. Fallback failures are logged and
// leave the rule result in place.
func (p *Pipeline) Extract(ctx context.Context, msg Message) ([]Posting, error) {
	postings, err := p.rule.Extract(ctx, msg)
	if err != nil || p.fallback == nil {
		return postings, err
	}
	for i, posting := range postings {
		if posting.Complete() {
			continue
		}
		filled, err := p.fill(ctx, msg, posting)
		if err != nil {
			logging.WarnWithContext(p.logger, "fallback extractor failed", "extract_fallback_failed",
				logging.String("fallback", p.fallback.Name()),
				logging.String("url", posting.URL),
				logging.String(logging.FieldErrorHint, services.Category(err)),
				logging.Error(err),
			)
			continue
		}
		postings[i] = filled
	}
	return postings, nil
}

func (p *Pipeline) fill(ctx context.Context, msg Message, posting Posting) (Posting, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.fallback.Fill(ctx, msg, posting)
}
