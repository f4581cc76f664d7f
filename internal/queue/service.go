package queue

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"applytrack/internal/database"
	"applytrack/internal/logging"
)

// Service enforces the queue state machine on top of Store.
type Service struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for transition events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a queue service.
func NewService(store *Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "queue")
	return s
}

// Store exposes the underlying persistence layer.
func (s *Service) Store() *Store {
	return s.store
}

// Submission holds the fields every submit call accepts.
type Submission struct {
	Source      string         `json:"source,omitempty"`
	SubmittedBy string         `json:"submitted_by,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	MaxRetries  int            `json:"max_retries,omitempty"`
}

// JobSubmission enqueues a single job posting.
type JobSubmission struct {
	Submission
	URL          string `json:"url"`
	CompanyName  string `json:"company_name,omitempty"`
	CompanyID    string `json:"company_id,omitempty"`
	Title        string `json:"title,omitempty"`
	Location     string `json:"location,omitempty"`
	Description  string `json:"description,omitempty"`
	GenerationID string `json:"generation_id,omitempty"`
}

// CompanySubmission enqueues company enrichment.
type CompanySubmission struct {
	Submission
	CompanyName string `json:"company_name,omitempty"`
	CompanyID   string `json:"company_id,omitempty"`
	URL         string `json:"url,omitempty"`
	SubTask     string `json:"company_sub_task,omitempty"`
}

// ScrapeSubmission enqueues a scrape run.
type ScrapeSubmission struct {
	Submission
	ScrapeConfig ScrapeConfig `json:"scrape_config"`
}

// SourceDiscoverySubmission enqueues inspection of a candidate source.
type SourceDiscoverySubmission struct {
	Submission
	SourceDiscoveryConfig SourceDiscoveryConfig `json:"source_discovery_config"`
}

// SourceRecoverSubmission enqueues repair of an existing source.
type SourceRecoverSubmission struct {
	Submission
	SourceID string `json:"source_id"`
}

// SubmitJob enqueues a job posting. A posting that already carries a
// generation id is recorded directly as successful.
func (s *Service) SubmitJob(ctx context.Context, in JobSubmission) (*Item, error) {
	url := strings.TrimSpace(in.URL)
	if url == "" {
		return nil, invalid("url", "job url is required")
	}
	existing, err := s.store.FindActive(ctx, TypeJob, "url", url)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &ConflictError{Type: TypeJob, Key: url, ExistingID: existing.ID}
	}

	item := s.newItem(TypeJob, in.Submission)
	item.URL = url
	item.CompanyName = strings.TrimSpace(in.CompanyName)
	item.CompanyID = strings.TrimSpace(in.CompanyID)
	item.Payload = JobPayload{
		Title:        strings.TrimSpace(in.Title),
		Location:     strings.TrimSpace(in.Location),
		Description:  in.Description,
		GenerationID: strings.TrimSpace(in.GenerationID),
	}
	if generationID := strings.TrimSpace(in.GenerationID); generationID != "" {
		completed := item.CreatedAt
		item.Status = StatusSuccess
		item.CompletedAt = &completed
		item.ResultMessage = "Documents already generated (generation " + generationID + ")"
	}
	return s.insert(ctx, item)
}

// SubmitCompany enqueues company enrichment. Only one company task per
// company id may be pending or processing at a time.
func (s *Service) SubmitCompany(ctx context.Context, in CompanySubmission) (*Item, error) {
	name := strings.TrimSpace(in.CompanyName)
	companyID := strings.TrimSpace(in.CompanyID)
	if name == "" && companyID == "" {
		return nil, invalid("company", "company name or id is required")
	}
	if companyID != "" {
		existing, err := s.store.FindActive(ctx, TypeCompany, "company_id", companyID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, &ConflictError{Type: TypeCompany, Key: companyID, ExistingID: existing.ID}
		}
	}

	item := s.newItem(TypeCompany, in.Submission)
	item.CompanyName = name
	item.CompanyID = companyID
	item.URL = strings.TrimSpace(in.URL)
	item.Payload = CompanyPayload{SubTask: strings.TrimSpace(in.SubTask)}
	created, err := s.insert(ctx, item)
	if err != nil && database.IsUniqueViolation(err) {
		return nil, &ConflictError{Type: TypeCompany, Key: companyID}
	}
	return created, err
}

// SubmitScrape enqueues a scrape run bounded by the supplied config.
func (s *Service) SubmitScrape(ctx context.Context, in ScrapeSubmission) (*Item, error) {
	cfg := in.ScrapeConfig
	if cfg.TargetMatches != nil && *cfg.TargetMatches < 0 {
		return nil, invalid("scrape_config.target_matches", "must not be negative")
	}
	if cfg.MaxSources != nil && *cfg.MaxSources < 0 {
		return nil, invalid("scrape_config.max_sources", "must not be negative")
	}
	cfg.SourceIDs = compactStrings(cfg.SourceIDs)

	item := s.newItem(TypeScrape, in.Submission)
	item.Payload = ScrapePayload{ScrapeConfig: cfg}
	return s.insert(ctx, item)
}

// SubmitSourceDiscovery enqueues inspection of a candidate job source.
func (s *Service) SubmitSourceDiscovery(ctx context.Context, in SourceDiscoverySubmission) (*Item, error) {
	cfg := in.SourceDiscoveryConfig
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, invalid("source_discovery_config.url", "source url is required")
	}
	cfg.TypeHint = strings.TrimSpace(cfg.TypeHint)
	cfg.CompanyID = strings.TrimSpace(cfg.CompanyID)
	cfg.CompanyName = strings.TrimSpace(cfg.CompanyName)

	item := s.newItem(TypeSourceDiscovery, in.Submission)
	item.URL = cfg.URL
	item.CompanyID = cfg.CompanyID
	item.CompanyName = cfg.CompanyName
	item.Payload = SourceDiscoveryPayload{SourceDiscoveryConfig: cfg}
	return s.insert(ctx, item)
}

// SubmitSourceRecover enqueues repair of an existing source.
func (s *Service) SubmitSourceRecover(ctx context.Context, in SourceRecoverSubmission) (*Item, error) {
	sourceID := strings.TrimSpace(in.SourceID)
	if sourceID == "" {
		return nil, invalid("source_id", "source id is required")
	}
	item := s.newItem(TypeSourceRecover, in.Submission)
	item.Payload = SourceRecoverPayload{SourceID: sourceID}
	return s.insert(ctx, item)
}

// Get returns an item or a NotFoundError.
func (s *Service) Get(ctx context.Context, id string) (*Item, error) {
	item, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &NotFoundError{ID: id}
	}
	return item, nil
}

// List returns items matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Item, error) {
	return s.store.List(ctx, filter)
}

// Stats returns item counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// Delete removes an item permanently. It is the only way items leave the table.
func (s *Service) Delete(ctx context.Context, id string) error {
	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return &NotFoundError{ID: id}
	}
	s.log(ctx).Info("queue item deleted",
		logging.String(logging.FieldItemID, id),
		logging.String(logging.FieldEventType, "queue_item_deleted"),
	)
	return nil
}

// OrphanedListings returns listings with no match and no active queue item.
func (s *Service) OrphanedListings(ctx context.Context, limit int) ([]Listing, error) {
	return s.store.OrphanedListings(ctx, limit)
}

// OrphanedListingsCount returns the total number of orphaned listings.
func (s *Service) OrphanedListingsCount(ctx context.Context) (int, error) {
	return s.store.OrphanedListingsCount(ctx)
}

func (s *Service) newItem(t Type, sub Submission) *Item {
	now := s.now().UTC()
	maxRetries := sub.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	source := strings.TrimSpace(sub.Source)
	if source == "" {
		source = "manual"
	}
	metadata := make(map[string]any, len(sub.Metadata))
	for key, value := range sub.Metadata {
		metadata[key] = value
	}
	return &Item{
		ID:          uuid.NewString(),
		Type:        t,
		Status:      StatusPending,
		Source:      source,
		SubmittedBy: strings.TrimSpace(sub.SubmittedBy),
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    metadata,
	}
}

func (s *Service) insert(ctx context.Context, item *Item) (*Item, error) {
	if err := s.store.Insert(ctx, item); err != nil {
		return nil, err
	}
	s.log(ctx).Info("queue item submitted",
		logging.String(logging.FieldItemID, item.ID),
		logging.String("type", string(item.Type)),
		logging.String("status", string(item.Status)),
		logging.String("source", item.Source),
		logging.String(logging.FieldEventType, "queue_item_submitted"),
	)
	return item, nil
}

func compactStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// log tags the service logger with request and item identifiers from ctx.
func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, s.logger)
}
