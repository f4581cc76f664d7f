package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"applytrack/internal/config"
	"applytrack/internal/extract"
	"applytrack/internal/gmail"
	"applytrack/internal/ingeststate"
	"applytrack/internal/logging"
	"applytrack/internal/queue"
	"applytrack/internal/services"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("gmail ingest already running")

// Metadata keys stored on job items created from mail.
const (
	MetaMessageID = "gmailMessageId"
	MetaThreadID  = "gmailThreadId"
	MetaEmail     = "gmailEmail"
)

// MailClient is the subset of gmail.Client used during a run.
type MailClient interface {
	ListHistory(ctx context.Context, token *oauth2.Token, startHistoryID string) ([]gmail.MessageRef, string, error)
	ListMessages(ctx context.Context, token *oauth2.Token, query string, limit int) ([]gmail.MessageRef, error)
	GetMessage(ctx context.Context, token *oauth2.Token, id string) (*gmail.RawMessage, error)
}

// TokenSource refreshes account credentials.
type TokenSource interface {
	EnsureToken(ctx context.Context, account gmail.Account) (*oauth2.Token, gmail.Account, bool, error)
}

// Accounts lists and updates connected mailboxes.
type Accounts interface {
	List(ctx context.Context) ([]gmail.Account, error)
	Upsert(ctx context.Context, account gmail.Account) error
	UpdateHistory(ctx context.Context, email, historyID string) error
}

// Ledger is the processed-message record.
type Ledger interface {
	IsMessageProcessed(ctx context.Context, messageID string) (bool, error)
	RecordProcessed(ctx context.Context, rec ingeststate.Record) error
}

// JobSubmitter enqueues job postings.
type JobSubmitter interface {
	SubmitJob(ctx context.Context, in queue.JobSubmission) (*queue.Item, error)
}

// Extractor turns a decoded message into postings.
type Extractor interface {
	Extract(ctx context.Context, msg extract.Message) ([]extract.Posting, error)
}

// Deps bundles the collaborators of Service.
type Deps struct {
	Client    MailClient
	Tokens    TokenSource
	Accounts  Accounts
	Ledger    Ledger
	Queue     JobSubmitter
	Extractor Extractor
	Resolver  *Resolver
	Logger    *slog.Logger
}

// Service runs mail ingestion. Runs never overlap.
type Service struct {
	cfg  config.Gmail
	deps Deps
	rule *extract.RuleExtractor

	mu      sync.Mutex
	running bool
	last    *RunReport
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewService builds an ingestion service.
func NewService(cfg config.Gmail, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	deps.Logger = logging.NewComponentLogger(deps.Logger, "gmail-ingest")
	if deps.Resolver == nil {
		deps.Resolver = NewResolver(time.Duration(cfg.LinkTimeoutSeconds)*time.Second, nil)
	}
	return &Service{
		cfg:  cfg,
		deps: deps,
		rule: extract.NewRuleExtractor(cfg.JobDomains),
		now:  time.Now,
	}
}

// Status reports whether a run is active and the last finished run.
type Status struct {
	Enabled bool       `json:"enabled"`
	Running bool       `json:"running"`
	LastRun *RunReport `json:"last_run,omitempty"`
}

// Status returns the current ingest status.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Enabled: s.cfg.Enabled, Running: s.running, LastRun: s.last}
}

// Run ingests every connected account once. It returns ErrRunInProgress if
// another run is active. Account failures are reported per account and do
// not abort the run.
func (s *Service) Run(ctx context.Context) (*RunReport, error) {
	if !s.claim() {
		return nil, ErrRunInProgress
	}
	defer s.release()
	return s.run(ctx)
}

// Start launches a run in the background and returns once it has been
// claimed. Wait blocks until background runs finish.
func (s *Service) Start(ctx context.Context) error {
	if !s.claim() {
		return ErrRunInProgress
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		if _, err := s.run(ctx); err != nil {
			s.deps.Logger.Warn("gmail ingest run ended early", logging.Error(err))
		}
	}()
	return nil
}

// Wait blocks until background runs started with Start have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Service) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Service) run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString(), StartedAt: s.now().UTC()}
	logger := s.deps.Logger.With(logging.String(logging.FieldCorrelationID, report.RunID))

	accounts, err := s.deps.Accounts.List(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "gmail-ingest", "list accounts", "", err)
	}
	links := newBudget(s.cfg.LinkResolveLimit)
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		accountReport := s.runAccount(ctx, logger.With(logging.String(logging.FieldAccount, account.Email)), account, links)
		report.add(accountReport)
	}
	report.FinishedAt = s.now().UTC()

	logger.Info("gmail ingest finished",
		logging.Int("accounts", len(report.Accounts)),
		logging.Int("messages_processed", report.MessagesProcessed),
		logging.Int("jobs_found", report.JobsFound),
		logging.Int("jobs_enqueued", report.JobsEnqueued),
		logging.Int("errors", report.Errors),
		logging.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
		logging.String(logging.FieldEventType, "gmail_ingest_finished"),
	)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, ctx.Err()
}

func (s *Service) runAccount(ctx context.Context, logger *slog.Logger, account gmail.Account, links *budget) AccountReport {
	result := AccountReport{Email: account.Email}
	fail := func(stage string, err error) AccountReport {
		result.Error = fmt.Sprintf("%s: %v", stage, err)
		logging.WarnWithContext(logger, "gmail account ingest failed", "gmail_account_failed",
			logging.String("stage", stage),
			logging.String(logging.FieldErrorHint, services.Category(err)),
			logging.String(logging.FieldImpact, "account skipped until the next run"),
			logging.Error(err),
		)
		return result
	}

	token, updated, changed, err := s.deps.Tokens.EnsureToken(ctx, account)
	if err != nil {
		return fail("token", err)
	}
	if changed {
		if err := s.deps.Accounts.Upsert(ctx, updated); err != nil {
			logger.Warn("persist refreshed token failed", logging.Error(err))
		}
		account = updated
	}

	refs, latest, err := s.candidates(ctx, logger, token, account)
	if err != nil {
		return fail("list", err)
	}
	result.Candidates = len(refs)

	pending := make([]gmail.MessageRef, 0, len(refs))
	for _, ref := range refs {
		processed, err := s.deps.Ledger.IsMessageProcessed(ctx, ref.ID)
		if err != nil {
			return fail("ledger", err)
		}
		if processed {
			result.Skipped++
			continue
		}
		pending = append(pending, ref)
	}
	capped := s.cfg.MaxMessages > 0 && len(pending) > s.cfg.MaxMessages
	pending = capRefs(pending, s.cfg.MaxMessages)

	messages, fetchErrs := s.fetch(ctx, token, pending)
	for id, err := range fetchErrs {
		result.FetchErrors++
		logger.Warn("gmail message fetch failed",
			logging.String(logging.FieldMessageID, id),
			logging.String(logging.FieldErrorHint, services.Category(err)),
			logging.Error(err),
		)
	}

	newest := latest
	for _, raw := range messages {
		if raw == nil {
			continue
		}
		outcome := s.processMessage(ctx, logger, account, raw, links)
		result.Processed++
		result.JobsFound += outcome.found
		result.JobsEnqueued += outcome.enqueued
		if outcome.filtered {
			result.Filtered++
		}
		if outcome.err != "" {
			result.MessageErrors++
		}
		if gmail.HistoryNewer(raw.HistoryID, newest) {
			newest = raw.HistoryID
		}
	}

	// The checkpoint only moves once every candidate has been handled.
	// Leftovers stay behind it and the ledger skips what was done.
	if capped || len(fetchErrs) > 0 {
		logger.Info("history checkpoint held back",
			logging.Bool("capped", capped),
			logging.Int("fetch_errors", len(fetchErrs)),
			logging.String(logging.FieldEventType, "gmail_checkpoint_held"),
		)
		return result
	}
	if newest != "" && newest != account.HistoryID {
		if err := s.deps.Accounts.UpdateHistory(ctx, account.Email, newest); err != nil {
			logger.Warn("persist history checkpoint failed", logging.Error(err))
		} else {
			result.HistoryID = newest
		}
	}
	return result
}

// candidates prefers the incremental history feed and falls back to a list
// query when there is no checkpoint, the history call fails or it is empty.
func (s *Service) candidates(ctx context.Context, logger *slog.Logger, token *oauth2.Token, account gmail.Account) ([]gmail.MessageRef, string, error) {
	var latest string
	if account.HistoryID != "" {
		refs, historyID, err := s.deps.Client.ListHistory(ctx, token, account.HistoryID)
		switch {
		case err != nil:
			logger.Info("history lookup failed, using list query",
				logging.String("reason", err.Error()),
				logging.String(logging.FieldEventType, "gmail_history_fallback"),
			)
		case len(refs) > 0:
			return refs, historyID, nil
		default:
			latest = historyID
		}
	}
	refs, err := s.deps.Client.ListMessages(ctx, token, s.cfg.Query, s.cfg.MaxMessages)
	if err != nil {
		return nil, "", err
	}
	return refs, latest, nil
}

// fetch downloads messages with bounded concurrency. The result keeps the
// order of refs; failed fetches are nil and reported by id.
func (s *Service) fetch(ctx context.Context, token *oauth2.Token, refs []gmail.MessageRef) ([]*gmail.RawMessage, map[string]error) {
	out := make([]*gmail.RawMessage, len(refs))
	errs := make(map[string]error)
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(s.cfg.FetchConcurrency, 1))
	for i, ref := range refs {
		group.Go(func() error {
			msg, err := s.deps.Client.GetMessage(groupCtx, token, ref.ID)
			if err != nil {
				mu.Lock()
				errs[ref.ID] = err
				mu.Unlock()
				return nil
			}
			out[i] = msg
			return nil
		})
	}
	_ = group.Wait()
	return out, errs
}

type messageOutcome struct {
	found    int
	enqueued int
	filtered bool
	err      string
}

func (s *Service) processMessage(ctx context.Context, logger *slog.Logger, account gmail.Account, raw *gmail.RawMessage, links *budget) messageOutcome {
	decoded := gmail.Decode(raw)
	logger = logger.With(logging.String(logging.FieldMessageID, decoded.ID))
	var outcome messageOutcome

	msg := extract.Message{
		Subject: decoded.Subject,
		From:    decoded.From,
		Body:    decoded.Body(),
		Links:   extract.Links(decoded.HTML, decoded.Text),
	}
	if !s.senderAllowed(decoded.SenderAddress()) || !s.looksRelevant(msg) {
		outcome.filtered = true
	} else {
		msg.Links = s.resolveLinks(ctx, logger, msg.Links, links)
		postings, err := s.deps.Extractor.Extract(ctx, msg)
		if err != nil {
			outcome.err = err.Error()
		}
		outcome.found = len(postings)
		var submitErrs []string
		for _, posting := range postings {
			enqueued, err := s.submit(ctx, account, decoded, posting)
			if err != nil {
				submitErrs = append(submitErrs, err.Error())
				continue
			}
			if enqueued {
				outcome.enqueued++
			}
		}
		if len(submitErrs) > 0 {
			outcome.err = strings.Join(append(nonEmpty(outcome.err), submitErrs...), "; ")
		}
	}

	rec := ingeststate.Record{
		MessageID:    decoded.ID,
		ThreadID:     decoded.ThreadID,
		Email:        account.Email,
		HistoryID:    decoded.HistoryID,
		ProcessedAt:  s.now().UTC(),
		JobsFound:    outcome.found,
		JobsEnqueued: outcome.enqueued,
		Error:        outcome.err,
	}
	if err := s.deps.Ledger.RecordProcessed(ctx, rec); err != nil {
		logging.ErrorWithContext(logger, "record ingest state failed", "gmail_ledger_failed",
			logging.String(logging.FieldErrorHint, "message may be processed again on the next run"),
			logging.Error(err),
		)
	}
	if outcome.found > 0 || outcome.err != "" {
		logger.Info("gmail message processed",
			logging.Int("jobs_found", outcome.found),
			logging.Int("jobs_enqueued", outcome.enqueued),
			logging.String("error", outcome.err),
			logging.String(logging.FieldEventType, "gmail_message_processed"),
		)
	}
	return outcome
}

// submit enqueues posting. An active item for the same URL is not an error;
// it reports enqueued=false.
func (s *Service) submit(ctx context.Context, account gmail.Account, decoded gmail.Decoded, posting extract.Posting) (bool, error) {
	_, err := s.deps.Queue.SubmitJob(ctx, queue.JobSubmission{
		Submission: queue.Submission{
			Source:      "email",
			SubmittedBy: account.Email,
			Metadata: map[string]any{
				MetaMessageID: decoded.ID,
				MetaThreadID:  decoded.ThreadID,
				MetaEmail:     account.Email,
			},
		},
		URL:         posting.URL,
		CompanyName: posting.Company,
		Title:       posting.Title,
		Location:    posting.Location,
		Description: posting.Description,
	})
	if errors.Is(err, queue.ErrActiveTaskExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) senderAllowed(sender string) bool {
	if len(s.cfg.SenderAllowlist) == 0 {
		return true
	}
	for _, allowed := range s.cfg.SenderAllowlist {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if sender == allowed || strings.HasSuffix(sender, "@"+allowed) || strings.HasSuffix(sender, "."+allowed) {
			return true
		}
	}
	return false
}

// looksRelevant accepts a message that mentions a keyword or links to a job board.
func (s *Service) looksRelevant(msg extract.Message) bool {
	haystack := strings.ToLower(msg.Subject + "\n" + msg.Body)
	for _, keyword := range s.cfg.Keywords {
		if keyword = strings.ToLower(strings.TrimSpace(keyword)); keyword != "" && strings.Contains(haystack, keyword) {
			return true
		}
	}
	for _, link := range msg.Links {
		if s.rule.IsJobLink(link.URL) {
			return true
		}
	}
	return false
}

// resolveLinks follows redirects for links that are not already on a job
// board, within the run's resolve budget.
func (s *Service) resolveLinks(ctx context.Context, logger *slog.Logger, links []extract.Link, remaining *budget) []extract.Link {
	out := make([]extract.Link, 0, len(links))
	for _, link := range links {
		if extract.HostMatches(link.URL, s.cfg.JobDomains) || !remaining.take() {
			out = append(out, link)
			continue
		}
		resolved, err := s.deps.Resolver.Resolve(ctx, link.URL)
		if err != nil {
			logger.Debug("link resolve failed", logging.String("url", link.URL), logging.Error(err))
		} else if resolved != link.URL {
			link.URL = resolved
		}
		out = append(out, link)
	}
	return out
}

func capRefs(refs []gmail.MessageRef, limit int) []gmail.MessageRef {
	if limit > 0 && len(refs) > limit {
		return refs[:limit]
	}
	return refs
}

func nonEmpty(value string) []string {
	if value == "" {
		return nil
	}
	return []string{value}
}
