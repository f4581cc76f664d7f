package queue

import (
	"context"
	"strings"
	"time"

	"applytrack/internal/logging"
)

// Patch describes a partial update applied by Service.Update. Nil fields are
// left untouched. A nil value inside Metadata removes that key.
type Patch struct {
	Status        *Status        `json:"status,omitempty"`
	ResultMessage *string        `json:"result_message,omitempty"`
	ErrorDetails  *ErrorDetails  `json:"error_details,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CompanyID     *string        `json:"company_id,omitempty"`
	CompanyName   *string        `json:"company_name,omitempty"`
}

// Update applies patch to an item, enforcing the forward-only transition table.
// Moving an item back to pending is only possible through Retry or Unblock.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*Item, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := item.Status
	to := from
	if patch.Status != nil {
		to = *patch.Status
		if _, ok := statusSet[to]; !ok {
			return nil, invalid("status", "unknown status "+string(to))
		}
	}
	// Only Retry, Unblock and stuck recovery put items back to pending.
	if !CanTransition(from, to) || (patch.Status != nil && to == StatusPending) {
		return nil, &TransitionError{ID: id, From: from, To: to}
	}

	now := s.now().UTC()
	item.Status = to
	item.UpdatedAt = now
	if to != from {
		switch {
		case to == StatusProcessing:
			item.ProcessedAt = &now
		case to.IsTerminal():
			item.CompletedAt = &now
		}
	}
	if patch.ResultMessage != nil {
		item.ResultMessage = *patch.ResultMessage
	}
	if patch.ErrorDetails != nil {
		details := *patch.ErrorDetails
		item.ErrorDetails = &details
	}
	if patch.CompanyID != nil {
		item.CompanyID = strings.TrimSpace(*patch.CompanyID)
	}
	if patch.CompanyName != nil {
		item.CompanyName = strings.TrimSpace(*patch.CompanyName)
	}
	mergeMetadata(item, patch.Metadata)

	if err := s.save(ctx, item, from); err != nil {
		return nil, err
	}
	if to != from {
		s.logTransition(ctx, item, from, "queue_item_transition")
	}
	return item, nil
}

// Retry moves a failed item back to pending and clears its outcome.
func (s *Service) Retry(ctx context.Context, id string) (*Item, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != StatusFailed {
		return nil, &TransitionError{
			ID:     id,
			From:   item.Status,
			To:     StatusPending,
			Reason: "Only failed items can be retried",
		}
	}
	if err := s.ensureCompanyIdle(ctx, item); err != nil {
		return nil, err
	}
	item.RetryCount++
	s.resetToPending(item)
	if err := s.save(ctx, item, StatusFailed); err != nil {
		return nil, err
	}
	s.logTransition(ctx, item, StatusFailed, "queue_item_retried")
	return item, nil
}

// UnblockItem moves a blocked item back to pending.
func (s *Service) UnblockItem(ctx context.Context, id string) (*Item, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != StatusBlocked {
		return nil, &TransitionError{
			ID:     id,
			From:   item.Status,
			To:     StatusPending,
			Reason: "Only blocked items can be unblocked",
		}
	}
	if err := s.ensureCompanyIdle(ctx, item); err != nil {
		return nil, err
	}
	s.resetToPending(item)
	if err := s.save(ctx, item, StatusBlocked); err != nil {
		return nil, err
	}
	s.logTransition(ctx, item, StatusBlocked, "queue_item_unblocked")
	return item, nil
}

// UnblockAll moves every blocked item back to pending. A non-empty category
// limits the reset to items whose error category matches.
func (s *Service) UnblockAll(ctx context.Context, category string) (int64, error) {
	count, err := s.store.ResetBlocked(ctx, category, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.log(ctx).Info("blocked items reset",
			logging.Int64("count", count),
			logging.String("category", category),
			logging.String(logging.FieldEventType, "queue_unblock_all"),
		)
	}
	return count, nil
}

// RecoverStuckProcessing resets items that have been processing for longer
// than timeout. Items with no retries left are failed instead. It returns the
// number of items returned to pending.
func (s *Service) RecoverStuckProcessing(ctx context.Context, timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		timeout = DefaultStuckTimeout
	}
	now := s.now().UTC()
	reset, failed, err := s.store.RecoverProcessing(ctx, now.Add(-timeout), now)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		s.log(ctx).Warn("stuck processing items reset to pending",
			logging.Int64("count", reset),
			logging.Duration("timeout", timeout),
			logging.String(logging.FieldEventType, "queue_stuck_recovered"),
			logging.String(logging.FieldErrorHint, "a worker likely crashed mid-task"),
		)
	}
	if failed > 0 {
		s.log(ctx).Warn("stuck processing items failed after exhausting retries",
			logging.Int64("count", failed),
			logging.Duration("timeout", timeout),
			logging.String(logging.FieldEventType, "queue_stuck_failed"),
			logging.String(logging.FieldErrorHint, "inspect the items and retry them manually"),
		)
	}
	return reset, nil
}

// DefaultStuckTimeout is used when RecoverStuckProcessing gets no timeout.
const DefaultStuckTimeout = 30 * time.Minute

func (s *Service) resetToPending(item *Item) {
	item.Status = StatusPending
	item.ProcessedAt = nil
	item.CompletedAt = nil
	item.ErrorDetails = nil
	item.ResultMessage = ""
	item.UpdatedAt = s.now().UTC()
}

func (s *Service) ensureCompanyIdle(ctx context.Context, item *Item) error {
	if item.Type != TypeCompany || item.CompanyID == "" {
		return nil
	}
	existing, err := s.store.FindActive(ctx, TypeCompany, "company_id", item.CompanyID)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != item.ID {
		return &ConflictError{Type: TypeCompany, Key: item.CompanyID, ExistingID: existing.ID}
	}
	return nil
}

// save persists item if its stored status still equals expected. When another
// writer won the race the current status is reported as a TransitionError.
func (s *Service) save(ctx context.Context, item *Item, expected Status) error {
	ok, err := s.store.Save(ctx, item, expected)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	current, err := s.store.Get(ctx, item.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return &NotFoundError{ID: item.ID}
	}
	return &TransitionError{ID: item.ID, From: current.Status, To: item.Status}
}

func (s *Service) logTransition(ctx context.Context, item *Item, from Status, event string) {
	s.log(ctx).Info("queue item status changed",
		logging.String(logging.FieldItemID, item.ID),
		logging.String("type", string(item.Type)),
		logging.String("from", string(from)),
		logging.String("to", string(item.Status)),
		logging.Int("retry_count", item.RetryCount),
		logging.String(logging.FieldEventType, event),
	)
}

func mergeMetadata(item *Item, patch map[string]any) {
	if len(patch) == 0 {
		return
	}
	if item.Metadata == nil {
		item.Metadata = make(map[string]any, len(patch))
	}
	for key, value := range patch {
		if value == nil {
			delete(item.Metadata, key)
			continue
		}
		item.Metadata[key] = value
	}
}
