package queue

import (
	"strings"
	"time"
)

// Type identifies the kind of work an item represents. It never changes after creation.
type Type string

const (
	TypeJob             Type = "job"
	TypeCompany         Type = "company"
	TypeScrape          Type = "scrape"
	TypeSourceDiscovery Type = "source_discovery"
	TypeSourceRecover   Type = "source_recover"
)

var allTypes = []Type{
	TypeJob,
	TypeCompany,
	TypeScrape,
	TypeSourceDiscovery,
	TypeSourceRecover,
}

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusSuccess,
	StatusFailed,
	StatusBlocked,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// allowedTransitions lists the edges Update may take. Re-entry to pending is
// deliberately absent: it happens only through Retry and Unblock.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusProcessing: {},
		StatusFailed:     {},
		StatusBlocked:    {},
	},
	StatusProcessing: {
		StatusSuccess: {},
		StatusFailed:  {},
		StatusBlocked: {},
	},
}

// DefaultMaxRetries bounds automatic stuck-item recovery when a submission does not set one.
const DefaultMaxRetries = 3

// CategoryStuckTimeout tags items failed by RecoverStuckProcessing after exhausting retries.
const CategoryStuckTimeout = "stuck_timeout"

// ErrorDetails is the structured failure stored with an item.
type ErrorDetails struct {
	Category  string `json:"category,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
}

// Item represents a queue item persisted in SQLite.
type Item struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Status        Status         `json:"status"`
	URL           string         `json:"url,omitempty"`
	CompanyName   string         `json:"company_name,omitempty"`
	CompanyID     string         `json:"company_id,omitempty"`
	Source        string         `json:"source"`
	SubmittedBy   string         `json:"submitted_by,omitempty"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	ResultMessage string         `json:"result_message,omitempty"`
	ErrorDetails  *ErrorDetails  `json:"error_details,omitempty"`
	Metadata      map[string]any `json:"metadata"`
	Payload       Payload        `json:"payload,omitempty"`
}

// Stats summarizes item counts.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	ByType   map[Type]int   `json:"by_type"`
}

// ListFilter narrows List results. Zero values mean no filter.
type ListFilter struct {
	Statuses []Status
	Types    []Type
	Limit    int
	Offset   int
}

// Listing is a scraped job listing tracked for the orphan audit.
type Listing struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	CompanyName string    `json:"company_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// AllTypes returns the ordered list of known item types.
func AllTypes() []Type {
	return append([]Type(nil), allTypes...)
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ParseType converts a string into a known Type. Hyphenated forms such as
// "source-discovery" are accepted.
func ParseType(value string) (Type, bool) {
	normalized := Type(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_"))
	for _, t := range allTypes {
		if t == normalized {
			return t, true
		}
	}
	return "", false
}

// IsActive reports whether the status counts as in flight.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

// IsTerminal reports whether Update treats the status as an end state.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusBlocked
}

// CanTransition reports whether Update may move an item from one status to another.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	_, ok := allowedTransitions[from][to]
	return ok
}
