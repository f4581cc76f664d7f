package extract

import (
	"context"
	"strings"
)

// Link is a hyperlink found in a message, with its anchor text when known.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// Message is the decoded mail content handed to extractors.
type Message struct {
	Subject string `json:"subject"`
	From    string `json:"from"`
	Body    string `json:"body"`
	Links   []Link `json:"links"`
}

// Posting is a job posting found in a message.
type Posting struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

// Complete reports whether the posting has both a title and a company.
func (p Posting) Complete() bool {
	return strings.TrimSpace(p.Title) != "" && strings.TrimSpace(p.Company) != ""
}

// merge fills empty fields of p from other. The URL is never replaced.
func (p Posting) merge(other Posting) Posting {
	if p.Title == "" {
		p.Title = strings.TrimSpace(other.Title)
	}
	if p.Company == "" {
		p.Company = strings.TrimSpace(other.Company)
	}
	if p.Location == "" {
		p.Location = strings.TrimSpace(other.Location)
	}
	if p.Description == "" {
		p.Description = strings.TrimSpace(other.Description)
	}
	return p
}

// Extractor finds postings in a message.
type Extractor interface {
	Extract(ctx context.Context, msg Message) ([]Posting, error)
}

// Fallback fills in fields the rule extractor could not determine.
type Fallback interface {
	Name() string
	Fill(ctx context.Context, msg Message, posting Posting) (Posting, error)
}
