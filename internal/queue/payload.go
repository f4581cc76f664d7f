package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Payload is the type-specific part of a queue item. The concrete type always
// matches the item's Type.
type Payload interface {
	ItemType() Type
}

// JobPayload carries a single job posting.
type JobPayload struct {
	Title        string `json:"title,omitempty"`
	Location     string `json:"location,omitempty"`
	Description  string `json:"description,omitempty"`
	GenerationID string `json:"generation_id,omitempty"`
}

// CompanyPayload selects which part of company enrichment to run.
type CompanyPayload struct {
	SubTask string `json:"company_sub_task,omitempty"`
}

// ScrapeConfig bounds a scrape run.
type ScrapeConfig struct {
	TargetMatches *int     `json:"target_matches,omitempty"`
	MaxSources    *int     `json:"max_sources,omitempty"`
	SourceIDs     []string `json:"source_ids,omitempty"`
}

// ScrapePayload asks the worker to scrape configured sources.
type ScrapePayload struct {
	ScrapeConfig ScrapeConfig `json:"scrape_config"`
}

// SourceDiscoveryConfig describes a candidate job source.
type SourceDiscoveryConfig struct {
	URL         string `json:"url"`
	TypeHint    string `json:"type_hint,omitempty"`
	CompanyID   string `json:"company_id,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
}

// SourceDiscoveryPayload asks the worker to inspect a new source.
type SourceDiscoveryPayload struct {
	SourceDiscoveryConfig SourceDiscoveryConfig `json:"source_discovery_config"`
}

// SourceRecoverPayload asks the worker to repair a broken source.
type SourceRecoverPayload struct {
	SourceID string `json:"source_id"`
}

func (JobPayload) ItemType() Type             { return TypeJob }
func (CompanyPayload) ItemType() Type         { return TypeCompany }
func (ScrapePayload) ItemType() Type          { return TypeScrape }
func (SourceDiscoveryPayload) ItemType() Type { return TypeSourceDiscovery }
func (SourceRecoverPayload) ItemType() Type   { return TypeSourceRecover }

// ErrPayloadMismatch reports a payload whose variant does not match the item type.
var ErrPayloadMismatch = errors.New("payload does not match item type")

// EncodePayload serializes p for storage after checking it belongs to t.
// A nil payload encodes as the empty variant for t.
func EncodePayload(t Type, p Payload) (string, error) {
	if p == nil {
		empty, err := emptyPayload(t)
		if err != nil {
			return "", err
		}
		p = empty
	}
	if p.ItemType() != t {
		return "", fmt.Errorf("%w: %s payload on %s item", ErrPayloadMismatch, p.ItemType(), t)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return string(data), nil
}

// DecodePayload parses a stored payload into the variant for t. Unknown
// fields are rejected.
func DecodePayload(t Type, raw string) (Payload, error) {
	var target any
	switch t {
	case TypeJob:
		target = &JobPayload{}
	case TypeCompany:
		target = &CompanyPayload{}
	case TypeScrape:
		target = &ScrapePayload{}
	case TypeSourceDiscovery:
		target = &SourceDiscoveryPayload{}
	case TypeSourceRecover:
		target = &SourceRecoverPayload{}
	default:
		return nil, fmt.Errorf("decode payload: unknown item type %q", t)
	}

	if trimmed := strings.TrimSpace(raw); trimmed != "" && trimmed != "null" {
		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			return nil, fmt.Errorf("%w: decode %s payload: %w", ErrPayloadMismatch, t, err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: trailing data in %s payload", ErrPayloadMismatch, t)
		}
	}

	switch v := target.(type) {
	case *JobPayload:
		return *v, nil
	case *CompanyPayload:
		return *v, nil
	case *ScrapePayload:
		return *v, nil
	case *SourceDiscoveryPayload:
		return *v, nil
	default:
		return *target.(*SourceRecoverPayload), nil
	}
}

func emptyPayload(t Type) (Payload, error) {
	switch t {
	case TypeJob:
		return JobPayload{}, nil
	case TypeCompany:
		return CompanyPayload{}, nil
	case TypeScrape:
		return ScrapePayload{}, nil
	case TypeSourceDiscovery:
		return SourceDiscoveryPayload{}, nil
	case TypeSourceRecover:
		return SourceRecoverPayload{}, nil
	}
	return nil, fmt.Errorf("unknown item type %q", t)
}

func encodeJSONObject(value map[string]any) (string, error) {
	if len(value) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
