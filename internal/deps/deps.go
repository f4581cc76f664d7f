// Package deps reports whether external programs and credentials the
// configuration depends on are available on this host.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"applytrack/internal/config"
)

// Requirement defines an external dependency applytrack relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Check inspects everything cfg enables: the command extractor binary, the
// LLM key, and the Gmail OAuth client.
func Check(cfg *config.Config) []Status {
	if cfg == nil {
		return nil
	}
	var results []Status
	if cfg.Extractor.Fallback == "command" {
		results = append(results, CheckBinaries([]Requirement{{
			Name:        "Extractor command",
			Command:     cfg.Extractor.Command,
			Description: "Fallback posting extractor",
		}})...)
	}
	if cfg.Extractor.Fallback == "llm" {
		results = append(results, credential("LLM API key", "Fallback posting extractor", cfg.LLM.APIKey, "set llm.api_key or OPENROUTER_API_KEY"))
	}
	if cfg.Gmail.Enabled {
		results = append(results, credential("Gmail OAuth client", "Mailbox ingestion",
			nonEmptyAll(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret), "set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET"))
	}
	return results
}

func credential(name, description, value, hint string) Status {
	status := Status{Name: name, Description: description}
	if strings.TrimSpace(value) == "" {
		status.Detail = hint
		return status
	}
	status.Available = true
	return status
}

func nonEmptyAll(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			return ""
		}
	}
	return "ok"
}
