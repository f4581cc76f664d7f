package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"applytrack/internal/command"
	"applytrack/internal/config"
	"applytrack/internal/services"
	"applytrack/internal/services/llm"
)

const maxFallbackBody = 8000

type fallbackRequest struct {
	Message Message `json:"message"`
	Posting Posting `json:"posting"`
}

// CommandFallback runs an external program that reads a JSON request on
// stdin and prints a JSON posting on stdout.
type CommandFallback struct {
	runner  command.Runner
	name    string
	args    []string
	timeout time.Duration
}

// NewCommandFallback builds a command fallback.
func NewCommandFallback(runner command.Runner, name string, args []string, timeout time.Duration) *CommandFallback {
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &CommandFallback{runner: runner, name: name, args: append([]string(nil), args...), timeout: timeout}
}

func (c *CommandFallback) Name() string { return "command" }

// Fill sends msg and posting to the command and merges its answer into posting.
func (c *CommandFallback) Fill(ctx context.Context, msg Message, posting Posting) (Posting, error) {
	input, err := json.Marshal(fallbackRequest{Message: trimMessage(msg), Posting: posting})
	if err != nil {
		return posting, fmt.Errorf("encode fallback request: %w", err)
	}
	res, err := c.runner.Run(ctx, command.Spec{Name: c.name, Args: c.args, Stdin: input, Timeout: c.timeout})
	if err != nil {
		return posting, err
	}
	var answer Posting
	if err := json.Unmarshal(res.Stdout, &answer); err != nil {
		return posting, services.Wrap(services.ErrExternalTool, "extract", "command fallback", "decode output", err)
	}
	return posting.merge(answer), nil
}

// Completer is the subset of the LLM client used by LLMFallback.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMFallback asks a chat model to identify the posting.
type LLMFallback struct {
	client Completer
}

// NewLLMFallback builds an LLM fallback.
func NewLLMFallback(client Completer) *LLMFallback {
	return &LLMFallback{client: client}
}

func (l *LLMFallback) Name() string { return "llm" }

const postingPrompt = `You read job alert emails. Given an email and one job link from it, identify the job posting behind that link.
Respond with a single JSON object with the keys "title", "company", "location" and "description".
Use an empty string for anything the email does not state. Never invent a company.`

// Fill asks the model for the missing fields and merges them into posting.
func (l *LLMFallback) Fill(ctx context.Context, msg Message, posting Posting) (Posting, error) {
	request, err := json.Marshal(fallbackRequest{Message: trimMessage(msg), Posting: posting})
	if err != nil {
		return posting, fmt.Errorf("encode fallback request: %w", err)
	}
	content, err := l.client.CompleteJSON(ctx, postingPrompt, string(request))
	if err != nil {
		return posting, err
	}
	var answer Posting
	if err := llm.DecodeJSON(content, &answer); err != nil {
		return posting, services.Wrap(services.ErrExternalTool, "extract", "llm fallback", "decode output", err)
	}
	answer.URL = ""
	return posting.merge(answer), nil
}

// NewFallback builds the fallback selected by cfg, or nil when disabled.
func NewFallback(cfg *config.Config, runner command.Runner) Fallback {
	timeout := time.Duration(cfg.Extractor.TimeoutSeconds) * time.Second
	switch strings.ToLower(strings.TrimSpace(cfg.Extractor.Fallback)) {
	case "command":
		return NewCommandFallback(runner, cfg.Extractor.Command, cfg.Extractor.Args, timeout)
	case "llm":
		return NewLLMFallback(llm.NewClient(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			Referer:        cfg.LLM.Referer,
			Title:          cfg.LLM.Title,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		}))
	default:
		return nil
	}
}

func trimMessage(msg Message) Message {
	if len(msg.Body) > maxFallbackBody {
		cut := maxFallbackBody
		for cut > 0 && !utf8.RuneStart(msg.Body[cut]) {
			cut--
		}
		msg.Body = msg.Body[:cut]
	}
	return msg
}
