package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateGmail(); err != nil {
		return err
	}
	if err := c.validateExtractor(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if _, err := cron.ParseStandard(c.Scheduler.TickSpec); err != nil {
		return fmt.Errorf("scheduler.tick_spec: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"scheduler.job_timeout_seconds":   c.Scheduler.JobTimeoutSeconds,
		"scheduler.stuck_timeout_minutes": c.Scheduler.StuckTimeoutMinutes,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.RotateMaxBytes <= 0 {
		return errors.New("logging.rotate_max_bytes must be positive")
	}
	return nil
}

func (c *Config) validateWorker() error {
	parsed, err := url.Parse(c.Worker.URL)
	if err != nil {
		return fmt.Errorf("worker.url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("worker.url must use http or https, got %q", c.Worker.URL)
	}
	return ensurePositiveMap(map[string]int{
		"worker.timeout_seconds": c.Worker.TimeoutSeconds,
	})
}

func (c *Config) validateGmail() error {
	if err := ensurePositiveMap(map[string]int{
		"gmail.max_messages":         c.Gmail.MaxMessages,
		"gmail.fetch_concurrency":    c.Gmail.FetchConcurrency,
		"gmail.link_timeout_seconds": c.Gmail.LinkTimeoutSeconds,
		"gmail.timeout_seconds":      c.Gmail.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if !c.Gmail.Enabled {
		return nil
	}
	if c.Gmail.ClientID == "" {
		return errors.New("gmail.client_id must be set when gmail.enabled is true (or set GMAIL_CLIENT_ID)")
	}
	if c.Gmail.ClientSecret == "" {
		return errors.New("gmail.client_secret must be set when gmail.enabled is true (or set GMAIL_CLIENT_SECRET)")
	}
	return nil
}

func (c *Config) validateExtractor() error {
	switch c.Extractor.Fallback {
	case "none":
	case "command":
		if strings.TrimSpace(c.Extractor.Command) == "" {
			return errors.New("extractor.command must be set when extractor.fallback is \"command\"")
		}
	case "llm":
		if c.LLM.APIKey == "" {
			return errors.New("llm.api_key must be set when extractor.fallback is \"llm\" (or set OPENROUTER_API_KEY)")
		}
	default:
		return fmt.Errorf("extractor.fallback %q is not one of none, command, llm", c.Extractor.Fallback)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
