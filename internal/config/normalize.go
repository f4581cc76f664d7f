package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeScheduler(); err != nil {
		return err
	}
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	c.normalizeWorker()
	c.normalizeGmail()
	c.normalizeExtractor()
	c.normalizeLLM()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := lookupTrimmed("APPLYTRACK_LOG_DIR"); ok && value != "" {
		c.Paths.LogDir = value
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := lookupTrimmed("APPLYTRACK_API_TOKEN"); ok {
			c.Paths.APIToken = value
		}
	}
	c.Paths.CORSOrigins = dedupeStrings(c.Paths.CORSOrigins, false)
	return nil
}

func (c *Config) normalizeScheduler() error {
	if value, ok := lookupTrimmed("APPLYTRACK_CRON_ENABLED"); ok && value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("APPLYTRACK_CRON_ENABLED: %w", err)
		}
		c.Scheduler.Enabled = enabled
	}
	c.Scheduler.Timezone = strings.TrimSpace(c.Scheduler.Timezone)
	c.Scheduler.TickSpec = strings.TrimSpace(c.Scheduler.TickSpec)
	if c.Scheduler.TickSpec == "" {
		c.Scheduler.TickSpec = defaultSchedulerTickSpec
	}
	if c.Scheduler.JobTimeoutSeconds <= 0 {
		c.Scheduler.JobTimeoutSeconds = defaultSchedulerJobTimeout
	}
	if c.Scheduler.StuckTimeoutMinutes <= 0 {
		c.Scheduler.StuckTimeoutMinutes = defaultStuckTimeoutMinutes
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if value, ok := lookupTrimmed("APPLYTRACK_LOG_RETENTION_DAYS"); ok && value != "" {
		days, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("APPLYTRACK_LOG_RETENTION_DAYS: %w", err)
		}
		c.Logging.RetentionDays = days
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if value, ok := lookupTrimmed("APPLYTRACK_LOG_ROTATE_MAX_BYTES"); ok && value != "" {
		size, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("APPLYTRACK_LOG_ROTATE_MAX_BYTES: %w", err)
		}
		c.Logging.RotateMaxBytes = size
	}
	if c.Logging.RotateMaxBytes <= 0 {
		c.Logging.RotateMaxBytes = defaultLogRotateMaxBytes
	}
	return nil
}

func (c *Config) normalizeWorker() {
	if value, ok := lookupTrimmed("APPLYTRACK_WORKER_URL"); ok && value != "" {
		c.Worker.URL = value
	}
	c.Worker.URL = strings.TrimRight(strings.TrimSpace(c.Worker.URL), "/")
	if c.Worker.URL == "" {
		c.Worker.URL = defaultWorkerURL
	}
	if c.Worker.TimeoutSeconds <= 0 {
		c.Worker.TimeoutSeconds = defaultWorkerTimeout
	}
}

func (c *Config) normalizeGmail() {
	c.Gmail.ClientID = strings.TrimSpace(c.Gmail.ClientID)
	if c.Gmail.ClientID == "" {
		if value, ok := lookupTrimmed("GMAIL_CLIENT_ID"); ok {
			c.Gmail.ClientID = value
		}
	}
	c.Gmail.ClientSecret = strings.TrimSpace(c.Gmail.ClientSecret)
	if c.Gmail.ClientSecret == "" {
		if value, ok := lookupTrimmed("GMAIL_CLIENT_SECRET"); ok {
			c.Gmail.ClientSecret = value
		}
	}
	c.Gmail.TokenURL = strings.TrimSpace(c.Gmail.TokenURL)
	if c.Gmail.TokenURL == "" {
		c.Gmail.TokenURL = defaultGmailTokenURL
	}
	c.Gmail.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.Gmail.APIBaseURL), "/")
	if c.Gmail.APIBaseURL == "" {
		c.Gmail.APIBaseURL = defaultGmailAPIBaseURL
	}
	c.Gmail.Query = strings.TrimSpace(c.Gmail.Query)
	if c.Gmail.Query == "" {
		c.Gmail.Query = defaultGmailQuery
	}
	if c.Gmail.MaxMessages <= 0 {
		c.Gmail.MaxMessages = defaultGmailMaxMessages
	}
	if c.Gmail.FetchConcurrency <= 0 {
		c.Gmail.FetchConcurrency = defaultGmailFetchConcurrency
	}
	if c.Gmail.RequestsPerSecond <= 0 {
		c.Gmail.RequestsPerSecond = defaultGmailRequestsPerSecond
	}
	c.Gmail.SenderAllowlist = dedupeStrings(c.Gmail.SenderAllowlist, true)
	c.Gmail.Keywords = dedupeStrings(c.Gmail.Keywords, true)
	if len(c.Gmail.Keywords) == 0 {
		c.Gmail.Keywords = append([]string(nil), defaultGmailKeywords...)
	}
	c.Gmail.JobDomains = dedupeStrings(c.Gmail.JobDomains, true)
	if len(c.Gmail.JobDomains) == 0 {
		c.Gmail.JobDomains = append([]string(nil), defaultGmailJobDomains...)
	}
	if c.Gmail.LinkResolveLimit < 0 {
		c.Gmail.LinkResolveLimit = 0
	}
	if c.Gmail.LinkTimeoutSeconds <= 0 {
		c.Gmail.LinkTimeoutSeconds = defaultGmailLinkTimeoutSeconds
	}
	if c.Gmail.TimeoutSeconds <= 0 {
		c.Gmail.TimeoutSeconds = defaultGmailTimeoutSeconds
	}
	if c.Gmail.LedgerRetentionDays < 0 {
		c.Gmail.LedgerRetentionDays = 0
	}
}

func (c *Config) normalizeExtractor() {
	c.Extractor.Fallback = strings.ToLower(strings.TrimSpace(c.Extractor.Fallback))
	if c.Extractor.Fallback == "" {
		c.Extractor.Fallback = defaultExtractorFallback
	}
	c.Extractor.Command = strings.TrimSpace(c.Extractor.Command)
	if c.Extractor.TimeoutSeconds <= 0 {
		c.Extractor.TimeoutSeconds = defaultExtractorTimeoutSeconds
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := lookupTrimmed("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = value
		}
	}
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func dedupeStrings(values []string, lower bool) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if lower {
			normalized = strings.ToLower(normalized)
		}
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
