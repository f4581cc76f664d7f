package config

const (
	defaultConfigPath              = "~/.config/applytrack/config.toml"
	defaultDataDir                 = "~/.local/share/applytrack"
	defaultLogDir                  = "~/.local/share/applytrack/logs"
	defaultAPIBind                 = "127.0.0.1:7490"
	defaultSchedulerTickSpec       = "* * * * *"
	defaultSchedulerJobTimeout     = 300
	defaultStuckTimeoutMinutes     = 30
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 14
	defaultLogRotateMaxBytes       = 10 * 1024 * 1024
	defaultWorkerURL               = "http://127.0.0.1:8790"
	defaultWorkerTimeout           = 30
	defaultGmailTokenURL           = "https://oauth2.googleapis.com/token"
	defaultGmailAPIBaseURL         = "https://gmail.googleapis.com/gmail/v1"
	defaultGmailQuery              = "newer_than:3d (job OR jobs OR hiring OR position OR role)"
	defaultGmailMaxMessages        = 50
	defaultGmailFetchConcurrency   = 5
	defaultGmailRequestsPerSecond  = 5
	defaultGmailLinkResolveLimit   = 25
	defaultGmailLinkTimeoutSeconds = 5
	defaultGmailTimeoutSeconds     = 20
	defaultGmailLedgerRetention    = 30
	defaultExtractorFallback       = "none"
	defaultExtractorTimeoutSeconds = 30
	defaultLLMBaseURL              = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                = "google/gemini-3-flash-preview"
	defaultLLMTitle                = "applytrack posting extractor"
	defaultLLMTimeoutSeconds       = 30
)

var defaultGmailKeywords = []string{"job", "hiring", "position", "role", "opening", "opportunit"}

var defaultGmailJobDomains = []string{
	"linkedin.com",
	"indeed.com",
	"greenhouse.io",
	"lever.co",
	"ashbyhq.com",
	"myworkdayjobs.com",
	"smartrecruiters.com",
	"workable.com",
	"wellfound.com",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Scheduler: Scheduler{
			Enabled:             true,
			TickSpec:            defaultSchedulerTickSpec,
			JobTimeoutSeconds:   defaultSchedulerJobTimeout,
			StuckTimeoutMinutes: defaultStuckTimeoutMinutes,
		},
		Logging: Logging{
			Format:         defaultLogFormat,
			Level:          defaultLogLevel,
			RetentionDays:  defaultLogRetentionDays,
			RotateMaxBytes: defaultLogRotateMaxBytes,
		},
		Worker: Worker{
			URL:            defaultWorkerURL,
			TimeoutSeconds: defaultWorkerTimeout,
		},
		Gmail: Gmail{
			TokenURL:            defaultGmailTokenURL,
			APIBaseURL:          defaultGmailAPIBaseURL,
			Query:               defaultGmailQuery,
			MaxMessages:         defaultGmailMaxMessages,
			FetchConcurrency:    defaultGmailFetchConcurrency,
			RequestsPerSecond:   defaultGmailRequestsPerSecond,
			Keywords:            append([]string(nil), defaultGmailKeywords...),
			JobDomains:          append([]string(nil), defaultGmailJobDomains...),
			LinkResolveLimit:    defaultGmailLinkResolveLimit,
			LinkTimeoutSeconds:  defaultGmailLinkTimeoutSeconds,
			TimeoutSeconds:      defaultGmailTimeoutSeconds,
			LedgerRetentionDays: defaultGmailLedgerRetention,
		},
		Extractor: Extractor{
			Fallback:       defaultExtractorFallback,
			TimeoutSeconds: defaultExtractorTimeoutSeconds,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
	}
}
