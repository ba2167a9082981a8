package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds caseflow-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	ServiceNowURL      string
	ServiceNowUser     string
	ServiceNowPassword string

	ClaudeAPIKey string
	ClaudeModel  string

	DatabaseURL string

	SlackToken             string
	SlackEscalationChannel string

	NATSURL             string
	WorkerBudgetSeconds int

	SearchEndpoint string

	APIToken string

	IdempotencyWindowMinutes int
	ClassifyMaxRetries       int
	KBMaxAttempts            int
	KBRequireApproval        bool
	CatalogRedirectClose     bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ServiceNowURL, "servicenow-url", "", "ServiceNow instance base URL")
	fs.StringVar(&c.ServiceNowUser, "servicenow-user", "", "ServiceNow Table API username")
	fs.StringVar(&c.ServiceNowPassword, "servicenow-password", "", "ServiceNow Table API password")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackToken, "slack-token", "", "Slack bot token for thread messaging and escalations (empty = disabled)")
	fs.StringVar(&c.SlackEscalationChannel, "slack-escalation-channel", "", "Slack channel for escalation messages")
	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS server URL for the async worker path (empty = process inline)")
	fs.IntVar(&c.WorkerBudgetSeconds, "worker-budget-seconds", 300, "per-message processing budget for the queue worker (10..3600)")
	fs.StringVar(&c.SearchEndpoint, "search-endpoint", "", "article search endpoint for KB duplicate detection (empty = disabled)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token protecting the API (empty = no auth)")
	fs.IntVar(&c.IdempotencyWindowMinutes, "idempotency-window-minutes", 30, "minutes a completed classification suppresses redeliveries (1..1440)")
	fs.IntVar(&c.ClassifyMaxRetries, "classify-max-retries", 3, "classification attempts before the pipeline fails (1..10)")
	fs.IntVar(&c.KBMaxAttempts, "kb-max-attempts", 3, "insufficient assessments before a gathering session is abandoned (1..10)")
	fs.BoolVar(&c.KBRequireApproval, "kb-require-approval", false, "hold generated articles for human approval before publishing")
	fs.BoolVar(&c.CatalogRedirectClose, "catalog-redirect-close", false, "close redirected cases instead of only appending the redirect work note")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// ServiceNow is the system of record; the pipeline cannot run without it
	if c.ServiceNowURL == "" {
		errs = append(errs, errors.New("SERVICENOW_URL is required"))
	}
	if c.ServiceNowUser == "" || c.ServiceNowPassword == "" {
		errs = append(errs, errors.New("SERVICENOW_USER and SERVICENOW_PASSWORD are required"))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	// Slack escalation channel only makes sense with a token
	if c.SlackEscalationChannel != "" && c.SlackToken == "" {
		errs = append(errs, errors.New("SLACK_ESCALATION_CHANNEL requires SLACK_TOKEN"))
	}

	if c.WorkerBudgetSeconds < 10 || c.WorkerBudgetSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid WORKER_BUDGET_SECONDS %d (must be 10..3600)", c.WorkerBudgetSeconds))
	}
	if c.IdempotencyWindowMinutes <= 0 || c.IdempotencyWindowMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid IDEMPOTENCY_WINDOW_MINUTES %d (must be 1..1440)", c.IdempotencyWindowMinutes))
	}
	if c.ClassifyMaxRetries <= 0 || c.ClassifyMaxRetries > 10 {
		errs = append(errs, fmt.Errorf("invalid CLASSIFY_MAX_RETRIES %d (must be 1..10)", c.ClassifyMaxRetries))
	}
	if c.KBMaxAttempts <= 0 || c.KBMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid KB_MAX_ATTEMPTS %d (must be 1..10)", c.KBMaxAttempts))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
