package config

// CloudConfig holds credentials and endpoints for the external collaborators
// the job handlers talk to. All of them are optional; handlers degrade to
// explicit "skipped" results when a collaborator is unconfigured.
type CloudConfig struct {
	// SlackWebhookURL enables the notification sink.
	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`

	// AnthropicAPIKey enables the LLM analyzer used by the analysis handlers.
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL" default:"claude-sonnet-4-0"`

	// ExportBucket is the GCS bucket cost exports are written to.
	ExportBucket string `env:"COST_EXPORT_BUCKET"`

	// Billing provider endpoint used for subscription renewals.
	BillingAPIURL    string `env:"BILLING_API_URL"`
	BillingAPISecret string `env:"BILLING_API_SECRET"`
}
