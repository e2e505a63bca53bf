// Package llm wraps the Anthropic API behind the analysis handlers.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/costwarden/costwarden/internal/domain"
)

const (
	defaultModel     = string(anthropic.ModelClaudeSonnet4_20250514)
	analyzeMaxTokens = 2048
)

// Prompts per analysis kind. The model is asked for JSON so the output can
// be stored and rendered structurally; non-JSON replies are preserved
// verbatim under a single key.
var systemPrompts = map[domain.AnalysisKind]string{
	domain.AnalysisFinOps: "You are a FinOps analyst. Given a cloud spend summary, identify the top cost drivers, " +
		"anomalies and concrete saving opportunities. Respond with a JSON object with keys " +
		"\"summary\", \"drivers\", \"anomalies\" and \"recommendations\".",
	domain.AnalysisZombie: "You are a cloud infrastructure analyst. Given a zombie resource scan, prioritize the findings " +
		"and explain the risk of acting on each category. Respond with a JSON object with keys " +
		"\"summary\", \"priorities\" and \"cautions\".",
}

// AnthropicAnalyzer implements the LLM analysis behind finops_analysis and
// zombie_analysis.
type AnthropicAnalyzer struct {
	client anthropic.Client
	model  string
}

// NewAnthropicAnalyzer creates the analyzer. model falls back to the default
// when empty.
func NewAnthropicAnalyzer(apiKey, model string) *AnthropicAnalyzer {
	if model == "" {
		model = defaultModel
	}
	return &AnthropicAnalyzer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Model returns the configured model identifier, recorded on every stored
// analysis.
func (a *AnthropicAnalyzer) Model() string {
	return a.model
}

// Analyze sends the summary to the model and returns the parsed response.
func (a *AnthropicAnalyzer) Analyze(ctx context.Context, kind domain.AnalysisKind, summary map[string]any) (map[string]any, error) {
	systemPrompt, ok := systemPrompts[kind]
	if !ok {
		return nil, fmt.Errorf("no prompt for analysis kind %q", kind)
	}

	input, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis input: %w", err)
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: analyzeMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(input))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return parseAnalysis(text.String()), nil
}

// parseAnalysis decodes the model's JSON reply. Replies that are not valid
// JSON objects (or wrap the JSON in a code fence) are kept verbatim.
func parseAnalysis(text string) map[string]any {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		return parsed
	}
	return map[string]any{"analysis": text}
}
