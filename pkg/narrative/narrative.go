// Package narrative turns a run summary into a short QA-lead style
// verdict. When the LLM is disabled or unreachable, a deterministic
// fallback built from the same numbers is returned instead, so callers
// always get a usable narrative.
package narrative

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/qaops/railsync/pkg/config"
	"github.com/qaops/railsync/pkg/schema"
	"github.com/qaops/railsync/pkg/stats"
)

const systemPrompt = `You are a senior QA automation lead reviewing an automated API test run.
Write a short markdown verdict for the engineering team:
- One clear verdict line (safe to merge / review required / do not merge).
- Translate failures into user impact, not just test names.
- Recommend specific next actions for each failure.
Be direct and technical. No preamble; respond with the verdict only.`

// Generator produces run narratives.
type Generator struct {
	log    logrus.FieldLogger
	client *openai.Client
	model  string
}

// NewGenerator builds a Generator. The LLM client is only constructed
// when the narrative is enabled and an API key is present; otherwise
// every call takes the fallback path.
func NewGenerator(log logrus.FieldLogger, cfg *config.NarrativeConfig) *Generator {
	g := &Generator{
		log:   log.WithField("component", "narrative"),
		model: cfg.Model,
	}

	if !cfg.Enabled || cfg.APIKey == "" {
		return g
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	g.client = openai.NewClientWithConfig(clientCfg)

	return g
}

// Generate returns the narrative for one run. LLM failures degrade to
// the deterministic fallback and are never surfaced as errors.
func (g *Generator) Generate(
	ctx context.Context,
	summary schema.RunSummary,
	records []schema.ResultRecord,
	risk stats.RiskLevel,
) string {
	if g.client == nil {
		return Fallback(summary, records, risk)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: digest(summary, records, risk)},
		},
	})
	if err != nil {
		g.log.WithError(err).Warn("Narrative generation failed, using fallback")

		return Fallback(summary, records, risk)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		g.log.Warn("Narrative response empty, using fallback")

		return Fallback(summary, records, risk)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

// digest is the model's view of the run: the aggregate numbers plus one
// line per failure.
func digest(
	summary schema.RunSummary, records []schema.ResultRecord, risk stats.RiskLevel,
) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run summary:\n")
	fmt.Fprintf(&b, "- Total: %d\n", summary.Total)
	fmt.Fprintf(&b, "- Passed: %d (%.1f%%)\n", summary.Passed, summary.PassRate)
	fmt.Fprintf(&b, "- Failed: %d\n", summary.Failed)
	fmt.Fprintf(&b, "- Risk level: %s\n", risk)

	failures := failedRecords(records)
	if len(failures) > 0 {
		b.WriteString("\nFailures:\n")

		for _, record := range failures {
			message := record.ErrorMessage
			if message == "" {
				message = "no error detail"
			}

			fmt.Fprintf(&b, "- %s / %s: %s\n", record.FeatureName, record.ScenarioName, message)
		}
	}

	return b.String()
}

// Fallback is the deterministic narrative used when no LLM is
// available. It carries the same verdict the model would be asked for.
func Fallback(
	summary schema.RunSummary, records []schema.ResultRecord, risk stats.RiskLevel,
) string {
	var verdict string

	switch risk {
	case stats.RiskLow:
		verdict = "PASS - safe to merge"
	case stats.RiskMedium:
		verdict = "WARNING - review required before merge"
	default:
		verdict = "BLOCKED - do not merge"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "## Verdict: %s\n\n", verdict)
	fmt.Fprintf(&b, "Pass rate %.1f%% (%d/%d), risk %s.\n",
		summary.PassRate, summary.Passed, summary.Total, risk)

	failures := failedRecords(records)
	if len(failures) > 0 {
		fmt.Fprintf(&b, "\n### Failures (%d)\n", len(failures))

		for _, record := range failures {
			message := record.ErrorMessage
			if message == "" {
				message = "no error detail"
			}

			fmt.Fprintf(&b, "- **%s / %s**: %s\n", record.FeatureName, record.ScenarioName, message)
		}
	}

	return b.String()
}

func failedRecords(records []schema.ResultRecord) []schema.ResultRecord {
	var failures []schema.ResultRecord

	for _, record := range records {
		if record.Failed() {
			failures = append(failures, record)
		}
	}

	return failures
}
