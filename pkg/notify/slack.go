// Package notify pushes run outcomes to chat. Notification failures are
// reported to the caller but are never fatal to the pipeline.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/qaops/railsync/pkg/config"
	"github.com/qaops/railsync/pkg/schema"
	"github.com/qaops/railsync/pkg/stats"
)

// Message carries everything a notification renders.
type Message struct {
	Summary   schema.RunSummary
	Risk      stats.RiskLevel
	Branch    string
	Actor     string
	CommitSHA string
	RunID     int
	RunName   string
	Narrative string
}

// Block Kit payload shapes, only the parts the webhook needs.
type slackPayload struct {
	Blocks      []slackBlock      `json:"blocks"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackAttachment struct {
	Color  string `json:"color"`
	Footer string `json:"footer"`
	TS     int64  `json:"ts"`
}

// SlackNotifier posts run outcomes to a Slack incoming webhook.
type SlackNotifier struct {
	log        logrus.FieldLogger
	http       *resty.Client
	webhookURL string
}

func NewSlackNotifier(log logrus.FieldLogger, cfg *config.SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		log:        log.WithField("component", "slack"),
		http:       resty.New().SetTimeout(10 * time.Second),
		webhookURL: cfg.WebhookURL,
	}
}

// Notify posts the message. A non-200 webhook response is an error.
func (n *SlackNotifier) Notify(ctx context.Context, msg Message) error {
	resp, err := n.http.R().
		SetContext(ctx).
		SetBody(buildPayload(msg, time.Now())).
		Post(n.webhookURL)
	if err != nil {
		return fmt.Errorf("posting slack notification: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode(), resp.String())
	}

	n.log.WithField("run_id", msg.RunID).Info("Slack notification sent")

	return nil
}

func buildPayload(msg Message, now time.Time) slackPayload {
	header := "Test Run Results"
	if msg.RunName != "" {
		header = "Test Run Results: " + msg.RunName
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: header, Emoji: true},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Pass Rate*\n%.1f%%", msg.Summary.PassRate)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Risk Level*\n%s", msg.Risk)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Passed*\n%d/%d", msg.Summary.Passed, msg.Summary.Total)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Failed*\n%d", msg.Summary.Failed)},
			},
		},
	}

	if msg.Narrative != "" {
		blocks = append(blocks,
			slackBlock{Type: "divider"},
			slackBlock{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: "*Analysis*\n" + msg.Narrative},
			},
		)
	}

	blocks = append(blocks, slackBlock{
		Type:     "context",
		Elements: []slackText{{Type: "mrkdwn", Text: contextLine(msg)}},
	})

	return slackPayload{
		Blocks: blocks,
		Attachments: []slackAttachment{
			{
				Color:  riskColor(msg.Risk),
				Footer: "railsync",
				TS:     now.Unix(),
			},
		},
	}
}

func contextLine(msg Message) string {
	line := "Branch: " + orUnknown(msg.Branch)

	if msg.Actor != "" {
		line += " | @" + msg.Actor
	}

	if msg.CommitSHA != "" {
		sha := msg.CommitSHA
		if len(sha) > 7 {
			sha = sha[:7]
		}

		line += " | " + sha
	}

	if msg.RunID != 0 {
		line += fmt.Sprintf(" | run #%d", msg.RunID)
	}

	return line
}

func riskColor(risk stats.RiskLevel) string {
	switch risk {
	case stats.RiskLow:
		return "#36a64f"
	case stats.RiskMedium:
		return "#ff9900"
	default:
		return "#ff0000"
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}

	return s
}
