// Package slack delivers escalations and case-thread messages through the
// Slack Web API.
package slack

import (
	"context"
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/triage"
)

const maxTextLen = 3000

// api is the slice of *slack.Client we use, split out so tests can fake it.
type api interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
}

// Client posts plain-text messages and escalations to Slack. It
// implements both the KB Messenger and triage.Notifier contracts.
type Client struct {
	api               api
	escalationChannel string
	logger            log.Logger
}

// New creates a Slack client from a bot token. escalationChannel receives
// Escalate messages; thread messages go wherever the caller points them.
func New(token, escalationChannel string, logger log.Logger) *Client {
	return &Client{
		api:               slackapi.New(token),
		escalationChannel: escalationChannel,
		logger:            logger.With("component", "slack"),
	}
}

// PostMessage posts a top-level message and returns its timestamp, which
// doubles as the thread id for follow-ups.
func (c *Client) PostMessage(ctx context.Context, channelID, text string) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, channelID,
		slackapi.MsgOptionText(truncate(text, maxTextLen), false),
	)
	if err != nil {
		return "", fmt.Errorf("slack: post message: %w", err)
	}
	return ts, nil
}

// UpdateMessage rewrites an existing message in place.
func (c *Client) UpdateMessage(ctx context.Context, channelID, timestamp, text string) error {
	_, _, _, err := c.api.UpdateMessageContext(ctx, channelID, timestamp,
		slackapi.MsgOptionText(truncate(text, maxTextLen), false),
	)
	if err != nil {
		return fmt.Errorf("slack: update message: %w", err)
	}
	return nil
}

// PostToThread posts a reply inside an existing thread.
func (c *Client) PostToThread(ctx context.Context, channelID, threadID, text string) error {
	_, _, err := c.api.PostMessageContext(ctx, channelID,
		slackapi.MsgOptionText(truncate(text, maxTextLen), false),
		slackapi.MsgOptionTS(threadID),
	)
	if err != nil {
		return fmt.Errorf("slack: post to thread: %w", err)
	}
	return nil
}

// Escalate posts a business-impact escalation to the escalation channel.
func (c *Client) Escalate(ctx context.Context, ev *triage.EscalationEvent) error {
	if c.escalationChannel == "" {
		return nil
	}

	_, _, err := c.api.PostMessageContext(ctx, c.escalationChannel,
		slackapi.MsgOptionText(escalationText(ev), false),
	)
	if err != nil {
		return fmt.Errorf("slack: post escalation: %w", err)
	}

	c.logger.Info(ctx, "escalation posted", "case_number", ev.CaseNumber, "channel", c.escalationChannel)
	return nil
}

func escalationText(ev *triage.EscalationEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Escalation for case %s", ev.CaseNumber)
	if flags := flagNames(ev.Flags); len(flags) > 0 {
		fmt.Fprintf(&sb, " [%s]", strings.Join(flags, ", "))
	}
	if ev.Summary != "" {
		fmt.Fprintf(&sb, "\n%s", truncate(ev.Summary, maxTextLen/2))
	}
	if ev.Reasoning != "" {
		fmt.Fprintf(&sb, "\nReason: %s", truncate(ev.Reasoning, maxTextLen/2))
	}
	return sb.String()
}

func flagNames(bi triage.BusinessIntelligence) []string {
	var out []string
	if bi.ProjectScope {
		out = append(out, "project scope")
	}
	if bi.ExecutiveVisibility {
		out = append(out, "executive visibility")
	}
	if bi.ComplianceImpact {
		out = append(out, "compliance impact")
	}
	if bi.FinancialImpact {
		out = append(out, "financial impact")
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
