package slack

import (
	"context"
	"errors"
	"strings"
	"testing"

	slackapi "github.com/slack-go/slack"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/triage"
)

type call struct {
	channel   string
	timestamp string
	options   int
}

type fakeAPI struct {
	posts   []call
	updates []call
	err     error
}

func (f *fakeAPI) PostMessageContext(_ context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	f.posts = append(f.posts, call{channel: channelID, options: len(options)})
	return channelID, "1700000000.000100", nil
}

func (f *fakeAPI) UpdateMessageContext(_ context.Context, channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error) {
	if f.err != nil {
		return "", "", "", f.err
	}
	f.updates = append(f.updates, call{channel: channelID, timestamp: timestamp, options: len(options)})
	return channelID, timestamp, "", nil
}

func newTestClient(f *fakeAPI) *Client {
	return &Client{api: f, escalationChannel: "C-ESC", logger: log.Nop()}
}

func TestPostMessage(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{}
	c := newTestClient(f)

	ts, err := c.PostMessage(context.Background(), "C01", "hello")
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if ts != "1700000000.000100" {
		t.Errorf("timestamp = %q", ts)
	}
	if len(f.posts) != 1 || f.posts[0].channel != "C01" {
		t.Errorf("posts = %+v", f.posts)
	}
}

func TestPostToThread(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{}
	c := newTestClient(f)

	if err := c.PostToThread(context.Background(), "C01", "1700000000.000100", "reply"); err != nil {
		t.Fatalf("PostToThread: %v", err)
	}
	// Text option plus thread-ts option.
	if len(f.posts) != 1 || f.posts[0].options != 2 {
		t.Errorf("posts = %+v, want one call with two options", f.posts)
	}
}

func TestUpdateMessage(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{}
	c := newTestClient(f)

	if err := c.UpdateMessage(context.Background(), "C01", "1700000000.000100", "edited"); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	if len(f.updates) != 1 || f.updates[0].timestamp != "1700000000.000100" {
		t.Errorf("updates = %+v", f.updates)
	}
}

func TestEscalate(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{}
	c := newTestClient(f)

	err := c.Escalate(context.Background(), &triage.EscalationEvent{
		CaseNumber: "CS500",
		Summary:    "VIP outage",
		Flags:      triage.BusinessIntelligence{ExecutiveVisibility: true, FinancialImpact: true},
	})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if len(f.posts) != 1 || f.posts[0].channel != "C-ESC" {
		t.Errorf("posts = %+v, want escalation channel", f.posts)
	}
}

func TestEscalate_NoChannelConfigured(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{}
	c := &Client{api: f, logger: log.Nop()}

	if err := c.Escalate(context.Background(), &triage.EscalationEvent{CaseNumber: "CS501"}); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if len(f.posts) != 0 {
		t.Errorf("posts = %+v, want none without a channel", f.posts)
	}
}

func TestEscalate_APIError(t *testing.T) {
	t.Parallel()

	c := newTestClient(&fakeAPI{err: errors.New("rate_limited")})
	if err := c.Escalate(context.Background(), &triage.EscalationEvent{CaseNumber: "CS502"}); err == nil {
		t.Fatal("expected error from failing API")
	}
}

func TestEscalationText(t *testing.T) {
	t.Parallel()

	text := escalationText(&triage.EscalationEvent{
		CaseNumber: "CS503",
		Summary:    "compliance review needed",
		Reasoning:  "classifier flagged audit language",
		Flags:      triage.BusinessIntelligence{ComplianceImpact: true},
	})

	for _, want := range []string{"CS503", "compliance impact", "compliance review needed", "Reason:"} {
		if !strings.Contains(text, want) {
			t.Errorf("escalation text %q missing %q", text, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", maxTextLen+100)
	got := truncate(long, maxTextLen)
	if len(got) != maxTextLen {
		t.Errorf("len = %d, want %d", len(got), maxTextLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated text missing ellipsis")
	}
}
