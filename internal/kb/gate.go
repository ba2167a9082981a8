package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/triage"
)

const assessResponseTokens = 1024

// Assessor judges whether a resolved conversation contains enough
// substance to publish a knowledge article. The same assessor is used for
// the initial check and every re-check after a human reply.
type Assessor interface {
	Assess(ctx context.Context, cc *CaseContext) (*Assessment, error)
}

// LLMAssessor implements Assessor on top of an LLM provider.
type LLMAssessor struct {
	provider triage.Provider
	logger   log.Logger
}

// NewLLMAssessor returns an Assessor backed by the given provider.
func NewLLMAssessor(provider triage.Provider, logger log.Logger) *LLMAssessor {
	return &LLMAssessor{provider: provider, logger: logger.With("component", "kb-assessor")}
}

// Assess scores the conversation and lists what is still missing.
func (a *LLMAssessor) Assess(ctx context.Context, cc *CaseContext) (*Assessment, error) {
	comp, err := a.provider.Complete(ctx, assessSystemPrompt, assessUserPrompt(cc), assessResponseTokens)
	if err != nil {
		return nil, fmt.Errorf("assess conversation: %w", err)
	}

	as, err := parseAssessment(comp.Text)
	if err != nil {
		a.logger.Warn(ctx, "unparsable assessment reply", "case_number", cc.CaseNumber, "error", err.Error())
		return nil, fmt.Errorf("parse assessment: %w", err)
	}

	a.logger.Info(ctx, "conversation assessed",
		"case_number", cc.CaseNumber,
		"thread_id", cc.ThreadID,
		"decision", string(as.Decision),
		"score", as.Score,
		"missing", len(as.MissingInfo),
	)
	return as, nil
}

const assessSystemPrompt = `You are a knowledge management analyst. You judge whether a resolved support conversation contains enough detail to publish a reusable knowledge-base article.

Respond with JSON only, no prose:
{
  "decision": "high_quality" | "needs_input" | "insufficient",
  "score": 0.0-1.0,
  "missing_info": ["specific missing detail", ...]
}

Use "high_quality" when root cause and resolution steps are both clearly stated. Use "needs_input" when targeted follow-up questions could fill the gaps. Use "insufficient" when the conversation has no salvageable resolution content. List missing_info in priority order; leave it empty for high_quality.`

func assessUserPrompt(cc *CaseContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Case: %s\n\nConversation:\n", cc.CaseNumber)
	for _, m := range cc.Messages {
		fmt.Fprintf(&sb, "[%s] %s\n", m.Author, m.Text)
	}
	return sb.String()
}

// parseAssessment extracts the JSON object from the reply, tolerating
// surrounding prose.
func parseAssessment(text string) (*Assessment, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var as Assessment
	if err := json.Unmarshal([]byte(text[start:end+1]), &as); err != nil {
		return nil, fmt.Errorf("unmarshal assessment: %w", err)
	}

	switch as.Decision {
	case DecisionHighQuality, DecisionNeedsInput, DecisionInsufficient:
	default:
		return nil, fmt.Errorf("unknown decision %q", as.Decision)
	}

	if as.Score < 0 {
		as.Score = 0
	}
	if as.Score > 1 {
		as.Score = 1
	}
	return &as, nil
}
