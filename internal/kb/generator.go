package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/caseflow/internal/triage"
)

const generateResponseTokens = 4096

// Generator synthesizes a knowledge article from a resolved conversation.
type Generator interface {
	Generate(ctx context.Context, cc *CaseContext) (*Article, error)
}

// LLMGenerator implements Generator on top of an LLM provider.
type LLMGenerator struct {
	provider triage.Provider
}

// NewLLMGenerator returns a Generator backed by the given provider.
func NewLLMGenerator(provider triage.Provider) *LLMGenerator {
	return &LLMGenerator{provider: provider}
}

// Generate produces an article draft from the conversation.
func (g *LLMGenerator) Generate(ctx context.Context, cc *CaseContext) (*Article, error) {
	comp, err := g.provider.Complete(ctx, generateSystemPrompt, assessUserPrompt(cc), generateResponseTokens)
	if err != nil {
		return nil, fmt.Errorf("generate article: %w", err)
	}

	start := strings.Index(comp.Text, "{")
	end := strings.LastIndex(comp.Text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var art Article
	if err := json.Unmarshal([]byte(comp.Text[start:end+1]), &art); err != nil {
		return nil, fmt.Errorf("unmarshal article: %w", err)
	}
	if art.Title == "" || art.Body == "" {
		return nil, fmt.Errorf("article missing title or body")
	}
	return &art, nil
}

const generateSystemPrompt = `You are a technical writer. Turn the resolved support conversation into a reusable knowledge-base article.

Respond with JSON only, no prose:
{
  "title": "concise searchable title",
  "body": "article body: symptoms, root cause, resolution steps"
}`
