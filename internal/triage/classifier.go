package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultMaxRetries bounds classification attempts on transport failure.
	DefaultMaxRetries = 3

	classifyResponseTokens = 2048
)

// Provider is the interface for any LLM backend used by the classifier.
type Provider interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (*Completion, error)
}

// Completion is the raw output of a provider call.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Vocabulary is the category set injected into each classification call.
// It is re-read per call because routing can swap vocabularies between
// calls: one set for the originating case, one for a possible auto-created
// incident.
type Vocabulary struct {
	CaseCategories     []string
	IncidentCategories []string
}

// CaseInput is the case material handed to the classifier.
type CaseInput struct {
	CaseNumber       string
	Category         string
	Subcategory      string
	Priority         string
	ShortDescription string
	Description      string
}

// Classifier wraps the external classification call with bounded retries
// and exponential backoff. It is stateless aside from the injected
// vocabulary and never retries a structurally valid result.
type Classifier struct {
	provider   Provider
	maxRetries int
	sleep      func(context.Context, time.Duration) error
	logger     log.Logger
}

// NewClassifier creates a classifier adapter over the given provider.
func NewClassifier(provider Provider, maxRetries int, logger log.Logger) *Classifier {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Classifier{
		provider:   provider,
		maxRetries: maxRetries,
		sleep:      sleepCtx,
		logger:     logger,
	}
}

// Classify runs the external classification call, parsing and validating
// the reply into a closed Classification. Transport failures are retried
// up to maxRetries with 2^attempt seconds backoff; exhausting retries
// returns the last error for the orchestrator to record and propagate.
func (c *Classifier) Classify(ctx context.Context, in CaseInput, vocab Vocabulary) (*Classification, *Completion, error) {
	system := buildClassifySystemPrompt(vocab)
	user := buildClassifyUserPrompt(in)

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		comp, err := c.provider.Complete(ctx, system, user, classifyResponseTokens)
		if err != nil {
			lastErr = err
			c.logger.Warn(ctx, "classification call failed",
				"case", in.CaseNumber,
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"error", err,
			)
			if attempt < c.maxRetries {
				backoff := time.Duration(1<<attempt) * time.Second
				if err := c.sleep(ctx, backoff); err != nil {
					return nil, nil, err
				}
			}
			continue
		}

		cl, perr := parseClassification(comp.Text)
		if perr != nil {
			// A reply that does not parse is a transport-level failure:
			// the model produced garbage, not a low-confidence answer.
			lastErr = perr
			c.logger.Warn(ctx, "classification reply unparsable",
				"case", in.CaseNumber, "attempt", attempt, "error", perr)
			continue
		}

		normalizeClassification(cl, vocab)
		return cl, comp, nil
	}

	return nil, nil, fmt.Errorf("classification failed after %d attempts: %w", c.maxRetries, lastErr)
}

// normalizeClassification clamps confidence into [0,1] and forces the
// category into the active vocabulary, falling back when it is not.
func normalizeClassification(cl *Classification, vocab Vocabulary) {
	cl.Confidence = clamp01(cl.Confidence)
	for i := range cl.TechnicalEntities {
		cl.TechnicalEntities[i].Confidence = clamp01(cl.TechnicalEntities[i].Confidence)
	}
	if len(vocab.CaseCategories) > 0 && !containsFold(vocab.CaseCategories, cl.Category) {
		cl.Category = FallbackCategory
	}
}

// parseClassification extracts the JSON object from the model reply and
// decodes it into the closed Classification struct. Models occasionally
// wrap JSON in prose or code fences.
func parseClassification(text string) (*Classification, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in classification reply")
	}

	var cl Classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &cl); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	if cl.Category == "" {
		return nil, fmt.Errorf("classification missing category")
	}
	return &cl, nil
}

func buildClassifySystemPrompt(vocab Vocabulary) string {
	var b strings.Builder
	b.WriteString(`You are a support case triage classifier. Read the case and reply with a single JSON object:
{
  "category": "...",
  "subcategory": "...",
  "confidence": 0.0-1.0,
  "reasoning": "...",
  "keywords": ["..."],
  "technical_entities": [{"entity_type":"IP_ADDRESS|SYSTEM|USER|SOFTWARE|ERROR_CODE|NETWORK_DEVICE","entity_value":"...","confidence":0.0-1.0}],
  "business_intelligence": {"project_scope":false,"executive_visibility":false,"compliance_impact":false,"financial_impact":false},
  "record_type_suggestion": {"type":"Case|Incident|Problem|Change","is_major_incident":false,"reasoning":"..."}
}
Reply with JSON only, no prose.`)
	if len(vocab.CaseCategories) > 0 {
		b.WriteString("\n\nCase categories (choose one): ")
		b.WriteString(strings.Join(vocab.CaseCategories, ", "))
	}
	if len(vocab.IncidentCategories) > 0 {
		b.WriteString("\nIncident categories (for record_type_suggestion of type Incident): ")
		b.WriteString(strings.Join(vocab.IncidentCategories, ", "))
	}
	return b.String()
}

func buildClassifyUserPrompt(in CaseInput) string {
	return fmt.Sprintf(`Case: %s
Current category: %s / %s
Priority: %s

%s

%s`, in.CaseNumber, in.Category, in.Subcategory, in.Priority, in.ShortDescription, in.Description)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
