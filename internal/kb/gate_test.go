package kb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/triage"
)

type fakeProvider struct {
	text string
	err  error
}

func (p *fakeProvider) Complete(_ context.Context, _, _ string, _ int) (*triage.Completion, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &triage.Completion{Text: p.text, InputTokens: 100, OutputTokens: 50}, nil
}

func TestLLMAssessor(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{text: `Here is my verdict:
{"decision":"needs_input","score":0.45,"missing_info":["root cause","affected systems"]}`}
	a := NewLLMAssessor(provider, log.Nop())

	cc := &CaseContext{CaseNumber: "CS200", Messages: []ThreadMessage{{Author: "user", Text: "fixed", At: time.Now()}}}
	as, err := a.Assess(context.Background(), cc)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if as.Decision != DecisionNeedsInput {
		t.Errorf("decision = %s, want needs_input", as.Decision)
	}
	if as.Score != 0.45 {
		t.Errorf("score = %v, want 0.45", as.Score)
	}
	if len(as.MissingInfo) != 2 || as.MissingInfo[0] != "root cause" {
		t.Errorf("missing info = %v", as.MissingInfo)
	}
}

func TestLLMAssessor_ProviderError(t *testing.T) {
	t.Parallel()

	a := NewLLMAssessor(&fakeProvider{err: errors.New("overloaded")}, log.Nop())
	if _, err := a.Assess(context.Background(), &CaseContext{CaseNumber: "CS201"}); err == nil {
		t.Fatal("expected error from failing provider")
	}
}

func TestParseAssessment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Decision
		wantErr bool
	}{
		{"bare json", `{"decision":"high_quality","score":0.9}`, DecisionHighQuality, false},
		{"score clamped high", `{"decision":"high_quality","score":1.7}`, DecisionHighQuality, false},
		{"unknown decision", `{"decision":"maybe","score":0.5}`, "", true},
		{"no json", "I cannot assess this.", "", true},
		{"malformed json", `{"decision":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			as, err := parseAssessment(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAssessment: %v", err)
			}
			if as.Decision != tt.want {
				t.Errorf("decision = %s, want %s", as.Decision, tt.want)
			}
			if as.Score < 0 || as.Score > 1 {
				t.Errorf("score %v outside [0,1]", as.Score)
			}
		})
	}
}
