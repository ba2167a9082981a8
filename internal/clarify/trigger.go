package clarify

import (
	"context"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/triage"
)

// ComplianceQuestions is the standard verification batch opened for
// compliance-flagged cases.
func ComplianceQuestions() []Question {
	return []Question{
		{
			ID:       "data_classification",
			Prompt:   "What classification applies to the data involved?",
			Type:     QuestionChoice,
			Required: true,
			Choices:  []string{"public", "internal", "confidential", "restricted"},
		},
		{
			ID:       "regulated_records",
			Prompt:   "Does this case touch regulated records (PII, PHI, financial)?",
			Type:     QuestionBoolean,
			Required: true,
		},
		{
			ID:       "incident_scope",
			Prompt:   "Describe what was accessed or affected and by whom.",
			Type:     QuestionText,
			Required: true,
			MinLen:   20,
			MaxLen:   2000,
		},
	}
}

// EscalationTrigger implements triage.Notifier. Compliance-flagged
// escalations open a clarification session before the event is passed on
// to the next notifier.
type EscalationTrigger struct {
	registry *Registry
	next     triage.Notifier
	logger   log.Logger
}

// NewEscalationTrigger wires the trigger; next may be nil.
func NewEscalationTrigger(registry *Registry, next triage.Notifier, logger log.Logger) *EscalationTrigger {
	if logger == nil {
		logger = log.Nop()
	}
	return &EscalationTrigger{registry: registry, next: next, logger: logger}
}

// Escalate opens a compliance session when the event carries the
// compliance flag, then delegates.
func (t *EscalationTrigger) Escalate(ctx context.Context, ev *triage.EscalationEvent) error {
	if ev.Flags.ComplianceImpact {
		s := t.registry.Create(ctx, ev.CaseNumber, "", ComplianceQuestions())
		t.logger.Info(ctx, "compliance clarification opened",
			"case_number", ev.CaseNumber,
			"session_id", s.ID,
		)
	}
	if t.next == nil {
		return nil
	}
	return t.next.Escalate(ctx, ev)
}
