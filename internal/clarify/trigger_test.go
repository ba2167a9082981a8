package clarify

import (
	"context"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/triage"
)

func TestEscalationTrigger_ComplianceOpensSession(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0, nil, log.Nop())
	next := &captureNotifier{}
	trig := NewEscalationTrigger(r, next, log.Nop())

	err := trig.Escalate(context.Background(), &triage.EscalationEvent{
		CaseNumber: "CS0003001",
		Summary:    "possible data exposure",
		Flags:      triage.BusinessIntelligence{ComplianceImpact: true},
	})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	if len(next.events) != 1 {
		t.Fatalf("delegated events = %d, want 1", len(next.events))
	}

	r.mu.Lock()
	open := len(r.sessions)
	var sess *Session
	for _, s := range r.sessions {
		sess = s
	}
	r.mu.Unlock()
	if open != 1 {
		t.Fatalf("open sessions = %d, want 1", open)
	}
	if sess.CaseNumber != "CS0003001" || sess.Status != StatusPending {
		t.Errorf("session = %+v, want pending for CS0003001", sess)
	}
	if len(sess.Questions) != len(ComplianceQuestions()) {
		t.Errorf("questions = %d, want compliance batch", len(sess.Questions))
	}
}

func TestEscalationTrigger_NonComplianceDelegatesOnly(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0, nil, log.Nop())
	next := &captureNotifier{}
	trig := NewEscalationTrigger(r, next, log.Nop())

	err := trig.Escalate(context.Background(), &triage.EscalationEvent{
		CaseNumber: "CS0003002",
		Flags:      triage.BusinessIntelligence{ExecutiveVisibility: true},
	})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if len(next.events) != 1 {
		t.Errorf("delegated events = %d, want 1", len(next.events))
	}

	r.mu.Lock()
	open := len(r.sessions)
	r.mu.Unlock()
	if open != 0 {
		t.Errorf("open sessions = %d, want 0", open)
	}
}

func TestEscalationTrigger_NilNext(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0, nil, log.Nop())
	trig := NewEscalationTrigger(r, nil, log.Nop())

	err := trig.Escalate(context.Background(), &triage.EscalationEvent{
		CaseNumber: "CS0003003",
		Flags:      triage.BusinessIntelligence{ComplianceImpact: true},
	})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
}
