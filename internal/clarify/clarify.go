// Package clarify implements bounded clarification sessions: typed
// question batches sent to a case contact when a compliance or
// account-verification gate flags missing information.
package clarify

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/triage"
)

// DefaultTTL is how long a session stays answerable.
const DefaultTTL = 48 * time.Hour

// QuestionType constrains how an answer is validated.
type QuestionType string

const (
	QuestionChoice  QuestionType = "choice"
	QuestionText    QuestionType = "text"
	QuestionBoolean QuestionType = "boolean"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
)

// Question is a single typed prompt in a session.
type Question struct {
	ID       string       `json:"id"`
	Prompt   string       `json:"prompt"`
	Type     QuestionType `json:"type"`
	Required bool         `json:"required"`
	Choices  []string     `json:"choices,omitempty"`
	Pattern  string       `json:"pattern,omitempty"`
	MinLen   int          `json:"min_len,omitempty"`
	MaxLen   int          `json:"max_len,omitempty"`
}

// Session is one clarification exchange for a case.
type Session struct {
	ID         string            `json:"id"`
	CaseNumber string            `json:"case_number"`
	CaseSysID  string            `json:"case_sys_id"`
	Questions  []Question        `json:"questions"`
	Responses  map[string]string `json:"responses,omitempty"`
	Status     Status            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// ValidateResponses checks a full answer batch against the questions.
// Any failure rejects the whole batch; partial acceptance is not
// permitted. Returned errors are human-readable, one per failing
// question.
func ValidateResponses(questions []Question, responses map[string]string) (bool, []string) {
	var errs []string
	for _, q := range questions {
		answer, answered := responses[q.ID]
		if !answered || answer == "" {
			if q.Required {
				errs = append(errs, fmt.Sprintf("question %q (%s) requires an answer", q.ID, q.Prompt))
			}
			continue
		}
		if msg := validateAnswer(q, answer); msg != "" {
			errs = append(errs, msg)
		}
	}
	return len(errs) == 0, errs
}

func validateAnswer(q Question, answer string) string {
	switch q.Type {
	case QuestionChoice:
		for _, c := range q.Choices {
			if answer == c {
				return ""
			}
		}
		return fmt.Sprintf("question %q: %q is not one of the allowed choices %v", q.ID, answer, q.Choices)

	case QuestionBoolean:
		switch answer {
		case "true", "false", "yes", "no":
			return ""
		}
		return fmt.Sprintf("question %q: %q is not a yes/no answer", q.ID, answer)

	case QuestionText:
		if q.MinLen > 0 && len(answer) < q.MinLen {
			return fmt.Sprintf("question %q: answer shorter than %d characters", q.ID, q.MinLen)
		}
		if q.MaxLen > 0 && len(answer) > q.MaxLen {
			return fmt.Sprintf("question %q: answer longer than %d characters", q.ID, q.MaxLen)
		}
		if q.Pattern != "" {
			re, err := regexp.Compile(q.Pattern)
			if err != nil {
				return fmt.Sprintf("question %q: invalid validation pattern", q.ID)
			}
			if !re.MatchString(answer) {
				return fmt.Sprintf("question %q: answer does not match required format", q.ID)
			}
		}
		return ""
	}
	return fmt.Sprintf("question %q: unknown question type %q", q.ID, q.Type)
}

// Registry owns clarification sessions in memory; sessions disappear on
// completion or expiry.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl      time.Duration
	notifier triage.Notifier
	logger   log.Logger
	now      func() time.Time
}

// NewRegistry wires a session registry. notifier may be nil, in which
// case expiry escalations are only logged.
func NewRegistry(ttl time.Duration, notifier triage.Notifier, logger log.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		notifier: notifier,
		logger:   logger.With("component", "clarify"),
		now:      time.Now,
	}
}

// Create opens a new pending session for the case.
func (r *Registry) Create(ctx context.Context, caseNumber, caseSysID string, questions []Question) *Session {
	now := r.now()
	s := &Session{
		ID:         ulid.Make().String(),
		CaseNumber: caseNumber,
		CaseSysID:  caseSysID,
		Questions:  questions,
		Responses:  make(map[string]string),
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(r.ttl),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Info(ctx, "clarification session created",
		"session_id", s.ID,
		"case_number", caseNumber,
		"questions", len(questions),
	)
	return s
}

// Get returns a copy of the session, or false if unknown or already
// terminal. A session past its deadline expires here rather than waiting
// for the sweep.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	if r.now().After(s.ExpiresAt) {
		s.Status = StatusExpired
		expired := copySession(s)
		delete(r.sessions, id)
		r.mu.Unlock()
		r.escalateExpired(context.Background(), expired)
		return nil, false
	}
	out := copySession(s)
	r.mu.Unlock()
	return out, true
}

// SubmitResponses validates and applies a full answer batch. Invalid
// batches leave the session untouched apart from the pending to
// in_progress transition. A valid batch completes and removes the
// session. A batch arriving after the deadline expires the session
// instead of completing it.
func (r *Registry) SubmitResponses(ctx context.Context, id string, responses map[string]string) (*Session, bool, []string, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, false, nil, fmt.Errorf("session %s not found", id)
	}
	if r.now().After(s.ExpiresAt) {
		s.Status = StatusExpired
		expired := copySession(s)
		delete(r.sessions, id)
		r.mu.Unlock()
		r.escalateExpired(ctx, expired)
		return expired, false, []string{"session has expired"}, nil
	}
	if s.Status == StatusPending {
		s.Status = StatusInProgress
	}
	questions := s.Questions
	r.mu.Unlock()

	valid, errs := ValidateResponses(questions, responses)
	if !valid {
		r.logger.Info(ctx, "clarification batch rejected",
			"session_id", id,
			"case_number", s.CaseNumber,
			"errors", len(errs),
		)
		return copySession(s), false, errs, nil
	}

	r.mu.Lock()
	s.Responses = responses
	s.Status = StatusCompleted
	done := copySession(s)
	delete(r.sessions, id)
	r.mu.Unlock()

	r.logger.Info(ctx, "clarification session completed", "session_id", id, "case_number", s.CaseNumber)
	return done, true, nil, nil
}

// ExpireDue transitions sessions past their deadline to expired, emits an
// escalation naming the unanswered required questions, and removes them.
// Returns how many sessions expired.
func (r *Registry) ExpireDue(ctx context.Context) int {
	now := r.now()

	var due []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if now.After(s.ExpiresAt) {
			s.Status = StatusExpired
			due = append(due, copySession(s))
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range due {
		r.escalateExpired(ctx, s)
	}
	return len(due)
}

// escalateExpired logs and escalates one expired session. Caller must not
// hold the lock.
func (r *Registry) escalateExpired(ctx context.Context, s *Session) {
	unanswered := unansweredRequired(s)
	r.logger.Warn(ctx, "clarification session expired",
		"session_id", s.ID,
		"case_number", s.CaseNumber,
		"unanswered_required", unanswered,
	)
	if r.notifier == nil {
		return
	}
	ev := &triage.EscalationEvent{
		CaseNumber: s.CaseNumber,
		Summary:    fmt.Sprintf("Clarification session expired with unanswered required questions: %v", unanswered),
		Reasoning:  "compliance clarification was not completed before the deadline",
	}
	if err := r.notifier.Escalate(ctx, ev); err != nil {
		r.logger.Error(ctx, err, "expiry escalation failed", "session_id", s.ID)
	}
}

func unansweredRequired(s *Session) []string {
	var out []string
	for _, q := range s.Questions {
		if !q.Required {
			continue
		}
		if a, ok := s.Responses[q.ID]; !ok || a == "" {
			out = append(out, q.ID)
		}
	}
	return out
}

func copySession(s *Session) *Session {
	out := *s
	out.Questions = append([]Question(nil), s.Questions...)
	out.Responses = make(map[string]string, len(s.Responses))
	for k, v := range s.Responses {
		out.Responses[k] = v
	}
	return &out
}
