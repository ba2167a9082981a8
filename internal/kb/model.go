// Package kb implements the knowledge-article quality gate and the
// interactive gathering state machine that runs in case threads after a
// resolution is detected.
package kb

import "time"

// State is the lifecycle state of a generation record.
type State string

const (
	StateGathering       State = "GATHERING"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateGenerating      State = "GENERATING"
	StateAbandoned       State = "ABANDONED"
	StateCompleted       State = "COMPLETED"
)

// GenState is the per (case, thread) generation record. Exactly one active
// record exists per pair; terminal transitions remove it.
type GenState struct {
	CaseNumber      string    `json:"case_number"`
	ChannelID       string    `json:"channel_id"`
	ThreadID        string    `json:"thread_id"`
	State           State     `json:"state"`
	AttemptCount    int       `json:"attempt_count"`
	AssessmentScore float64   `json:"assessment_score"`
	MissingInfo     []string  `json:"missing_info,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Decision is the bounded outcome of a quality assessment.
type Decision string

const (
	DecisionHighQuality  Decision = "high_quality"
	DecisionNeedsInput   Decision = "needs_input"
	DecisionInsufficient Decision = "insufficient"
)

// Assessment is the quality gate's verdict on a resolved conversation.
type Assessment struct {
	Decision    Decision `json:"decision"`
	Score       float64  `json:"score"`
	MissingInfo []string `json:"missing_info,omitempty"`
}

// Article is a generated knowledge-base draft.
type Article struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}
