package triage

import "time"

// FallbackCategory is used when the classifier returns a category outside
// the configured vocabulary.
const FallbackCategory = "Inquiry / Help"

// EntityType enumerates the kinds of technical entities discovered in a case.
type EntityType string

const (
	EntityIPAddress     EntityType = "IP_ADDRESS"
	EntitySystem        EntityType = "SYSTEM"
	EntityUser          EntityType = "USER"
	EntitySoftware      EntityType = "SOFTWARE"
	EntityErrorCode     EntityType = "ERROR_CODE"
	EntityNetworkDevice EntityType = "NETWORK_DEVICE"
)

// EntityStatus tracks an entity through reconciliation.
type EntityStatus string

const (
	EntityDiscovered EntityStatus = "discovered"
	EntityReconciled EntityStatus = "reconciled"
	EntityRejected   EntityStatus = "rejected"
)

// DiscoveredEntity is a technical entity extracted from a case.
type DiscoveredEntity struct {
	CaseNumber   string       `json:"case_number"`
	CaseSysID    string       `json:"case_sys_id"`
	Type         EntityType   `json:"entity_type"`
	Value        string       `json:"entity_value"`
	Confidence   float64      `json:"confidence"`
	Sources      []string     `json:"sources"` // "llm", "regex"
	Status       EntityStatus `json:"status"`
	CISysID      string       `json:"ci_sys_id,omitempty"`
	DiscoveredAt time.Time    `json:"discovered_at"`
}

// RecordType is the classifier's suggested record promotion target.
type RecordType string

const (
	RecordCase     RecordType = "Case"
	RecordIncident RecordType = "Incident"
	RecordProblem  RecordType = "Problem"
	RecordChange   RecordType = "Change"
)

// RecordTypeSuggestion carries the classifier's record promotion advice.
type RecordTypeSuggestion struct {
	Type            RecordType `json:"type"`
	IsMajorIncident bool       `json:"is_major_incident"`
	Reasoning       string     `json:"reasoning"`
}

// BusinessIntelligence flags high-impact business signals on a case.
type BusinessIntelligence struct {
	ProjectScope        bool `json:"project_scope"`
	ExecutiveVisibility bool `json:"executive_visibility"`
	ComplianceImpact    bool `json:"compliance_impact"`
	FinancialImpact     bool `json:"financial_impact"`
}

// Any reports whether at least one flag is set.
func (b BusinessIntelligence) Any() bool {
	return b.ProjectScope || b.ExecutiveVisibility || b.ComplianceImpact || b.FinancialImpact
}

// Classification is the validated output of a single classifier call.
type Classification struct {
	Category          string                `json:"category"`
	Subcategory       string                `json:"subcategory"`
	Confidence        float64               `json:"confidence"`
	Reasoning         string                `json:"reasoning"`
	Keywords          []string              `json:"keywords"`
	TechnicalEntities []DiscoveredEntity    `json:"technical_entities,omitempty"`
	BusinessIntel     BusinessIntelligence  `json:"business_intelligence"`
	RecordSuggestion  *RecordTypeSuggestion `json:"record_type_suggestion,omitempty"`
}

// ClassificationResult is the persisted, immutable outcome of a
// classification run. A new (case, workflow) combination produces a new
// row; rows are never updated.
type ClassificationResult struct {
	ID               string         `json:"id"`
	CaseNumber       string         `json:"case_number"`
	WorkflowID       string         `json:"workflow_id"`
	AssignmentGroup  string         `json:"assignment_group"`
	Classification   Classification `json:"classification"`
	TokensIn         int            `json:"tokens_in"`
	TokensOut        int            `json:"tokens_out"`
	Cost             float64        `json:"cost_usd"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	TicketUpdated    bool           `json:"servicenow_updated"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ConfidenceScore returns the clamped confidence of the classification.
func (r *ClassificationResult) ConfidenceScore() float64 {
	return clamp01(r.Classification.Confidence)
}

// InboundPayload is the ledger row recorded for every webhook delivery.
type InboundPayload struct {
	ID              string    `json:"id"`
	CaseNumber      string    `json:"case_number"`
	CaseSysID       string    `json:"case_sys_id"`
	AssignmentGroup string    `json:"assignment_group"`
	Category        string    `json:"category"`
	Priority        string    `json:"priority"`
	State           string    `json:"state"`
	ReceivedAt      time.Time `json:"received_at"`
	Processed       bool      `json:"processed"`
	ProcessingError string    `json:"processing_error,omitempty"`
}

// Response is what the caller (webhook or queue worker) gets back from a
// full pipeline run.
type Response struct {
	Result               *ClassificationResult `json:"result"`
	Cached               bool                  `json:"cached"`
	CacheSource          string                `json:"cache_source,omitempty"` // "idempotency" or "route"
	IncidentCreated      bool                  `json:"incident_created"`
	IncidentNumber       string                `json:"incident_number,omitempty"`
	ProblemCreated       bool                  `json:"problem_created"`
	ProblemNumber        string                `json:"problem_number,omitempty"`
	CatalogRedirected    bool                  `json:"catalog_redirected"`
	CatalogItemsProvided int                   `json:"catalog_items_provided"`
	Escalated            bool                  `json:"escalated"`
	Entities             []DiscoveredEntity    `json:"entities,omitempty"`
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
