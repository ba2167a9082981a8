package triage

import (
	"context"
	"time"
)

// Store is the persistence interface for the triage engine. The
// idempotency and route-cache lookups must be atomic reads against
// durable storage: multiple worker processes run this pipeline
// concurrently and coordinate only through these checks.
type Store interface {
	// RecordPayload appends a ledger row for an inbound delivery.
	RecordPayload(ctx context.Context, p *InboundPayload) error

	// MarkPayload flips the ledger row to processed, or failed with the
	// given error message.
	MarkPayload(ctx context.Context, id string, procErr string) error

	// LatestCompleted returns the most recent classification result for
	// the case created at or after since. Backs the idempotency ledger.
	LatestCompleted(ctx context.Context, caseNumber string, since time.Time) (*ClassificationResult, bool, error)

	// LatestForRoute returns the most recent classification result for the
	// exact (case, workflow, assignment group) triple, regardless of age.
	// Backs the compute-once-per-route cache: a changed workflow or group
	// simply never matches.
	LatestForRoute(ctx context.Context, caseNumber, workflowID, assignmentGroup string) (*ClassificationResult, bool, error)

	// PutResult appends an immutable classification result.
	PutResult(ctx context.Context, r *ClassificationResult) error

	// PutEntities stores the merged entities discovered for a case,
	// replacing any prior set for that case.
	PutEntities(ctx context.Context, caseNumber string, ents []DiscoveredEntity) error

	// EntitiesForCase returns the stored entities for a case.
	EntitiesForCase(ctx context.Context, caseNumber string) ([]DiscoveredEntity, error)
}
