// Package triage provides the business boundary for Caseflow's case triage
// engine. It defines the Service (idempotency, routing, caching, pipeline
// orchestration), Classifier (retrying LLM adapter), the workflow Router,
// entity extraction and reconciliation, the Store interface (persistence),
// and the domain models.
package triage
