// Package memstore provides an in-memory implementation of triage.Store.
// Suitable for dev and tests; the ledger/cache checks are atomic only
// within one process.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/caseflow/internal/triage"
)

// Store holds triage state in memory.
type Store struct {
	mu       sync.RWMutex
	payloads map[string]*triage.InboundPayload
	results  []*triage.ClassificationResult // append-only, newest last
	entities map[string][]triage.DiscoveredEntity
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		payloads: make(map[string]*triage.InboundPayload),
		entities: make(map[string][]triage.DiscoveredEntity),
	}
}

// RecordPayload appends a ledger row.
func (s *Store) RecordPayload(_ context.Context, p *triage.InboundPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payloads[p.ID] = &cp
	return nil
}

// MarkPayload marks a ledger row processed or failed.
func (s *Store) MarkPayload(_ context.Context, id string, procErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payloads[id]
	if !ok {
		return nil
	}
	p.Processed = procErr == ""
	p.ProcessingError = procErr
	return nil
}

// LatestCompleted returns the newest result for the case created at or
// after since. Returns a copy.
func (s *Store) LatestCompleted(_ context.Context, caseNumber string, since time.Time) (*triage.ClassificationResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.results) - 1; i >= 0; i-- {
		r := s.results[i]
		if r.CaseNumber == caseNumber && !r.CreatedAt.Before(since) {
			cp := *r
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// LatestForRoute returns the newest result matching the exact route triple.
func (s *Store) LatestForRoute(_ context.Context, caseNumber, workflowID, assignmentGroup string) (*triage.ClassificationResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.results) - 1; i >= 0; i-- {
		r := s.results[i]
		if r.CaseNumber == caseNumber && r.WorkflowID == workflowID && r.AssignmentGroup == assignmentGroup {
			cp := *r
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// PutResult appends an immutable result copy.
func (s *Store) PutResult(_ context.Context, r *triage.ClassificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results = append(s.results, &cp)
	return nil
}

// PutEntities replaces the stored entity set for a case.
func (s *Store) PutEntities(_ context.Context, caseNumber string, ents []triage.DiscoveredEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]triage.DiscoveredEntity, len(ents))
	copy(cp, ents)
	s.entities[caseNumber] = cp
	return nil
}

// EntitiesForCase returns a copy of the stored entities for a case.
func (s *Store) EntitiesForCase(_ context.Context, caseNumber string) ([]triage.DiscoveredEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ents := s.entities[caseNumber]
	cp := make([]triage.DiscoveredEntity, len(ents))
	copy(cp, ents)
	return cp, nil
}
