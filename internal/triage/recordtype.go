package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/caseevent"
	"github.com/linnemanlabs/caseflow/internal/snow"
)

// applyRecordSuggestion acts on the classifier's record-type suggestion,
// creating an incident or problem in the ticketing system. Creation
// failure is non-fatal: the pipeline continues and the response reports
// the record as not created.
func (s *Service) applyRecordSuggestion(ctx context.Context, L log.Logger, ev *caseevent.Payload, cl *Classification, vocab Vocabulary, resp *Response) {
	sug := cl.RecordSuggestion
	if sug == nil || (sug.Type != RecordIncident && sug.Type != RecordProblem) {
		return
	}
	if s.ticketing == nil {
		return
	}

	// Prefer the classified category when the incident vocabulary knows
	// it; otherwise fall back to the case's own category/subcategory.
	category, subcategory := cl.Category, cl.Subcategory
	if len(vocab.IncidentCategories) > 0 && !containsFold(vocab.IncidentCategories, category) {
		category, subcategory = ev.Category, ev.Subcategory
	}

	req := &snow.RecordRequest{
		CaseSysID:        ev.CaseSysID,
		CaseNumber:       ev.CaseNumber,
		ShortDescription: ev.ShortDescription,
		Description:      ev.Description,
		Category:         category,
		Subcategory:      subcategory,
		IsMajor:          sug.IsMajorIncident,
	}

	var (
		rec  *snow.CreatedRecord
		err  error
		kind string
	)
	switch sug.Type {
	case RecordIncident:
		kind = "incident"
		rec, err = s.ticketing.CreateIncidentFromCase(ctx, req)
	case RecordProblem:
		kind = "problem"
		rec, err = s.ticketing.CreateProblemFromCase(ctx, req)
	}

	if err != nil {
		L.Error(ctx, err, "record auto-creation failed", "record_type", kind)
		s.hooks.recordCreated(kind, false)
		return
	}

	switch sug.Type {
	case RecordIncident:
		resp.IncidentCreated = true
		resp.IncidentNumber = rec.Number
	case RecordProblem:
		resp.ProblemCreated = true
		resp.ProblemNumber = rec.Number
	}
	s.hooks.recordCreated(kind, true)

	note := fmt.Sprintf("%s CREATED: %s\nSys ID: %s\nURL: %s\nReason: %s",
		strings.ToUpper(kind), rec.Number, rec.SysID, rec.URL, sug.Reasoning)
	if err := s.ticketing.AddWorkNote(ctx, ev.CaseSysID, note, true); err != nil {
		// The record exists; a missing work note is a cosmetic loss.
		L.Error(ctx, err, "failed to append creation work note", "record", rec.Number)
	}

	L.Info(ctx, "record auto-created", "record_type", kind, "number", rec.Number, "major", sug.IsMajorIncident)
}
