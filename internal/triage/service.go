package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/caseflow/internal/caseevent"
	"github.com/linnemanlabs/caseflow/internal/snow"
)

// DefaultIdempotencyWindow is how long a completed result absorbs
// redeliveries of the same case.
const DefaultIdempotencyWindow = 30 * time.Minute

// Approximate provider pricing, USD per million tokens.
const (
	costPerMTokIn  = 3.0
	costPerMTokOut = 15.0
)

// Ticketing is the subset of the ticketing-system client the pipeline
// writes through.
type Ticketing interface {
	AddWorkNote(ctx context.Context, sysID, text string, private bool) error
	CreateIncidentFromCase(ctx context.Context, req *snow.RecordRequest) (*snow.CreatedRecord, error)
	CreateProblemFromCase(ctx context.Context, req *snow.RecordRequest) (*snow.CreatedRecord, error)
	UpdateCase(ctx context.Context, sysID string, fields map[string]string) error
	GetChoiceList(ctx context.Context, table, element string) ([]string, error)
	SearchCatalogItems(ctx context.Context, query string, limit int) ([]snow.CatalogItem, error)
}

// EscalationEvent describes a high-impact business signal on a case.
type EscalationEvent struct {
	CaseNumber string
	Summary    string
	Flags      BusinessIntelligence
	Reasoning  string
}

// Notifier delivers escalation events to human operators.
type Notifier interface {
	Escalate(ctx context.Context, ev *EscalationEvent) error
}

// Options tunes pipeline behavior.
type Options struct {
	IdempotencyWindow    time.Duration
	CatalogItemLimit     int
	CatalogRedirectClose bool

	// Fallback vocabularies used when the ticketing choice lists are
	// unreachable.
	CaseCategories     []string
	IncidentCategories []string
}

// Service drives a case event through the full triage pipeline. Steps run
// strictly in sequence; later steps depend on earlier results. Safe to run
// concurrently across cases: the idempotency ledger and route cache in the
// Store are the only mutual-exclusion boundary.
type Service struct {
	store      Store
	router     *Router
	classifier *Classifier
	ticketing  Ticketing
	reconciler *Reconciler
	notifier   Notifier
	opts       Options
	hooks      Hooks
	logger     log.Logger
}

// NewService wires the triage pipeline.
func NewService(store Store, router *Router, classifier *Classifier, ticketing Ticketing, reconciler *Reconciler, notifier Notifier, opts Options, hooks Hooks, logger log.Logger) *Service {
	if opts.IdempotencyWindow <= 0 {
		opts.IdempotencyWindow = DefaultIdempotencyWindow
	}
	if opts.CatalogItemLimit <= 0 {
		opts.CatalogItemLimit = 3
	}
	return &Service{
		store:      store,
		router:     router,
		classifier: classifier,
		ticketing:  ticketing,
		reconciler: reconciler,
		notifier:   notifier,
		opts:       opts,
		hooks:      hooks,
		logger:     logger,
	}
}

// Latest returns the most recent classification result for a case.
func (s *Service) Latest(ctx context.Context, caseNumber string) (*ClassificationResult, bool, error) {
	return s.store.LatestCompleted(ctx, caseNumber, time.Time{})
}

// Process runs the pipeline for one inbound case event. Identical inputs
// produce identical results on the synchronous and queued paths. The only
// fatal failure is classification retry exhaustion; every later step
// degrades to a logged, disabled feature for this run.
func (s *Service) Process(ctx context.Context, ev *caseevent.Payload) (*Response, error) {
	start := time.Now()
	L := s.logger.With("case", ev.CaseNumber)

	payload := &InboundPayload{
		ID:              ulid.Make().String(),
		CaseNumber:      ev.CaseNumber,
		CaseSysID:       ev.CaseSysID,
		AssignmentGroup: ev.AssignmentGroup,
		Category:        ev.Category,
		Priority:        ev.Priority,
		State:           ev.State,
		ReceivedAt:      ev.ReceivedAt,
	}
	if err := s.store.RecordPayload(ctx, payload); err != nil {
		return nil, fmt.Errorf("record payload: %w", err)
	}

	// Idempotency ledger: a completed result inside the window means the
	// queue redelivered a message some worker already finished. Return the
	// prior result verbatim except for the recomputed processing time; no
	// side effects may repeat.
	since := time.Now().Add(-s.opts.IdempotencyWindow)
	if prior, ok, err := s.store.LatestCompleted(ctx, ev.CaseNumber, since); err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	} else if ok {
		L.Info(ctx, "idempotency hit, short-circuiting", "result_id", prior.ID, "window", s.opts.IdempotencyWindow)
		s.hooks.cacheHit("idempotency")
		prior.ProcessingTimeMs = time.Since(start).Milliseconds()
		_ = s.store.MarkPayload(ctx, payload.ID, "")
		return &Response{Result: prior, Cached: true, CacheSource: "idempotency"}, nil
	}

	decision := s.router.Route(RouteInput{
		AssignmentGroup: ev.AssignmentGroup,
		Category:        ev.Category,
		Subcategory:     ev.Subcategory,
		Priority:        ev.Priority,
		State:           ev.State,
		Description:     ev.Description,
	})
	L = L.With("workflow", decision.WorkflowID)

	// Route cache: compute-once per (case, workflow, assignment group).
	// A changed workflow or group never matches, which is the
	// invalidation rule.
	if prior, ok, err := s.store.LatestForRoute(ctx, ev.CaseNumber, decision.WorkflowID, ev.AssignmentGroup); err != nil {
		return nil, fmt.Errorf("route cache check: %w", err)
	} else if ok {
		L.Info(ctx, "route cache hit", "result_id", prior.ID)
		s.hooks.cacheHit("route")
		prior.ProcessingTimeMs = time.Since(start).Milliseconds()
		_ = s.store.MarkPayload(ctx, payload.ID, "")
		return &Response{Result: prior, Cached: true, CacheSource: "route"}, nil
	}

	vocab := s.vocabulary(ctx)

	cl, comp, err := s.classifier.Classify(ctx, CaseInput{
		CaseNumber:       ev.CaseNumber,
		Category:         ev.Category,
		Subcategory:      ev.Subcategory,
		Priority:         ev.Priority,
		ShortDescription: ev.ShortDescription,
		Description:      ev.Description,
	}, vocab)
	if err != nil {
		// Fatal: mark the ledger row failed and propagate so the queue
		// retries the whole event.
		if merr := s.store.MarkPayload(ctx, payload.ID, err.Error()); merr != nil {
			L.Error(ctx, merr, "failed to mark payload failed")
		}
		s.hooks.outcome("failed", time.Since(start).Seconds())
		return nil, err
	}
	s.hooks.classify(comp.InputTokens, comp.OutputTokens)

	resp := &Response{}

	// Entity extraction and reconciliation. Failures degrade, never abort.
	llmEnts := cl.TechnicalEntities
	for i := range llmEnts {
		llmEnts[i].CaseNumber = ev.CaseNumber
		llmEnts[i].CaseSysID = ev.CaseSysID
		llmEnts[i].Sources = []string{SourceLLM}
	}
	regexEnts := ExtractEntities(ev.CaseNumber, ev.CaseSysID, ev.ShortDescription+"\n"+ev.Description)
	entities := MergeEntities(llmEnts, regexEnts)
	if s.reconciler != nil {
		s.reconciler.Reconcile(ctx, entities)
	}
	sortEntities(entities)
	if err := s.store.PutEntities(ctx, ev.CaseNumber, entities); err != nil {
		L.Error(ctx, err, "failed to persist entities")
	}
	resp.Entities = entities
	cl.TechnicalEntities = entities

	// Record-type decision and auto-creation.
	s.applyRecordSuggestion(ctx, L, ev, cl, vocab, resp)

	// Catalog redirect, only when nothing was promoted.
	if !resp.IncidentCreated && !resp.ProblemCreated {
		s.applyCatalogRedirect(ctx, L, ev, cl, resp)
	}

	// Escalation runs regardless of earlier step outcomes.
	s.applyEscalation(ctx, L, ev, cl, resp)

	result := &ClassificationResult{
		ID:               ulid.Make().String(),
		CaseNumber:       ev.CaseNumber,
		WorkflowID:       decision.WorkflowID,
		AssignmentGroup:  ev.AssignmentGroup,
		Classification:   *cl,
		TokensIn:         comp.InputTokens,
		TokensOut:        comp.OutputTokens,
		Cost:             tokenCost(comp.InputTokens, comp.OutputTokens),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		TicketUpdated:    resp.IncidentCreated || resp.ProblemCreated || resp.CatalogRedirected,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.PutResult(ctx, result); err != nil {
		return nil, fmt.Errorf("persist result: %w", err)
	}
	if err := s.store.MarkPayload(ctx, payload.ID, ""); err != nil {
		L.Error(ctx, err, "failed to mark payload processed")
	}

	resp.Result = result
	s.hooks.outcome("complete", time.Since(start).Seconds())

	L.Info(ctx, "triage complete",
		"category", cl.Category,
		"confidence", result.ConfidenceScore(),
		"incident_created", resp.IncidentCreated,
		"catalog_redirected", resp.CatalogRedirected,
		"escalated", resp.Escalated,
		"duration_ms", result.ProcessingTimeMs,
	)
	return resp, nil
}

// vocabulary loads the active category sets from the ticketing system,
// degrading to the configured fallbacks when the choice lists are
// unreachable. Re-read per call: the vocabulary can change between calls.
func (s *Service) vocabulary(ctx context.Context) Vocabulary {
	vocab := Vocabulary{
		CaseCategories:     s.opts.CaseCategories,
		IncidentCategories: s.opts.IncidentCategories,
	}
	if s.ticketing == nil {
		return vocab
	}
	if cats, err := s.ticketing.GetChoiceList(ctx, "sn_customerservice_case", "category"); err == nil && len(cats) > 0 {
		vocab.CaseCategories = cats
	}
	if cats, err := s.ticketing.GetChoiceList(ctx, "incident", "category"); err == nil && len(cats) > 0 {
		vocab.IncidentCategories = cats
	}
	return vocab
}

func tokenCost(in, out int) float64 {
	return float64(in)/1e6*costPerMTokIn + float64(out)/1e6*costPerMTokOut
}
