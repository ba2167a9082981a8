// Package caseapi exposes the HTTP surface: the case webhook, triage
// result lookup, conversation signals for the KB machine, and
// clarification responses.
package caseapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/caseflow/internal/authmw"
	"github.com/linnemanlabs/caseflow/internal/caseevent"
	"github.com/linnemanlabs/caseflow/internal/clarify"
	"github.com/linnemanlabs/caseflow/internal/kb"
	"github.com/linnemanlabs/caseflow/internal/triage"
)

// TriageService defines the pipeline operations caseapi needs.
type TriageService interface {
	Process(ctx context.Context, ev *caseevent.Payload) (*triage.Response, error)
	Latest(ctx context.Context, caseNumber string) (*triage.ClassificationResult, bool, error)
}

// Enqueuer hands a raw webhook body to the async path. Nil means the
// pipeline runs inline with the request.
type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte) error
}

// KBMachine is the slice of the KB state machine driven over HTTP.
type KBMachine interface {
	OnResolution(ctx context.Context, caseNumber, channelID, threadID string) error
	OnReply(ctx context.Context, caseNumber, channelID, threadID, author, text string) error
	Get(caseNumber, threadID string) (*kb.GenState, bool)
}

// Clarifications accepts clarification answer batches.
type Clarifications interface {
	SubmitResponses(ctx context.Context, id string, responses map[string]string) (*clarify.Session, bool, []string, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	svc     TriageService
	queue   Enqueuer
	machine KBMachine
	clarify Clarifications
	token   string
}

// New creates a new API handler. queue, machine, and clarifications may
// be nil; the corresponding routes then run inline or return 404.
func New(logger log.Logger, svc TriageService, queue Enqueuer, machine KBMachine, clarifications Clarifications, token string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger:  logger,
		svc:     svc,
		queue:   queue,
		machine: machine,
		clarify: clarifications,
		token:   token,
	}
}

// RegisterRoutes attaches API endpoints to the router. A non-empty token
// puts everything under bearer auth.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if a.token != "" {
			r.Use(authmw.BearerToken(a.token))
		}
		r.Post("/cases", a.handleIngestCase)
		r.Get("/triage/{caseNumber}", a.handleGetTriage)
		r.Post("/conversations/{caseNumber}/resolved", a.handleResolved)
		r.Post("/conversations/{caseNumber}/replies", a.handleReply)
		r.Get("/kb/{caseNumber}/{threadID}", a.handleGetKBState)
		r.Post("/clarifications/{sessionID}/responses", a.handleClarifyResponses)
	})
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
