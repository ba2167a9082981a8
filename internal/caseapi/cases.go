package caseapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/caseflow/internal/caseevent"
)

func (a *API) handleIngestCase(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}

	ev, err := caseevent.Decode(body)
	if err != nil {
		if errors.Is(err, caseevent.ErrInvalidPayload) {
			a.logger.Warn(r.Context(), "rejected invalid case payload", "error", err.Error())
			http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("caseflow.case.number", ev.CaseNumber))

	// Async path: validate, enqueue the raw body, return immediately.
	if a.queue != nil {
		if err := a.queue.Enqueue(r.Context(), body); err != nil {
			a.logger.Error(r.Context(), err, "enqueue failed", "case_number", ev.CaseNumber)
			http.Error(w, `{"error":"enqueue failed"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": ev.CaseNumber})
		return
	}

	// Sync path: run the pipeline inline within the request budget.
	resp, err := a.svc.Process(r.Context(), ev)
	if err != nil {
		a.logger.Error(r.Context(), err, "triage failed", "case_number", ev.CaseNumber)
		http.Error(w, `{"error":"triage failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *API) handleGetTriage(w http.ResponseWriter, r *http.Request) {
	caseNumber := chi.URLParam(r, "caseNumber")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("caseflow.case.number", caseNumber))

	result, ok, err := a.svc.Latest(r.Context(), caseNumber)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage result", "case_number", caseNumber)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
