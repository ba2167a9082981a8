package caseapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type conversationSignal struct {
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id"`
	Author    string `json:"author,omitempty"`
	Text      string `json:"text,omitempty"`
}

func (a *API) handleResolved(w http.ResponseWriter, r *http.Request) {
	if a.machine == nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	caseNumber := chi.URLParam(r, "caseNumber")

	var sig conversationSignal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil || sig.ThreadID == "" {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	if err := a.machine.OnResolution(r.Context(), caseNumber, sig.ChannelID, sig.ThreadID); err != nil {
		a.logger.Error(r.Context(), err, "resolution handling failed", "case_number", caseNumber)
		http.Error(w, `{"error":"resolution handling failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, []byte(`{"status":"accepted"}`))
}

func (a *API) handleReply(w http.ResponseWriter, r *http.Request) {
	if a.machine == nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	caseNumber := chi.URLParam(r, "caseNumber")

	var sig conversationSignal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil || sig.ThreadID == "" || sig.Text == "" {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	if err := a.machine.OnReply(r.Context(), caseNumber, sig.ChannelID, sig.ThreadID, sig.Author, sig.Text); err != nil {
		a.logger.Error(r.Context(), err, "reply handling failed", "case_number", caseNumber)
		http.Error(w, `{"error":"reply handling failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, []byte(`{"status":"accepted"}`))
}

func (a *API) handleGetKBState(w http.ResponseWriter, r *http.Request) {
	if a.machine == nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	caseNumber := chi.URLParam(r, "caseNumber")
	threadID := chi.URLParam(r, "threadID")

	st, ok := a.machine.Get(caseNumber, threadID)
	if !ok {
		// Terminal or never started: either way there is nothing to show.
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type clarifyRequest struct {
	Responses map[string]string `json:"responses"`
}

func (a *API) handleClarifyResponses(w http.ResponseWriter, r *http.Request) {
	if a.clarify == nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	var req clarifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Responses == nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	session, valid, errs, err := a.clarify.SubmitResponses(r.Context(), sessionID, req.Responses)
	if err != nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !valid {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"valid": false, "errors": errs})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"valid": true, "session": session})
}
