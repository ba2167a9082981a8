package triage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/caseevent"
	"github.com/linnemanlabs/caseflow/internal/snow"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu       sync.Mutex
	payloads map[string]*InboundPayload
	marks    map[string]string
	results  []*ClassificationResult
	entities map[string][]DiscoveredEntity
}

func newMockStore() *mockStore {
	return &mockStore{
		payloads: make(map[string]*InboundPayload),
		marks:    make(map[string]string),
		entities: make(map[string][]DiscoveredEntity),
	}
}

func (m *mockStore) RecordPayload(_ context.Context, p *InboundPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payloads[p.ID] = &cp
	return nil
}

func (m *mockStore) MarkPayload(_ context.Context, id string, procErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[id] = procErr
	return nil
}

func (m *mockStore) LatestCompleted(_ context.Context, caseNumber string, since time.Time) (*ClassificationResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.results) - 1; i >= 0; i-- {
		r := m.results[i]
		if r.CaseNumber == caseNumber && !r.CreatedAt.Before(since) {
			cp := *r
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (m *mockStore) LatestForRoute(_ context.Context, caseNumber, workflowID, assignmentGroup string) (*ClassificationResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.results) - 1; i >= 0; i-- {
		r := m.results[i]
		if r.CaseNumber == caseNumber && r.WorkflowID == workflowID && r.AssignmentGroup == assignmentGroup {
			cp := *r
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (m *mockStore) PutResult(_ context.Context, r *ClassificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.results = append(m.results, &cp)
	return nil
}

func (m *mockStore) PutEntities(_ context.Context, caseNumber string, ents []DiscoveredEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]DiscoveredEntity, len(ents))
	copy(cp, ents)
	m.entities[caseNumber] = cp
	return nil
}

func (m *mockStore) EntitiesForCase(_ context.Context, caseNumber string) ([]DiscoveredEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entities[caseNumber], nil
}

// failedMarks returns ledger rows marked with a processing error.
func (m *mockStore) failedMarks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.marks {
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// mockTicketing implements Ticketing for testing.
type mockTicketing struct {
	mu           sync.Mutex
	notes        []string
	caseUpdates  []map[string]string
	incidents    int
	problems     int
	incidentErr  error
	catalogItems []snow.CatalogItem
	caseCats     []string
	incCats      []string
}

func (m *mockTicketing) AddWorkNote(_ context.Context, _, text string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, text)
	return nil
}

func (m *mockTicketing) CreateIncidentFromCase(_ context.Context, _ *snow.RecordRequest) (*snow.CreatedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incidentErr != nil {
		return nil, m.incidentErr
	}
	m.incidents++
	return &snow.CreatedRecord{SysID: "inc-sys", Number: "INC0001001", URL: "https://example/inc"}, nil
}

func (m *mockTicketing) CreateProblemFromCase(_ context.Context, _ *snow.RecordRequest) (*snow.CreatedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.problems++
	return &snow.CreatedRecord{SysID: "prb-sys", Number: "PRB0002002", URL: "https://example/prb"}, nil
}

func (m *mockTicketing) UpdateCase(_ context.Context, _ string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caseUpdates = append(m.caseUpdates, fields)
	return nil
}

func (m *mockTicketing) GetChoiceList(_ context.Context, table, _ string) ([]string, error) {
	if table == "incident" {
		return m.incCats, nil
	}
	return m.caseCats, nil
}

func (m *mockTicketing) SearchCatalogItems(_ context.Context, _ string, _ int) ([]snow.CatalogItem, error) {
	return m.catalogItems, nil
}

type mockEscalator struct {
	mu     sync.Mutex
	events []*EscalationEvent
}

func (m *mockEscalator) Escalate(_ context.Context, ev *EscalationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

const incidentReply = `{
  "category": "Email",
  "subcategory": "Outage",
  "confidence": 0.95,
  "reasoning": "mail service outage affecting many users",
  "keywords": ["email", "outage"],
  "business_intelligence": {"project_scope": false, "executive_visibility": false, "compliance_impact": false, "financial_impact": false},
  "record_type_suggestion": {"type": "Incident", "is_major_incident": false, "reasoning": "service outage"}
}`

const hrReply = `{
  "category": "HR/Onboarding",
  "subcategory": "New Hire",
  "confidence": 0.9,
  "reasoning": "equipment for a new starter",
  "keywords": ["onboarding"],
  "business_intelligence": {"project_scope": false, "executive_visibility": false, "compliance_impact": false, "financial_impact": false},
  "record_type_suggestion": {"type": "Case", "is_major_incident": false, "reasoning": "request, not a fault"}
}`

const escalationReply = `{
  "category": "Email",
  "subcategory": "Delivery",
  "confidence": 0.8,
  "reasoning": "CFO cannot send board materials",
  "keywords": ["email"],
  "business_intelligence": {"project_scope": false, "executive_visibility": true, "compliance_impact": false, "financial_impact": false}
}`

func emailEvent() *caseevent.Payload {
	return &caseevent.Payload{
		CaseNumber:       "CS0001001",
		CaseSysID:        "case-sys-1",
		AssignmentGroup:  "Service Desk",
		Category:         "Email",
		Priority:         "2",
		State:            "open",
		ShortDescription: "Email outage for sales team",
		Description:      "Users on 10.20.30.40 report Outlook cannot connect since 09:00.",
	}
}

func newTestService(store Store, p Provider, tick Ticketing, notifier Notifier, opts Options) *Service {
	classifier := newTestClassifier(p, 3)
	return NewService(store, NewRouter(DefaultRules()), classifier, tick, nil, notifier, opts, Hooks{}, log.Nop())
}

func TestProcess_IncidentCreation(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	tick := &mockTicketing{caseCats: []string{"Email", "Access"}, incCats: []string{"Email"}}
	p := &mockProvider{steps: []mockStep{{text: incidentReply}}}
	svc := newTestService(store, p, tick, nil, Options{})

	resp, err := svc.Process(context.Background(), emailEvent())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if resp.Cached {
		t.Error("first run should not be cached")
	}
	if !resp.IncidentCreated || resp.IncidentNumber != "INC0001001" {
		t.Errorf("incident = %v/%q, want created INC0001001", resp.IncidentCreated, resp.IncidentNumber)
	}
	if resp.CatalogRedirected {
		t.Error("promoted case must not also be catalog-redirected")
	}
	if resp.Result == nil || resp.Result.WorkflowID != "messaging" {
		t.Fatalf("result = %+v, want messaging workflow", resp.Result)
	}
	if !resp.Result.TicketUpdated {
		t.Error("TicketUpdated should be set after incident creation")
	}
	if len(resp.Entities) == 0 {
		t.Error("expected extracted entities in the response")
	}

	if len(tick.notes) != 1 || !strings.Contains(tick.notes[0], "INCIDENT CREATED: INC0001001") {
		t.Errorf("work notes = %q, want INCIDENT CREATED note", tick.notes)
	}
	if len(store.results) != 1 {
		t.Errorf("stored results = %d, want 1", len(store.results))
	}
	if ents, _ := store.EntitiesForCase(context.Background(), "CS0001001"); len(ents) == 0 {
		t.Error("entities were not persisted")
	}
}

func TestProcess_DuplicateDeliveryShortCircuits(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	tick := &mockTicketing{caseCats: []string{"Email"}, incCats: []string{"Email"}}
	p := &mockProvider{steps: []mockStep{{text: incidentReply}}}
	svc := newTestService(store, p, tick, nil, Options{})

	first, err := svc.Process(context.Background(), emailEvent())
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := svc.Process(context.Background(), emailEvent())
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}

	if !second.Cached || second.CacheSource != "idempotency" {
		t.Errorf("second = cached %v source %q, want idempotency hit", second.Cached, second.CacheSource)
	}
	if second.Result.ID != first.Result.ID {
		t.Errorf("second result ID = %q, want prior %q", second.Result.ID, first.Result.ID)
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (no re-classification)", p.calls)
	}
	if tick.incidents != 1 {
		t.Errorf("incidents created = %d, want 1 (no repeated side effects)", tick.incidents)
	}
}

func TestProcess_RouteCache(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	tick := &mockTicketing{caseCats: []string{"Email"}, incCats: []string{"Email"}}
	p := &mockProvider{steps: []mockStep{{text: incidentReply}}}
	// Nanosecond window so the idempotency ledger never hits and the
	// route cache is what short-circuits.
	svc := newTestService(store, p, tick, nil, Options{IdempotencyWindow: time.Nanosecond})

	if _, err := svc.Process(context.Background(), emailEvent()); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	second, err := svc.Process(context.Background(), emailEvent())
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !second.Cached || second.CacheSource != "route" {
		t.Errorf("second = cached %v source %q, want route hit", second.Cached, second.CacheSource)
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls)
	}

	// A reassigned case never matches the cached route triple.
	time.Sleep(5 * time.Millisecond)
	moved := emailEvent()
	moved.AssignmentGroup = "Network Operations"
	third, err := svc.Process(context.Background(), moved)
	if err != nil {
		t.Fatalf("third Process: %v", err)
	}
	if third.Cached {
		t.Error("changed assignment group must invalidate the route cache")
	}
	if third.Result.WorkflowID != "network" {
		t.Errorf("workflow = %q, want network after reassignment", third.Result.WorkflowID)
	}
	if p.calls != 2 {
		t.Errorf("provider calls = %d, want 2", p.calls)
	}
}

func TestProcess_ClassificationFailureIsFatal(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	tick := &mockTicketing{}
	p := &mockProvider{steps: []mockStep{{err: errors.New("provider down")}}}
	svc := newTestService(store, p, tick, nil, Options{})

	_, err := svc.Process(context.Background(), emailEvent())
	if err == nil {
		t.Fatal("Process() = nil, want error")
	}
	if len(store.results) != 0 {
		t.Errorf("stored results = %d, want 0", len(store.results))
	}
	failed := store.failedMarks()
	if len(failed) != 1 || !strings.Contains(failed[0], "provider down") {
		t.Errorf("failed ledger marks = %q, want provider error recorded", failed)
	}
}

func TestProcess_IncidentCreationFailureDegrades(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	tick := &mockTicketing{
		caseCats:    []string{"Email"},
		incCats:     []string{"Email"},
		incidentErr: errors.New("table api 500"),
	}
	p := &mockProvider{steps: []mockStep{{text: incidentReply}}}
	svc := newTestService(store, p, tick, nil, Options{})

	resp, err := svc.Process(context.Background(), emailEvent())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.IncidentCreated {
		t.Error("incident must not be reported created after a ticketing failure")
	}
	if resp.Result == nil || len(store.results) != 1 {
		t.Error("classification result must still be persisted")
	}
	if resp.Result.TicketUpdated {
		t.Error("TicketUpdated should be false when nothing was written")
	}
}

func TestProcess_CatalogRedirect(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	tick := &mockTicketing{
		caseCats: []string{"HR/Onboarding", "Email"},
		catalogItems: []snow.CatalogItem{
			{SysID: "cat-1", Name: "New Hire Bundle", ShortDescription: "Laptop, accounts, badge"},
			{SysID: "cat-2", Name: "Laptop Request", ShortDescription: "Standard laptop"},
		},
	}
	p := &mockProvider{steps: []mockStep{{text: hrReply}}}
	svc := newTestService(store, p, tick, nil, Options{})

	ev := &caseevent.Payload{
		CaseNumber:       "CS0001002",
		CaseSysID:        "case-sys-2",
		AssignmentGroup:  "Service Desk",
		Category:         "HR/Onboarding",
		ShortDescription: "Laptop for new hire starting Monday",
		Description:      "Please provision equipment for the new starter.",
		Company:          "Acme Corp",
		AccountID:        "acct-9",
	}
	resp, err := svc.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if !resp.CatalogRedirected || resp.CatalogItemsProvided != 2 {
		t.Errorf("redirect = %v items %d, want redirected with 2 items", resp.CatalogRedirected, resp.CatalogItemsProvided)
	}
	if resp.IncidentCreated || resp.ProblemCreated {
		t.Error("redirect-only case must not create records")
	}
	if len(tick.notes) != 1 {
		t.Fatalf("work notes = %d, want 1", len(tick.notes))
	}
	note := tick.notes[0]
	for _, want := range []string{"CATALOG REDIRECT", "Acme Corp", "acct-9", "New Hire Bundle"} {
		if !strings.Contains(note, want) {
			t.Errorf("redirect note missing %q: %s", want, note)
		}
	}
	if len(tick.caseUpdates) != 0 {
		t.Errorf("case updates = %d, want 0 without close option", len(tick.caseUpdates))
	}
}

func TestProcess_CatalogRedirectClose(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	tick := &mockTicketing{
		caseCats:     []string{"HR/Onboarding"},
		catalogItems: []snow.CatalogItem{{SysID: "cat-1", Name: "New Hire Bundle"}},
	}
	p := &mockProvider{steps: []mockStep{{text: hrReply}}}
	svc := newTestService(store, p, tick, nil, Options{CatalogRedirectClose: true})

	ev := &caseevent.Payload{
		CaseNumber:       "CS0001003",
		CaseSysID:        "case-sys-3",
		Category:         "HR/Onboarding",
		ShortDescription: "Equipment request",
	}
	resp, err := svc.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !resp.CatalogRedirected {
		t.Fatal("expected catalog redirect")
	}
	if len(tick.caseUpdates) != 1 || tick.caseUpdates[0]["state"] != "3" {
		t.Errorf("case updates = %v, want close to state 3", tick.caseUpdates)
	}
}

func TestProcess_Escalation(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	tick := &mockTicketing{caseCats: []string{"Email"}}
	notifier := &mockEscalator{}
	p := &mockProvider{steps: []mockStep{{text: escalationReply}}}
	svc := newTestService(store, p, tick, notifier, Options{})

	resp, err := svc.Process(context.Background(), emailEvent())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !resp.Escalated {
		t.Error("expected escalation for executive visibility flag")
	}
	if len(notifier.events) != 1 {
		t.Fatalf("escalation events = %d, want 1", len(notifier.events))
	}
	ev := notifier.events[0]
	if ev.CaseNumber != "CS0001001" || !ev.Flags.ExecutiveVisibility {
		t.Errorf("escalation event = %+v, want CS0001001 with executive flag", ev)
	}
}

func TestLatest(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	tick := &mockTicketing{caseCats: []string{"Email"}}
	p := &mockProvider{steps: []mockStep{{text: incidentReply}}}
	svc := newTestService(store, p, tick, nil, Options{})

	if _, ok, err := svc.Latest(context.Background(), "CS0001001"); err != nil || ok {
		t.Fatalf("Latest before processing = ok %v err %v, want miss", ok, err)
	}

	if _, err := svc.Process(context.Background(), emailEvent()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, ok, err := svc.Latest(context.Background(), "CS0001001")
	if err != nil || !ok {
		t.Fatalf("Latest = ok %v err %v, want hit", ok, err)
	}
	if got.CaseNumber != "CS0001001" {
		t.Errorf("Latest case = %q, want CS0001001", got.CaseNumber)
	}
}
