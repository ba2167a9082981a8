package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/caseevent"
)

// catalogSignals are category/text fragments that indicate a self-service
// request wrongly filed as a case.
var catalogSignals = []string{
	"hr/onboarding", "onboarding", "offboarding", "new hire",
	"equipment request", "software request", "access request",
	"new laptop", "new phone", "provisioning",
}

// applyCatalogRedirect detects mis-routed self-service requests and
// appends a redirect work note pointing at matching catalog items.
// Only evaluated when no incident/problem was created; failure is
// non-fatal and rolls back nothing.
func (s *Service) applyCatalogRedirect(ctx context.Context, L log.Logger, ev *caseevent.Payload, cl *Classification, resp *Response) {
	if s.ticketing == nil {
		return
	}

	signal, ok := matchCatalogSignal(ev.Category, cl.Category, ev.ShortDescription)
	if !ok {
		return
	}

	items, err := s.ticketing.SearchCatalogItems(ctx, signal, s.opts.CatalogItemLimit)
	if err != nil {
		L.Error(ctx, err, "catalog item search failed", "signal", signal)
		return
	}
	if len(items) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("CATALOG REDIRECT: this request is best served through the service catalog.\n")
	fmt.Fprintf(&b, "Company: %s  Account: %s\n", ev.Company, ev.AccountID)
	for _, it := range items {
		fmt.Fprintf(&b, "- %s: %s\n", it.Name, it.ShortDescription)
	}
	if err := s.ticketing.AddWorkNote(ctx, ev.CaseSysID, b.String(), false); err != nil {
		L.Error(ctx, err, "failed to append redirect work note")
		return
	}

	if s.opts.CatalogRedirectClose {
		fields := map[string]string{
			"state":      "3", // closed
			"close_code": "Redirected to catalog",
		}
		if err := s.ticketing.UpdateCase(ctx, ev.CaseSysID, fields); err != nil {
			L.Error(ctx, err, "failed to close redirected case")
		}
	}

	resp.CatalogRedirected = true
	resp.CatalogItemsProvided = len(items)
	s.hooks.catalogRedirect()
	L.Info(ctx, "catalog redirect applied", "signal", signal, "items", len(items))
}

// applyEscalation notifies operators when classification carries any
// business-intelligence flag. Failures are logged and swallowed.
func (s *Service) applyEscalation(ctx context.Context, L log.Logger, ev *caseevent.Payload, cl *Classification, resp *Response) {
	if s.notifier == nil || !cl.BusinessIntel.Any() {
		return
	}

	err := s.notifier.Escalate(ctx, &EscalationEvent{
		CaseNumber: ev.CaseNumber,
		Summary:    ev.ShortDescription,
		Flags:      cl.BusinessIntel,
		Reasoning:  cl.Reasoning,
	})
	if err != nil {
		L.Error(ctx, err, "escalation notification failed")
		return
	}
	resp.Escalated = true
	s.hooks.escalation()
}

func matchCatalogSignal(caseCategory, classifiedCategory, text string) (string, bool) {
	haystacks := []string{
		strings.ToLower(caseCategory),
		strings.ToLower(classifiedCategory),
		strings.ToLower(text),
	}
	for _, sig := range catalogSignals {
		for _, h := range haystacks {
			if strings.Contains(h, sig) {
				return sig, true
			}
		}
	}
	return "", false
}
