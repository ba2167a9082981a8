package triage

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// maxEntityValueLen matches the persisted column width.
	maxEntityValueLen = 500

	// SourceLLM and SourceRegex record entity provenance.
	SourceLLM   = "llm"
	SourceRegex = "regex"
)

// Deterministic extractors run over the raw case text independently of the
// classifier. Confidence is fixed per pattern: a regex hit is either a
// match or it is not.
var entityPatterns = []struct {
	typ        EntityType
	re         *regexp.Regexp
	confidence float64
}{
	{EntityIPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), 0.95},
	{EntityErrorCode, regexp.MustCompile(`\b(?:0x[0-9A-Fa-f]{4,8}|ERR[_-]?[A-Z0-9]{2,}|HTTP[ _-]?[45]\d{2})\b`), 0.9},
	{EntityNetworkDevice, regexp.MustCompile(`\b(?:sw|rtr|fw|ap)[-_][a-z0-9][a-z0-9-]{1,30}\b`), 0.8},
	{EntitySystem, regexp.MustCompile(`\b[a-z][a-z0-9-]{2,30}\.(?:corp|internal|local|prod)(?:\.[a-z0-9-]+)*\b`), 0.85},
	{EntityUser, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), 0.9},
	{EntitySoftware, regexp.MustCompile(`\b(?:Outlook|Teams|Excel|Word|SharePoint|SAP|Salesforce|Oracle|VPN|Citrix|Zoom|Chrome|Firefox)\b`), 0.75},
}

// ExtractEntities runs the deterministic pattern extractors over text.
func ExtractEntities(caseNumber, caseSysID, text string) []DiscoveredEntity {
	var out []DiscoveredEntity
	now := time.Now().UTC()
	for _, p := range entityPatterns {
		for _, m := range p.re.FindAllString(text, -1) {
			if len(m) > maxEntityValueLen {
				m = m[:maxEntityValueLen]
			}
			out = append(out, DiscoveredEntity{
				CaseNumber:   caseNumber,
				CaseSysID:    caseSysID,
				Type:         p.typ,
				Value:        m,
				Confidence:   p.confidence,
				Sources:      []string{SourceRegex},
				Status:       EntityDiscovered,
				DiscoveredAt: now,
			})
		}
	}
	return out
}

// MergeEntities combines entity lists from multiple sources. Entities are
// grouped by (type, case-normalized value); the merged entity keeps the
// maximum confidence seen and the union of sources in first-seen order.
func MergeEntities(lists ...[]DiscoveredEntity) []DiscoveredEntity {
	type key struct {
		typ   EntityType
		value string
	}

	merged := make(map[key]*DiscoveredEntity)
	var order []key

	for _, list := range lists {
		for _, e := range list {
			if e.Value == "" {
				continue
			}
			if len(e.Value) > maxEntityValueLen {
				e.Value = e.Value[:maxEntityValueLen]
			}
			k := key{e.Type, strings.ToLower(strings.TrimSpace(e.Value))}
			cur, ok := merged[k]
			if !ok {
				cp := e
				cp.Confidence = clamp01(e.Confidence)
				cp.Status = EntityDiscovered
				merged[k] = &cp
				order = append(order, k)
				continue
			}
			if c := clamp01(e.Confidence); c > cur.Confidence {
				cur.Confidence = c
			}
			for _, s := range e.Sources {
				if !containsFold(cur.Sources, s) {
					cur.Sources = append(cur.Sources, s)
				}
			}
		}
	}

	out := make([]DiscoveredEntity, 0, len(order))
	for _, k := range order {
		out = append(out, *merged[k])
	}
	return out
}

// CIFinder resolves an entity against the configuration-item inventory.
type CIFinder interface {
	FindConfigurationItem(ctx context.Context, entityType, value string) (sysID string, found bool, err error)
}

// ReconcileStats counts reconciliation outcomes for logging.
type ReconcileStats struct {
	Matched   int
	Unmatched int
	Skipped   int
}

// Reconciler attaches CI sys ids to discovered entities. Lookup failures
// never fail triage; the entity degrades to unmatched.
type Reconciler struct {
	finder CIFinder
	logger log.Logger
}

// NewReconciler creates a Reconciler over the given CI inventory.
func NewReconciler(finder CIFinder, logger log.Logger) *Reconciler {
	return &Reconciler{finder: finder, logger: logger}
}

// reconcilableTypes are the entity types worth a CI inventory lookup.
var reconcilableTypes = map[EntityType]bool{
	EntityIPAddress:     true,
	EntitySystem:        true,
	EntityNetworkDevice: true,
}

// Reconcile mutates ents in place, marking matches as reconciled with
// their CI sys id, and returns outcome counts.
func (r *Reconciler) Reconcile(ctx context.Context, ents []DiscoveredEntity) ReconcileStats {
	var stats ReconcileStats
	for i := range ents {
		e := &ents[i]
		if !reconcilableTypes[e.Type] {
			stats.Skipped++
			continue
		}
		sysID, found, err := r.finder.FindConfigurationItem(ctx, string(e.Type), e.Value)
		if err != nil {
			stats.Unmatched++
			r.logger.Warn(ctx, "ci lookup failed", "entity_type", e.Type, "entity_value", e.Value, "error", err)
			continue
		}
		if !found {
			stats.Unmatched++
			continue
		}
		e.CISysID = sysID
		e.Status = EntityReconciled
		stats.Matched++
	}

	r.logger.Info(ctx, "entity reconciliation complete",
		"matched", stats.Matched,
		"unmatched", stats.Unmatched,
		"skipped", stats.Skipped,
	)
	return stats
}

// sortEntities orders entities for stable persistence and responses.
func sortEntities(ents []DiscoveredEntity) {
	sort.SliceStable(ents, func(i, j int) bool {
		if ents[i].Type != ents[j].Type {
			return ents[i].Type < ents[j].Type
		}
		return ents[i].Value < ents[j].Value
	})
}
