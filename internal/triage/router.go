package triage

import "strings"

// DefaultWorkflow is selected when no routing rule matches.
const DefaultWorkflow = "general"

// RouteInput is the subset of case attributes routing looks at.
type RouteInput struct {
	AssignmentGroup string
	Category        string
	Subcategory     string
	Priority        string
	State           string
	Description     string
}

// Rule maps case attributes to a workflow. A rule matches when any of its
// assignment groups matches, or (if it has none) any of its categories.
type Rule struct {
	WorkflowID       string
	AssignmentGroups []string
	Categories       []string
}

// WorkflowDecision is the routing outcome. Derived, never persisted.
type WorkflowDecision struct {
	WorkflowID  string
	RuleMatched bool
}

// Router evaluates ordered rules: most specific assignment-group rules
// first, then category rules, then the default. First match wins. Pure
// and I/O free.
type Router struct {
	rules []Rule
}

// NewRouter builds a Router over the given ordered rules.
func NewRouter(rules []Rule) *Router {
	return &Router{rules: rules}
}

// DefaultRules is the stock rule set: assignment-group rules ahead of
// category rules, in decreasing specificity.
func DefaultRules() []Rule {
	return []Rule{
		{WorkflowID: "network", AssignmentGroups: []string{"Network Operations", "NOC"}},
		{WorkflowID: "security", AssignmentGroups: []string{"Security Operations", "SOC"}},
		{WorkflowID: "messaging", Categories: []string{"Email", "Collaboration"}},
		{WorkflowID: "identity", Categories: []string{"Access", "Accounts"}},
		{WorkflowID: "hr", Categories: []string{"HR/Onboarding", "HR"}},
	}
}

// Route returns the workflow for the given case attributes.
func (r *Router) Route(in RouteInput) WorkflowDecision {
	for _, rule := range r.rules {
		if len(rule.AssignmentGroups) > 0 {
			if containsFold(rule.AssignmentGroups, in.AssignmentGroup) {
				return WorkflowDecision{WorkflowID: rule.WorkflowID, RuleMatched: true}
			}
			continue
		}
		if containsFold(rule.Categories, in.Category) {
			return WorkflowDecision{WorkflowID: rule.WorkflowID, RuleMatched: true}
		}
	}
	return WorkflowDecision{WorkflowID: DefaultWorkflow}
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
