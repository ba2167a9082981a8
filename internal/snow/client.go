// Package snow is the ticketing-system collaborator: a minimal REST
// client for ServiceNow table endpoints. The triage engine never issues
// raw wire calls itself; it talks to the narrow interfaces this client
// satisfies.
package snow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Case is a case record as read from the ticketing system.
type Case struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	AssignmentGroup  string `json:"assignment_group"`
	Category         string `json:"category"`
	Subcategory      string `json:"subcategory"`
	Priority         string `json:"priority"`
	State            string `json:"state"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	Company          string `json:"company"`
	AccountID        string `json:"account"`
}

// CreatedRecord describes a record created from a case.
type CreatedRecord struct {
	SysID  string `json:"sys_id"`
	Number string `json:"number"`
	URL    string `json:"url"`
}

// CatalogItem is a self-service catalog entry.
type CatalogItem struct {
	SysID            string `json:"sys_id"`
	Name             string `json:"name"`
	ShortDescription string `json:"short_description"`
}

// RecordRequest carries the fields for an incident/problem created from a case.
type RecordRequest struct {
	CaseSysID        string
	CaseNumber       string
	ShortDescription string
	Description      string
	Category         string
	Subcategory      string
	IsMajor          bool
}

// Client is the full ticketing-system surface the application consumes.
type Client interface {
	GetCase(ctx context.Context, number string) (*Case, error)
	AddWorkNote(ctx context.Context, sysID, text string, private bool) error
	CreateIncidentFromCase(ctx context.Context, req *RecordRequest) (*CreatedRecord, error)
	CreateProblemFromCase(ctx context.Context, req *RecordRequest) (*CreatedRecord, error)
	UpdateCase(ctx context.Context, sysID string, fields map[string]string) error
	GetChoiceList(ctx context.Context, table, element string) ([]string, error)
	FindConfigurationItem(ctx context.Context, entityType, value string) (string, bool, error)
	SearchCatalogItems(ctx context.Context, query string, limit int) ([]CatalogItem, error)
	CreateKnowledgeArticle(ctx context.Context, shortDescription, text, sourceCase string) (*CreatedRecord, error)
}

// RESTClient implements Client against the ServiceNow Table API.
type RESTClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

var _ Client = (*RESTClient)(nil)

// New creates a RESTClient for the given instance base URL
// (e.g. https://acme.service-now.com) with basic auth.
func New(baseURL, username, password string) *RESTClient {
	return &RESTClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetCase looks up a case by number.
func (c *RESTClient) GetCase(ctx context.Context, number string) (*Case, error) {
	params := url.Values{}
	params.Set("sysparm_query", "number="+number)
	params.Set("sysparm_limit", "1")

	var out struct {
		Result []Case `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/now/table/sn_customerservice_case", params, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Result) == 0 {
		return nil, fmt.Errorf("case %s not found", number)
	}
	return &out.Result[0], nil
}

// AddWorkNote appends a work note (or customer-visible comment) to a case.
func (c *RESTClient) AddWorkNote(ctx context.Context, sysID, text string, private bool) error {
	field := "comments"
	if private {
		field = "work_notes"
	}
	body := map[string]string{field: text}
	return c.do(ctx, http.MethodPatch, "/api/now/table/sn_customerservice_case/"+sysID, nil, body, nil)
}

// CreateIncidentFromCase creates an incident seeded from a case.
func (c *RESTClient) CreateIncidentFromCase(ctx context.Context, req *RecordRequest) (*CreatedRecord, error) {
	return c.createRecord(ctx, "incident", req)
}

// CreateProblemFromCase creates a problem record seeded from a case.
func (c *RESTClient) CreateProblemFromCase(ctx context.Context, req *RecordRequest) (*CreatedRecord, error) {
	return c.createRecord(ctx, "problem", req)
}

func (c *RESTClient) createRecord(ctx context.Context, table string, req *RecordRequest) (*CreatedRecord, error) {
	body := map[string]string{
		"short_description": req.ShortDescription,
		"description":       req.Description,
		"category":          req.Category,
		"subcategory":       req.Subcategory,
		"parent":            req.CaseSysID,
		"correlation_id":    req.CaseNumber,
	}
	if req.IsMajor {
		body["severity"] = "1"
	}

	var out struct {
		Result CreatedRecord `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/now/table/"+table, nil, body, &out); err != nil {
		return nil, err
	}
	rec := out.Result
	rec.URL = fmt.Sprintf("%s/nav_to.do?uri=%s.do?sys_id=%s", c.baseURL, table, rec.SysID)
	return &rec, nil
}

// UpdateCase patches arbitrary fields on a case.
func (c *RESTClient) UpdateCase(ctx context.Context, sysID string, fields map[string]string) error {
	return c.do(ctx, http.MethodPatch, "/api/now/table/sn_customerservice_case/"+sysID, nil, fields, nil)
}

// GetChoiceList returns the configured choice values for a table element.
func (c *RESTClient) GetChoiceList(ctx context.Context, table, element string) ([]string, error) {
	params := url.Values{}
	params.Set("sysparm_query", fmt.Sprintf("name=%s^element=%s^inactive=false", table, element))
	params.Set("sysparm_fields", "value,label")

	var out struct {
		Result []struct {
			Value string `json:"value"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/now/table/sys_choice", params, nil, &out); err != nil {
		return nil, err
	}
	values := make([]string, 0, len(out.Result))
	for _, r := range out.Result {
		values = append(values, r.Value)
	}
	return values, nil
}

// FindConfigurationItem resolves an extracted entity against the CI
// inventory. Returns found=false when nothing matches.
func (c *RESTClient) FindConfigurationItem(ctx context.Context, entityType, value string) (string, bool, error) {
	field := "name"
	if entityType == "IP_ADDRESS" {
		field = "ip_address"
	}
	params := url.Values{}
	params.Set("sysparm_query", fmt.Sprintf("%s=%s", field, value))
	params.Set("sysparm_fields", "sys_id")
	params.Set("sysparm_limit", "1")

	var out struct {
		Result []struct {
			SysID string `json:"sys_id"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/now/table/cmdb_ci", params, nil, &out); err != nil {
		return "", false, err
	}
	if len(out.Result) == 0 {
		return "", false, nil
	}
	return out.Result[0].SysID, true, nil
}

// SearchCatalogItems finds active catalog items matching the query text.
func (c *RESTClient) SearchCatalogItems(ctx context.Context, query string, limit int) ([]CatalogItem, error) {
	if limit <= 0 {
		limit = 3
	}
	params := url.Values{}
	params.Set("sysparm_query", fmt.Sprintf("active=true^nameLIKE%s^ORshort_descriptionLIKE%s", query, query))
	params.Set("sysparm_fields", "sys_id,name,short_description")
	params.Set("sysparm_limit", strconv.Itoa(limit))

	var out struct {
		Result []CatalogItem `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/now/table/sc_cat_item", params, nil, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// CreateKnowledgeArticle inserts a draft KB article. The source case
// number lands in correlation_id so the article can be traced back.
func (c *RESTClient) CreateKnowledgeArticle(ctx context.Context, shortDescription, text, sourceCase string) (*CreatedRecord, error) {
	body := map[string]string{
		"short_description": shortDescription,
		"text":              text,
		"workflow_state":    "draft",
		"correlation_id":    sourceCase,
	}

	var out struct {
		Result CreatedRecord `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/now/table/kb_knowledge", nil, body, &out); err != nil {
		return nil, err
	}
	rec := out.Result
	rec.URL = fmt.Sprintf("%s/nav_to.do?uri=kb_knowledge.do?sys_id=%s", c.baseURL, rec.SysID)
	return &rec, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("servicenow request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("servicenow %s %s returned %d: %s", method, path, resp.StatusCode, truncate(string(respBody), 256))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
