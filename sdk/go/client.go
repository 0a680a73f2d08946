package caselinesdk

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

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Monitoring is the API case model. Revision travels alongside the body,
// both in the JSON payload and the X-Revision header.
type Monitoring struct {
	ID       string `json:"id"`
	PublicID string `json:"publicId"`
	TenderID string `json:"tenderId"`
	Status   string `json:"status"`

	Restricted bool `json:"restricted"`
	Revision   int  `json:"revision"`

	Reasons           []string `json:"reasons,omitempty"`
	Procedure         string   `json:"procedure,omitempty"`
	MonitoringDetails string   `json:"monitoringDetails,omitempty"`

	EndDate      string `json:"endDate,omitempty"`
	DateCreated  string `json:"dateCreated,omitempty"`
	DateModified string `json:"dateModified,omitempty"`

	// Raw holds the full document including phases and masked fields.
	Raw map[string]any `json:"-"`
}

// Revision is one audit-trail entry.
type Revision struct {
	Rev     int             `json:"rev"`
	Author  string          `json:"author"`
	Date    string          `json:"date"`
	Changes json.RawMessage `json:"changes"`
}

// PaginatedMonitorings wraps list responses with cursors.
type PaginatedMonitorings struct {
	Items      []Monitoring
	NextCursor string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateMonitoring opens a draft case.
func (c *Client) CreateMonitoring(ctx context.Context, tenderID string, fields map[string]any) (Monitoring, error) {
	body := map[string]any{"tenderId": tenderID}
	for k, v := range fields {
		body[k] = v
	}
	return c.doCase(ctx, http.MethodPost, "monitorings", 0, body)
}

// GetMonitoring fetches one case, masked according to the caller's token.
func (c *Client) GetMonitoring(ctx context.Context, id string) (Monitoring, error) {
	return c.doCase(ctx, http.MethodGet, "monitorings/"+url.PathEscape(id), 0, nil)
}

// PatchMonitoring applies an RFC 7386 merge patch against the given
// revision. A stale revision comes back as a 409 APIError.
func (c *Client) PatchMonitoring(ctx context.Context, id string, revision int, patch map[string]any) (Monitoring, error) {
	return c.doCase(ctx, http.MethodPatch, "monitorings/"+url.PathEscape(id), revision, patch)
}

// ListMonitorings returns one listing page.
func (c *Client) ListMonitorings(ctx context.Context, status string, limit int, cursor string) (PaginatedMonitorings, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "monitorings"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items      []map[string]any `json:"items"`
		NextCursor string           `json:"next_cursor"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, 0, nil, &resp, nil); err != nil {
		return PaginatedMonitorings{}, err
	}
	page := PaginatedMonitorings{NextCursor: resp.NextCursor}
	for _, doc := range resp.Items {
		page.Items = append(page.Items, monitoringFromDoc(doc))
	}
	return page, nil
}

// Revisions returns the full audit trail of a case, oldest first.
func (c *Client) Revisions(ctx context.Context, id string) ([]Revision, error) {
	var resp []Revision
	err := c.do(ctx, http.MethodGet, "monitorings/"+url.PathEscape(id)+"/revisions", 0, nil, &resp, nil)
	return resp, err
}

func (c *Client) doCase(ctx context.Context, method, endpoint string, revision int, body any) (Monitoring, error) {
	var doc map[string]any
	var headerRev int
	if err := c.do(ctx, method, endpoint, revision, body, &doc, &headerRev); err != nil {
		return Monitoring{}, err
	}
	m := monitoringFromDoc(doc)
	if m.Revision == 0 {
		m.Revision = headerRev
	}
	return m, nil
}

func monitoringFromDoc(doc map[string]any) Monitoring {
	var m Monitoring
	if data, err := json.Marshal(doc); err == nil {
		_ = json.Unmarshal(data, &m)
	}
	m.Raw = doc
	return m
}

func (c *Client) do(ctx context.Context, method, endpoint string, revision int, body, out any, headerRev *int) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/api/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if revision > 0 {
		req.Header.Set("X-Revision", strconv.Itoa(revision))
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if headerRev != nil {
		if v, err := strconv.Atoi(resp.Header.Get("X-Revision")); err == nil {
			*headerRev = v
		}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
