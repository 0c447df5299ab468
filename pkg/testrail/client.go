package testrail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/qaops/railsync/pkg/config"
)

// APIError is a non-2xx response from the TestRail API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("testrail api returned status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying. Server-side
// errors and rate limiting are transient; any other 4xx is permanent.
func (e *APIError) Transient() bool {
	return e.StatusCode >= http.StatusInternalServerError ||
		e.StatusCode == http.StatusTooManyRequests
}

// Client talks to one TestRail project/suite.
type Client struct {
	log     logrus.FieldLogger
	http    *resty.Client
	limiter *rate.Limiter
	base    string

	projectID int
	suiteID   int
}

// NewClient creates a TestRail API client from the given configuration.
// Every call applies the configured timeout; when requests_per_minute
// is set, calls are paced by a client-side rate limiter.
func NewClient(log logrus.FieldLogger, cfg *config.TestRailConfig) *Client {
	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.Email, cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1,
		)
	}

	return &Client{
		log:       log.WithField("component", "testrail"),
		http:      httpClient,
		limiter:   limiter,
		base:      strings.TrimRight(cfg.URL, "/") + "/index.php?/api/v2",
		projectID: cfg.ProjectID,
		suiteID:   cfg.SuiteID,
	}
}

// Ping verifies connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, fmt.Sprintf("%s/get_projects", c.base))
	if err != nil {
		return fmt.Errorf("checking testrail connection: %w", err)
	}

	return nil
}

// ListSections fetches all sections of the configured suite.
func (c *Client) ListSections(ctx context.Context) ([]Section, error) {
	body, err := c.get(ctx, fmt.Sprintf(
		"%s/get_sections/%d&suite_id=%d", c.base, c.projectID, c.suiteID,
	))
	if err != nil {
		return nil, fmt.Errorf("listing sections: %w", err)
	}

	var sections []Section
	if err := decodeList(body, "sections", &sections); err != nil {
		return nil, fmt.Errorf("decoding sections: %w", err)
	}

	return sections, nil
}

// ListCases fetches the full case inventory of the configured suite.
// This is the one directory listing per sync pass; callers snapshot it
// rather than issuing per-key lookups.
func (c *Client) ListCases(ctx context.Context) ([]Case, error) {
	body, err := c.get(ctx, fmt.Sprintf(
		"%s/get_cases/%d&suite_id=%d", c.base, c.projectID, c.suiteID,
	))
	if err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}

	var cases []Case
	if err := decodeList(body, "cases", &cases); err != nil {
		return nil, fmt.Errorf("decoding cases: %w", err)
	}

	return cases, nil
}

// AddCase creates a case in the given section.
func (c *Client) AddCase(ctx context.Context, sectionID int, fields CaseFields) (*Case, error) {
	body, err := c.post(ctx, fmt.Sprintf("%s/add_case/%d", c.base, sectionID), fields)
	if err != nil {
		return nil, fmt.Errorf("adding case: %w", err)
	}

	var created Case
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("decoding created case: %w", err)
	}

	return &created, nil
}

// UpdateCase updates an existing case.
func (c *Client) UpdateCase(ctx context.Context, caseID int, fields CaseFields) (*Case, error) {
	body, err := c.post(ctx, fmt.Sprintf("%s/update_case/%d", c.base, caseID), fields)
	if err != nil {
		return nil, fmt.Errorf("updating case %d: %w", caseID, err)
	}

	var updated Case
	if err := json.Unmarshal(body, &updated); err != nil {
		return nil, fmt.Errorf("decoding updated case: %w", err)
	}

	return &updated, nil
}

// AddRun creates a new test run in the configured project.
func (c *Client) AddRun(ctx context.Context, fields RunFields) (*Run, error) {
	body, err := c.post(ctx, fmt.Sprintf("%s/add_run/%d", c.base, c.projectID), fields)
	if err != nil {
		return nil, fmt.Errorf("adding run: %w", err)
	}

	var run Run
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("decoding created run: %w", err)
	}

	return &run, nil
}

// AddResult submits one result for a case within a run.
func (c *Client) AddResult(ctx context.Context, runID, caseID int, fields ResultFields) error {
	_, err := c.post(ctx, fmt.Sprintf(
		"%s/add_result_for_case/%d/%d", c.base, runID, caseID,
	), fields)
	if err != nil {
		return fmt.Errorf("adding result for case %d: %w", caseID, err)
	}

	return nil
}

// CloseRun closes a run.
func (c *Client) CloseRun(ctx context.Context, runID int) error {
	_, err := c.post(ctx, fmt.Sprintf("%s/close_run/%d", c.base, runID), struct{}{})
	if err != nil {
		return fmt.Errorf("closing run %d: %w", runID, err)
	}

	return nil
}

// AddAttachment uploads a file as a run attachment.
func (c *Client) AddAttachment(ctx context.Context, runID int, path string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	// resty switches to multipart encoding when a file is attached.
	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("attachment", path).
		Post(fmt.Sprintf("%s/add_attachment_to_run/%d", c.base, runID))
	if err != nil {
		return fmt.Errorf("attaching %s: %w", filepath.Base(path), err)
	}

	if resp.IsError() {
		return &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	return nil
}

// get issues a rate-limited GET and returns the response body.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	return resp.Body(), nil
}

// post issues a rate-limited POST with a JSON body.
func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(payload).Post(url)
	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	return resp.Body(), nil
}

// wait blocks until the rate limiter admits the next call.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	return nil
}

// decodeList handles both response shapes TestRail emits: newer
// releases wrap collections in an object keyed by name, older ones
// return a bare array.
func decodeList(body []byte, key string, out any) error {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err == nil {
		if raw, ok := wrapper[key]; ok {
			return json.Unmarshal(raw, out)
		}
	}

	return json.Unmarshal(body, out)
}
