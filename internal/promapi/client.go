// Package promapi is the HTTP client for the Prometheus query API. It is the
// only place in the assistant that talks to the backend; translation itself
// never needs the network.
package promapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
)

// AuthConfig holds authentication settings for the backend
type AuthConfig struct {
	Type        string // "basic", "bearer", "none"
	Username    string
	Password    string
	BearerToken string
	TenantID    string // X-Scope-OrgID header for multi-tenant backends
}

// apiResponse is the envelope every Prometheus API endpoint returns
type apiResponse struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"errorType,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// Point is one sampled value. Prometheus encodes it as [timestamp, "value"].
type Point struct {
	Timestamp float64
	Value     float64
}

// UnmarshalJSON decodes the [timestamp, "value"] pair
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &p.Timestamp); err != nil {
		return err
	}
	var s string
	if err := json.Unmarshal(raw[1], &s); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("non-numeric sample value %q: %w", s, err)
	}
	p.Value = v
	return nil
}

// Series is one time series in a query result. Instant queries carry a single
// point in Points.
type Series struct {
	Metric map[string]string `json:"metric"`
	Points []Point
}

type instantSeries struct {
	Metric map[string]string `json:"metric"`
	Value  Point             `json:"value"`
}

type rangeSeries struct {
	Metric map[string]string `json:"metric"`
	Values []Point           `json:"values"`
}

// Result is a processed query result
type Result struct {
	ResultType string // "vector" or "matrix"
	Series     []Series
	Warnings   []string
}

// Client talks to a Prometheus-compatible HTTP API
type Client struct {
	baseURL    string
	auth       AuthConfig
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a backend client. A zero timeout defaults to 30s.
func NewClient(baseURL string, auth AuthConfig, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		auth:    auth,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the configured backend URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) doRequest(ctx context.Context, path string, params url.Values) (*apiResponse, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperrors.NewBackendRequestError(err, path)
	}

	switch c.auth.Type {
	case "basic":
		req.SetBasicAuth(c.auth.Username, c.auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+c.auth.BearerToken)
	}
	if c.auth.TenantID != "" {
		req.Header.Set("X-Scope-OrgID", c.auth.TenantID)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewBackendRequestError(err, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewBackendRequestError(err, path)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, apperrors.NewBackendRequestError(
				fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)), path)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeBackendResponse, "Unparseable backend response").
			WithDetails(fmt.Sprintf("GET %s", path))
	}

	if envelope.Status != "success" {
		// 400 with errorType bad_data is the backend rejecting the PromQL
		// expression itself. Everything else is a backend fault.
		if envelope.ErrorType == "bad_data" {
			return nil, apperrors.NewQueryValidationError(envelope.ErrorType, envelope.Error)
		}
		return nil, apperrors.NewBackendRequestError(
			fmt.Errorf("%s: %s", envelope.ErrorType, envelope.Error), path)
	}

	return &envelope, nil
}

// Query executes an instant query. A zero ts queries the current time.
func (c *Client) Query(ctx context.Context, query string, ts time.Time) (*Result, error) {
	params := url.Values{}
	params.Set("query", query)
	if !ts.IsZero() {
		params.Set("time", strconv.FormatInt(ts.Unix(), 10))
	}

	envelope, err := c.doRequest(ctx, "/api/v1/query", params)
	if err != nil {
		return nil, err
	}
	return parseResult(envelope)
}

// QueryRange executes a range query over [start, end] at the given step
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) (*Result, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("step", strconv.Itoa(int(step.Seconds())))

	envelope, err := c.doRequest(ctx, "/api/v1/query_range", params)
	if err != nil {
		return nil, err
	}
	return parseResult(envelope)
}

// Validate checks a PromQL expression against the backend without caring
// about the result. A QUERY_VALIDATION_FAILED result means the expression is
// invalid; any other error means the backend could not be asked.
func (c *Client) Validate(ctx context.Context, query string) error {
	params := url.Values{}
	params.Set("query", query)
	_, err := c.doRequest(ctx, "/api/v1/query", params)
	return err
}

// MetricNames lists all metric names known to the backend
func (c *Client) MetricNames(ctx context.Context) ([]string, error) {
	return c.stringList(ctx, "/api/v1/label/__name__/values", nil)
}

// LabelNames lists all label names known to the backend
func (c *Client) LabelNames(ctx context.Context) ([]string, error) {
	return c.stringList(ctx, "/api/v1/labels", nil)
}

// LabelValues lists the values of one label, optionally restricted to series
// matching a selector
func (c *Client) LabelValues(ctx context.Context, label string, matchers ...string) ([]string, error) {
	params := url.Values{}
	for _, m := range matchers {
		params.Add("match[]", m)
	}
	path := fmt.Sprintf("/api/v1/label/%s/values", url.PathEscape(label))
	return c.stringList(ctx, path, params)
}

// Ping checks connectivity with a trivial query
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, "vector(1)", time.Time{})
	return err
}

func (c *Client) stringList(ctx context.Context, path string, params url.Values) ([]string, error) {
	envelope, err := c.doRequest(ctx, path, params)
	if err != nil {
		return nil, err
	}
	var values []string
	if err := json.Unmarshal(envelope.Data, &values); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeBackendResponse, "Unparseable backend response").
			WithDetails(fmt.Sprintf("GET %s", path))
	}
	return values, nil
}

func parseResult(envelope *apiResponse) (*Result, error) {
	var data struct {
		ResultType string          `json:"resultType"`
		Result     json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeBackendResponse, "Unparseable backend response")
	}

	out := &Result{
		ResultType: data.ResultType,
		Warnings:   envelope.Warnings,
	}

	switch data.ResultType {
	case "vector":
		var raw []instantSeries
		if err := json.Unmarshal(data.Result, &raw); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeBackendResponse, "Unparseable vector result")
		}
		out.Series = make([]Series, len(raw))
		for i, s := range raw {
			out.Series[i] = Series{Metric: s.Metric, Points: []Point{s.Value}}
		}
	case "matrix":
		var raw []rangeSeries
		if err := json.Unmarshal(data.Result, &raw); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeBackendResponse, "Unparseable matrix result")
		}
		out.Series = make([]Series, len(raw))
		for i, s := range raw {
			out.Series[i] = Series{Metric: s.Metric, Points: s.Values}
		}
	default:
		return nil, apperrors.New(apperrors.ErrCodeBackendResponse, "Unsupported result type").
			WithDetails(fmt.Sprintf("result type %q", data.ResultType))
	}

	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
