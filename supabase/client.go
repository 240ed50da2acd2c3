// Package supabase is the managed backend: table access over PostgREST and
// row change feeds over the realtime websocket.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
)

type Config struct {
	URL string
	// AnonKey is sent as the apikey header.
	AnonKey string
	// ServiceKey, when set, is the bearer token for table calls so the
	// service is not subject to row level security.
	ServiceKey string
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	apiKey     string
	bearer     string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("supabase URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("supabase anon key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	bearer := cfg.ServiceKey
	if bearer == "" {
		bearer = cfg.AnonKey
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.AnonKey,
		bearer:     bearer,
		httpClient: httpClient,
	}, nil
}

// APIError is a PostgREST error body.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details"`
	Hint       string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps "no row for a single-object read" and foreign key failures
// to backend.ErrNotFound.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "PGRST116", "23503":
		return backend.ErrNotFound
	}
	return nil
}

// From starts a query on table.
func (c *Client) From(table string) *Query {
	return &Query{client: c, table: table, params: url.Values{}}
}

// Query is a PostgREST request under construction.
type Query struct {
	client *Client
	table  string
	params url.Values
	single bool
}

func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

func (q *Query) Eq(column string, value any) *Query {
	q.params.Add(column, fmt.Sprintf("eq.%v", value))
	return q
}

func (q *Query) In(column string, values []string) *Query {
	q.params.Add(column, "in.("+strings.Join(values, ",")+")")
	return q
}

func (q *Query) Order(column string, ascending bool) *Query {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	if prev := q.params.Get("order"); prev != "" {
		q.params.Set("order", prev+","+column+"."+dir)
	} else {
		q.params.Set("order", column+"."+dir)
	}
	return q
}

// Single asks for exactly one row as an object instead of an array.
func (q *Query) Single() *Query {
	q.single = true
	return q
}

// URL is the request URL the query will hit.
func (q *Query) URL() string {
	u := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)
	if len(q.params) > 0 {
		u += "?" + q.params.Encode()
	}
	return u
}

// Get runs a select and decodes the result into out.
func (q *Query) Get(ctx context.Context, out any) error {
	return q.do(ctx, http.MethodGet, nil, out)
}

// Insert posts rows and decodes the inserted representation into out.
func (q *Query) Insert(ctx context.Context, rows any, out any) error {
	return q.do(ctx, http.MethodPost, rows, out)
}

// Update patches the filtered rows and decodes them into out.
func (q *Query) Update(ctx context.Context, patch any, out any) error {
	return q.do(ctx, http.MethodPatch, patch, out)
}

// Delete removes the filtered rows and decodes them into out.
func (q *Query) Delete(ctx context.Context, out any) error {
	return q.do(ctx, http.MethodDelete, nil, out)
}

func (q *Query) do(ctx context.Context, method string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", q.table, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.URL(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q.client.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	resp, err := q.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, q.table, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", q.table, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", q.table, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
}

// FunctionURL is the endpoint of an edge function.
func (c *Client) FunctionURL(name string) string {
	return fmt.Sprintf("%s/functions/v1/%s", c.baseURL, name)
}

// realtimeURL is the websocket endpoint for the anon key.
func (c *Client) realtimeURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime/v1/websocket?apikey=" + url.QueryEscape(c.apiKey) + "&vsn=1.0.0"
}
