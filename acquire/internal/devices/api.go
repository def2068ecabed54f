package devices

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
)

// DefaultBaseURL is the public Shodan REST endpoint.
const DefaultBaseURL = "https://api.shodan.io"

// DefaultQuery targets cameras located in France indexed before 2024.
const DefaultQuery = "camera country:fr before:2024-01-01"

// API is one credentialed device-search account.
type API interface {
	Count(ctx context.Context, query string) (int, error)
	Search(ctx context.Context, query string, page int) (*Page, error)
}

// Page is one search result page. Matches is nil when the response carried
// no results key.
type Page struct {
	Total   int
	Matches []Device
}

// APIError is an error reported by the remote API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("devices: api: status %d: %s", e.StatusCode, e.Message)
	}
	return "devices: api: " + e.Message
}

// Quota reports whether the account ran out of query credits.
func (e *APIError) Quota() bool {
	return strings.Contains(strings.ToLower(e.Message), "query credits")
}

// HTTPAPI talks to a Shodan-style REST API with one key.
type HTTPAPI struct {
	BaseURL string
	Key     string
	Client  *http.Client
}

// NewHTTPAPI returns an API bound to key. An empty baseURL means DefaultBaseURL.
func NewHTTPAPI(baseURL, key string, client *http.Client) *HTTPAPI {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPAPI{BaseURL: strings.TrimRight(baseURL, "/"), Key: key, Client: client}
}

// Count returns the total number of results for query.
func (a *HTTPAPI) Count(ctx context.Context, query string) (int, error) {
	body, err := a.get(ctx, "/shodan/host/count", url.Values{"query": {query}})
	if err != nil {
		return 0, err
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("devices: decode count: %w", err)
	}
	return resp.Total, nil
}

// Search returns one page of results.
func (a *HTTPAPI) Search(ctx context.Context, query string, page int) (*Page, error) {
	body, err := a.get(ctx, "/shodan/host/search", url.Values{
		"query": {query},
		"page":  {strconv.Itoa(page)},
	})
	if err != nil {
		return nil, err
	}
	var meta struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("devices: decode page: %w", err)
	}
	devs, err := Normalize(body, ModeLive)
	if err != nil {
		return nil, err
	}
	return &Page{Total: meta.Total, Matches: devs}, nil
}

func (a *HTTPAPI) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	params.Set("key", a.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("devices: request: %w", err)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("devices: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("devices: read body: %w", err)
	}

	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	if apiErr.Error != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return body, nil
}
