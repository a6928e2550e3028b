// Package providers holds the HTTP clients for the external analytics
// providers. Every client paginates, paces and circuit-breaks its requests
// and hands back typed, validated records.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/brandlens/backend/internal/metrics"
	"github.com/brandlens/backend/internal/models"
)

// ErrNotConfigured is returned by a client with no base URL.
var ErrNotConfigured = errors.New("provider is not configured")

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Status, e.Body)
}

// retryable reports whether the failure says anything about provider health.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// Options tune a provider client.
type Options struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Client is the shared transport of every provider.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a transport for one provider.
func NewClient(name string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    newBreaker(name),
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// page is the pagination envelope every provider endpoint uses.
type page struct {
	Data json.RawMessage `json:"data"`
	Meta struct {
		Pagination struct {
			Total       int `json:"total"`
			Count       int `json:"count"`
			PerPage     int `json:"per_page"`
			CurrentPage int `json:"current_page"`
			TotalPages  int `json:"total_pages"`
		} `json:"pagination"`
	} `json:"meta"`
}

// get paces, breaks and performs one GET.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%s: %w", c.name, ErrNotConfigured)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, path, query)
	})
}

func (c *Client) do(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(c.name, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(c.name, "error").Inc()
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	metrics.ProviderRequests.WithLabelValues(c.name, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{Provider: c.name, Status: resp.StatusCode, Body: snippet}
	}
	return body, nil
}

// fetchAll walks every page of path and decodes the data arrays into T.
func fetchAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var all []T
	for p := 1; ; p++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(p))

		body, err := c.get(ctx, path, q)
		if err != nil {
			return nil, fmt.Errorf("%s %s page %d: %w", c.name, path, p, err)
		}

		var env page
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%s %s page %d: failed to decode envelope: %w", c.name, path, p, err)
		}
		var items []T
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &items); err != nil {
				return nil, fmt.Errorf("%s %s page %d: failed to decode data: %w", c.name, path, p, err)
			}
		}
		all = append(all, items...)

		if p >= env.Meta.Pagination.TotalPages {
			break
		}
	}
	return all, nil
}

// validator is any record that checks itself at the boundary.
type validator interface {
	Validate() error
}

// keepValid drops records that fail validation, logging and counting them.
func keepValid[T validator](provider string, rt models.RecordType, records []T) []T {
	out := records[:0]
	for _, r := range records {
		if err := r.Validate(); err != nil {
			metrics.RecordsRejected.WithLabelValues(string(rt)).Inc()
			log.Warn().Err(err).Str("provider", provider).Str("record_type", string(rt)).Msg("Dropping invalid provider record")
			continue
		}
		out = append(out, r)
	}
	return out
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		// GA4 reports dates as YYYYMMDD.
		t, err = time.Parse("20060102", raw)
	}
	return t, err
}

func parseTimestamp(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
