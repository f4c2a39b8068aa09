// Package notionapi is a small client for the Notion REST API (v1). Every method performs
// exactly one API call and returns the raw JSON payload Notion answered with, so callers
// can forward it verbatim.
package notionapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// Config configures a Client.
type Config struct {
	Token   string
	BaseURL string

	// MaxRetries bounds the retries of requests that failed with 429, a 5xx status or a
	// connection error. Retry-After is honored.
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RequestsPerSecond throttles outgoing calls across every caller of the Client.
	RequestsPerSecond float64

	Logger     *slog.Logger
	HTTPClient *http.Client
}

// Client talks to the Notion API. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// APIError is a non-2xx answer from Notion.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

const (
	// DefaultBaseURL is the public Notion API endpoint.
	DefaultBaseURL = "https://api.notion.com/v1"
	// Version is the Notion-Version header sent with every request.
	Version = "2022-06-28"

	// DefaultRequestsPerSecond is Notion's published average rate limit per integration.
	DefaultRequestsPerSecond = 3
	// DefaultMaxRetries is used when Config.MaxRetries is zero.
	DefaultMaxRetries = 3

	maxErrorBodySize = 64 << 10
)

// ErrMissingToken is returned by New when no integration token is configured.
var ErrMissingToken = errors.New("notion api token is required")

// ErrInvalidID is returned when an id can't be placed in an API path.
var ErrInvalidID = errors.New("invalid notion id")

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingToken
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(
		slog.String("package", "notion-mcp"),
		slog.String("component", "notionapi"),
	)

	httpClient := retryablehttp.NewClient()
	if cfg.HTTPClient != nil {
		httpClient.HTTPClient = cfg.HTTPClient
	}
	// A negative value disables retries.
	httpClient.RetryMax = max(cfg.MaxRetries, 0)
	if cfg.RetryWaitMin > 0 {
		httpClient.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		httpClient.RetryWaitMax = cfg.RetryWaitMax
	}
	httpClient.Logger = logger
	// Hand the last response back instead of a generic "giving up" error, so Notion's own
	// error message reaches the caller.
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	burst := max(int(cfg.RequestsPerSecond), 1)

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:  logger,
	}, nil
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("notion api returned status %d", e.Status)
}

// IsNotFound reports whether err is a 404 from Notion.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	// Ids are escaped into single segments, but "", "." and ".." would still move the path.
	for _, segment := range strings.Split(path, "/")[1:] {
		if segment == "" || segment == "." || segment == ".." {
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrInvalidID)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody any
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s request: %w", method, path, err)
		}
		reqBody = payload
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", Version)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, readAPIError(res)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s %s: response is not valid JSON", method, path)
	}

	c.logger.Debug("notion call done",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", res.StatusCode))

	return data, nil
}

func readAPIError(res *http.Response) error {
	apiErr := &APIError{Status: res.StatusCode}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxErrorBodySize))
	if err == nil && len(body) > 0 {
		if jErr := json.Unmarshal(body, apiErr); jErr != nil {
			apiErr.Message = strings.TrimSpace(string(body))
		}
	}
	// The body's status, when present, mirrors the HTTP one.
	apiErr.Status = res.StatusCode
	return apiErr
}
