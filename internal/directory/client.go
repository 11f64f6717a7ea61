// Package directory is the HTTP client of the external user directory.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/cuongbtq/dirsync/internal/reconcile"
)

const usersPath = "/api/v1/users"

// Config holds the external directory client configuration
type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	PageSize  int
	RateLimit float64
	RateBurst int

	BreakerMaxRequests      uint32
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration
	BreakerFailureThreshold uint32
}

// Client talks to the external directory API
type Client struct {
	config  *Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ reconcile.Store[*Entry] = (*Client)(nil)

// NewClient creates a new directory client
func NewClient(config *Config, logger *slog.Logger) *Client {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.RateBurst
	if burst <= 0 {
		burst = 1
	}

	threshold := config.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	client := &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}

	client.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "directory-client",
		MaxRequests: config.BreakerMaxRequests,
		Interval:    config.BreakerInterval,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var transient *reconcile.TransientError
			return !errors.As(err, &transient)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return client
}

type listResponse struct {
	Users    []*Entry `json:"users"`
	NextPage int      `json:"next_page"`
}

// LoadAll pages through every user and keeps those matching filter
func (c *Client) LoadAll(ctx context.Context, filter reconcile.KeyFilter) ([]*Entry, error) {
	pageSize := c.config.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	var entries []*Entry
	for page := 1; page > 0; {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(pageSize))

		var resp listResponse
		if err := c.do(ctx, http.MethodGet, usersPath, query, nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to list users page %d: %w", page, err)
		}

		for _, e := range resp.Users {
			if filter.Match(e.Email) {
				entries = append(entries, e)
			}
		}

		if resp.NextPage <= page {
			break
		}
		page = resp.NextPage
	}

	c.logger.Debug("Directory users loaded",
		slog.Int("count", len(entries)),
		slog.String("filter", filter.String()),
	)

	return entries, nil
}

// LoadByKey fetches the user with the normalized email key
func (c *Client) LoadByKey(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	if err := c.do(ctx, http.MethodGet, userPath(key), nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// FindByLogin fetches the user owning login
func (c *Client) FindByLogin(ctx context.Context, login string) (*Entry, error) {
	query := url.Values{}
	query.Set("login", login)

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, usersPath, query, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, reconcile.ErrRecordNotFound
	}
	return resp.Users[0], nil
}

// Create adds a user, filling in the id and modification time assigned by the directory
func (c *Client) Create(ctx context.Context, e *Entry) error {
	return c.do(ctx, http.MethodPost, usersPath, nil, e, e)
}

// Update replaces a user
func (c *Client) Update(ctx context.Context, e *Entry) error {
	return c.do(ctx, http.MethodPut, userPath(e.Key()), nil, e, e)
}

// Delete removes a user
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, userPath(key), nil, nil, nil)
}

// Schema fetches the field definitions of the directory
func (c *Client) Schema(ctx context.Context) (*Schema, error) {
	var s Schema
	if err := c.do(ctx, http.MethodGet, "/api/v1/fields", nil, nil, &s); err != nil {
		return nil, fmt.Errorf("failed to fetch schema: %w", err)
	}
	return &s, nil
}

func userPath(key string) string {
	return usersPath + "/" + url.PathEscape(reconcile.NormalizeKey(key))
}

// do sends one rate-limited request through the circuit breaker and decodes
// the JSON response into out
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.send(ctx, method, path, query, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return reconcile.NewTransientError(pkgerrors.Wrapf(err, "%s %s", method, path))
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return reconcile.NewTransientError(pkgerrors.Wrapf(err, "%s %s", method, path))
	}
	defer resp.Body.Close()

	if err := statusError(method, path, resp); err != nil {
		c.logger.Debug("Directory request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return err
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrapf(err, "failed to decode %s %s response", method, path)
	}
	return nil
}

// statusError maps a non-2xx response to the reconcile error taxonomy
func statusError(method, path string, resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return reconcile.ErrRecordNotFound
	case code == http.StatusConflict:
		return reconcile.ErrAlreadyExists
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := pkgerrors.Errorf("%s %s: status %d: %s", method, path, code, strings.TrimSpace(string(msg)))

	if code == http.StatusTooManyRequests || code >= 500 {
		return reconcile.NewTransientError(err)
	}
	return err
}
