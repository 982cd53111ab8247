// Package libraryapi is a client for the notification endpoints of the library
// REST API.
package libraryapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lllypuk/libranotify/internal/domain/errs"
	"github.com/lllypuk/libranotify/internal/domain/notification"
	"github.com/lllypuk/libranotify/internal/infrastructure/auth"
)

// Default client configuration constants.
const (
	DefaultBaseURL     = "http://localhost:8080/api"
	DefaultHTTPTimeout = 30 * time.Second

	maxErrorBodySize = 4 << 10
	maxBodySize      = 8 << 20
)

// Config contains configuration for Client.
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:8080/api.
	BaseURL string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// Client calls the notification endpoints with the current bearer token.
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
}

// StatusError describes a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	kind       error
}

// Error implements error.
func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap returns the errs classification of the status code.
func (e *StatusError) Unwrap() error {
	return e.kind
}

// NewClient creates a new library API client.
func NewClient(config Config, tokens auth.TokenSource) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: DefaultHTTPTimeout,
		}
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		httpClient: httpClient,
	}
}

// ListNotifications handles GET /notifications.
func (c *Client) ListNotifications(ctx context.Context) ([]notification.Notification, error) {
	body, err := c.do(ctx, http.MethodGet, "/notifications")
	if err != nil {
		return nil, err
	}

	list, err := notification.DecodeList(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return list, nil
}

// UnreadCount handles GET /notifications/unread-count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	body, err := c.do(ctx, http.MethodGet, "/notifications/unread-count")
	if err != nil {
		return 0, err
	}

	count, err := notification.DecodeUnreadCount(body)
	if err != nil {
		return 0, fmt.Errorf("failed to decode unread count: %w", err)
	}
	return count, nil
}

// MarkAsRead handles POST /notifications/{id}/mark-read.
func (c *Client) MarkAsRead(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodPost, "/notifications/"+strconv.FormatInt(id, 10)+"/mark-read")
	return err
}

// MarkAllAsRead handles POST /notifications/mark-all-read.
func (c *Client) MarkAllAsRead(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/notifications/mark-all-read")
	return err
}

// do performs an authenticated request and returns the response body.
func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrNoToken) {
			return nil, fmt.Errorf("%s %s: %w", method, path, errs.ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, errs.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			kind:       classifyStatus(resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// classifyStatus maps an HTTP status to an errs sentinel.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errs.ErrUnauthorized
	case code == http.StatusNotFound:
		return errs.ErrNotFound
	case code == http.StatusBadRequest:
		return errs.ErrInvalidInput
	case code >= http.StatusInternalServerError:
		return errs.ErrUnavailable
	default:
		return errs.ErrUnexpectedStatus
	}
}
