// Package client talks to the PayScan HTTP API on behalf of a signed-in user.
// It satisfies the extractor and store dependencies of the ingestion machine,
// so the capture flow can run outside the server.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dvloznov/payscan/internal/domain"
	"github.com/dvloznov/payscan/internal/view"
)

// DefaultTimeout bounds a single API call. Extraction is bounded by the server.
const DefaultTimeout = 60 * time.Second

// APIError is a non-2xx response that does not map onto a domain error.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

// Client is a thin wrapper over the PayScan REST endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract sends a screenshot to /extractDetails and returns the raw model text.
func (c *Client) Extract(ctx context.Context, image []byte, mimeType string) (string, error) {
	body := map[string]string{
		"image":    base64.StdEncoding.EncodeToString(image),
		"mimeType": mimeType,
	}
	resp, err := c.do(ctx, http.MethodPost, "/extractDetails", nil, body)
	if err != nil {
		return "", fmt.Errorf("Extract: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("Extract: %w: reading response: %v", domain.ErrExtractionFailed, err)
	}
	return string(raw), nil
}

// Insert stores a new transaction and returns its id.
func (c *Client) Insert(ctx context.Context, d domain.Draft) (string, error) {
	d.ID = ""
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/transactions", nil, d, &out); err != nil {
		return "", fmt.Errorf("Insert: %w", err)
	}
	return out.ID, nil
}

// Submit stores a draft, overwriting the record when the draft has an id.
func (c *Client) Submit(ctx context.Context, d domain.Draft) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/transactions", nil, d, &out); err != nil {
		return "", fmt.Errorf("Submit: %w", err)
	}
	return out.ID, nil
}

// Patch updates the set fields of a transaction.
func (c *Client) Patch(ctx context.Context, id string, p domain.Patch) error {
	if err := c.doJSON(ctx, http.MethodPatch, "/api/transactions/"+url.PathEscape(id), nil, p, nil); err != nil {
		return fmt.Errorf("Patch: %w", err)
	}
	return nil
}

// Delete removes a transaction. Deleting a missing id succeeds.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/api/transactions/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// List returns the caller's transactions with q applied by the server.
func (c *Client) List(ctx context.Context, q view.Query) ([]domain.Record, error) {
	var out []domain.Record
	if err := c.doJSON(ctx, http.MethodGet, "/api/transactions", q.Values(), nil, &out); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return out, nil
}

// Summary returns chart totals for the filtered list.
func (c *Client) Summary(ctx context.Context, q view.Query) (view.Summary, error) {
	var out view.Summary
	if err := c.doJSON(ctx, http.MethodGet, "/api/transactions/summary", q.Values(), nil, &out); err != nil {
		return view.Summary{}, fmt.Errorf("Summary: %w", err)
	}
	return out, nil
}

// Report returns report rows and totals for the filtered list.
func (c *Client) Report(ctx context.Context, q view.Query) (view.Report, error) {
	var out view.Report
	if err := c.doJSON(ctx, http.MethodGet, "/api/transactions/report", q.Values(), nil, &out); err != nil {
		return view.Report{}, fmt.Errorf("Report: %w", err)
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	resp, err := c.do(ctx, method, path, query, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// do sends the request and turns error statuses into errors. On success the
// caller owns resp.Body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in any) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if path == "/extractDetails" {
			return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusError(resp, path)
}

func statusError(resp *http.Response, path string) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return domain.ErrUnauthenticated
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrInvalidDraft, msg)
	case http.StatusBadGateway:
		return fmt.Errorf("%w: %s", domain.ErrExtractionFailed, msg)
	case http.StatusBadRequest:
		if resp.Request != nil && resp.Request.Method == http.MethodGet {
			return fmt.Errorf("%w: %s", view.ErrInvalidQuery, msg)
		}
	case http.StatusNotFound:
		if strings.HasSuffix(path, "/report") {
			return view.ErrNothingToReport
		}
	}
	if path == "/extractDetails" {
		return fmt.Errorf("%w: %w", domain.ErrExtractionFailed, &APIError{Status: resp.StatusCode, Message: msg})
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
