// Package directory provides an HTTP client for the identity directory admin API.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/upeohq/staffdesk/internal/config"
	"github.com/upeohq/staffdesk/internal/domain/identity"
	"github.com/upeohq/staffdesk/internal/port/directory"
	"github.com/upeohq/staffdesk/internal/resilience"
)

// Client talks to the identity directory admin API.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new directory admin client.
func NewClient(cfg config.Directory) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// List returns one page of directory accounts. page starts at 1.
func (c *Client) List(ctx context.Context, page, perPage int) ([]identity.Account, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	resp, err := c.doRequest(ctx, http.MethodGet, "/admin/users?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("list accounts page %d: %w", page, err)
	}

	var result struct {
		Users []identity.Account `json:"users"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal accounts: %w", err)
	}
	return result.Users, nil
}

// Create registers a new account in the directory.
func (c *Client) Create(ctx context.Context, params identity.CreateParams) (*identity.Account, error) {
	body, err := json.Marshal(map[string]any{
		"email":    params.Email,
		"password": params.Password,
		"metadata": params.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal create account: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/admin/users", body)
	if err != nil {
		if isAlreadyRegistered(err) {
			return nil, fmt.Errorf("create account %s: %w", params.Email, directory.ErrAlreadyRegistered)
		}
		return nil, fmt.Errorf("create account %s: %w", params.Email, err)
	}

	var acct identity.Account
	if err := json.Unmarshal(resp, &acct); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &acct, nil
}

// UpdateByID rotates the credential and/or replaces metadata on an account.
func (c *Client) UpdateByID(ctx context.Context, id string, params identity.UpdateParams) (*identity.Account, error) {
	payload := map[string]any{}
	if params.Password != nil {
		payload["password"] = *params.Password
	}
	if params.Metadata != nil {
		payload["metadata"] = *params.Metadata
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal update account: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(id), body)
	if err != nil {
		return nil, fmt.Errorf("update account %s: %w", id, err)
	}

	var acct identity.Account
	if err := json.Unmarshal(resp, &acct); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &acct, nil
}

// apiError carries the status code of a non-2xx directory response.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("directory API error %d: %s", e.status, e.body)
}

// isAlreadyRegistered matches the directory's duplicate-email rejection:
// 422 with an "already registered" message, or a plain 409.
func isAlreadyRegistered(err error) bool {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.status == http.StatusConflict {
		return true
	}
	return apiErr.status == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(apiErr.body), "already registered")
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.serviceKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.serviceKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return &apiError{status: resp.StatusCode, body: string(data)}
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
