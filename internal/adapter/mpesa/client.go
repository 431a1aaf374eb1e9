// Package mpesa provides an HTTP client for the M-Pesa transaction status API.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/upeohq/staffdesk/internal/config"
	"github.com/upeohq/staffdesk/internal/domain/mpesa"
	"github.com/upeohq/staffdesk/internal/resilience"
)

// Client queries transaction status against the M-Pesa API.
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
	breaker        *resilience.Breaker

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a new M-Pesa status client.
func NewClient(cfg config.Mpesa) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.URL, "/"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// QueryStatus looks up one transaction by its receipt number.
func (c *Client) QueryStatus(ctx context.Context, transactionID string) (mpesa.Status, error) {
	body, err := json.Marshal(map[string]string{
		"TransactionID": transactionID,
	})
	if err != nil {
		return mpesa.Status{}, fmt.Errorf("marshal status query: %w", err)
	}

	resp, status, err := c.doRequest(ctx, http.MethodPost, "/mpesa/transactionstatus/v1/query", body)
	if err != nil {
		return mpesa.Status{}, fmt.Errorf("query transaction %s: %w", transactionID, err)
	}
	if status == http.StatusNotFound {
		return mpesa.Status{
			TransactionID: transactionID,
			Result:        mpesa.ResultNotFound,
			CheckedAt:     time.Now().UTC(),
		}, nil
	}

	var result struct {
		ResultCode int     `json:"ResultCode"`
		ResultDesc string  `json:"ResultDesc"`
		Amount     float64 `json:"Amount"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return mpesa.Status{}, fmt.Errorf("unmarshal status for %s: %w", transactionID, err)
	}

	return mpesa.Status{
		TransactionID: transactionID,
		Result:        mapResultCode(result.ResultCode, result.ResultDesc),
		ResultDesc:    result.ResultDesc,
		Amount:        result.Amount,
		CheckedAt:     time.Now().UTC(),
	}, nil
}

// mapResultCode folds the API's numeric result codes into our Result enum.
func mapResultCode(code int, desc string) mpesa.Result {
	switch code {
	case 0:
		return mpesa.ResultCompleted
	case 1:
		if strings.Contains(strings.ToLower(desc), "pending") {
			return mpesa.ResultPending
		}
		return mpesa.ResultFailed
	default:
		return mpesa.ResultFailed
	}
}

// token returns a cached OAuth access token, refreshing it when expired.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.consumerKey + ":" + c.consumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("mpesa token error %d: %s", resp.StatusCode, string(data))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", fmt.Errorf("unmarshal token: %w", err)
	}

	c.accessToken = tok.AccessToken
	// Tokens last an hour; refresh well before expiry.
	c.tokenExpiry = time.Now().Add(50 * time.Minute)
	return c.accessToken, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var (
		result []byte
		status int
	)
	call := func() error {
		tok, err := c.token(ctx)
		if err != nil {
			return err
		}

		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		status = resp.StatusCode
		if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf("mpesa API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, status, err
		}
		return result, status, nil
	}

	if err := call(); err != nil {
		return nil, status, err
	}
	return result, status, nil
}
