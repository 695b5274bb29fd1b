// Package sdk is the Go client for the payment engine's tenant API:
// submit ISO 20022 payments, follow flow progress, and inspect webhook
// delivery status.
//
// Quick start:
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL: "https://payments.example.com",
//	    APIKey:  os.Getenv("PE_API_KEY"),
//	})
//
//	outcome, err := client.SubmitPayment(ctx, sdk.PaymentRequest{
//	    PaymentType:  "RTP",
//	    ResponseMode: sdk.ModeSync,
//	    Message:      pain001,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if outcome.State == sdk.StateEmitted {
//	    // Cleared. outcome.ClientAck carries the pain.002 acknowledgement.
//	}
//
// Asynchronous submissions return a receipt immediately; poll with
// WaitForFlow or receive the result on a registered webhook (see Receiver).
package sdk

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
	"time"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the engine endpoint (required).
	// Examples: "https://payments.example.com", "http://localhost:8080"
	BaseURL string

	// APIKey is the tenant API key, "pe_<tenant>.<secret>" (required).
	APIKey string

	// Timeout bounds each request (default 30s). SYNC submissions should
	// allow for the engine's flow deadline.
	Timeout time.Duration

	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client

	// OnRejected is called when a submission lands on FLOW_REJECTED.
	OnRejected func(outcome *Outcome)

	// OnFallback is called when a submission degrades to FALLBACK_EMITTED,
	// meaning the clearing leg failed and a reject acknowledgement was
	// synthesized.
	OnFallback func(outcome *Outcome)
}

// Client talks to one payment engine on behalf of one tenant.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a client.
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL: "https://payments.example.com",
//	    APIKey:  os.Getenv("PE_API_KEY"),
//	})
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{config: cfg, httpClient: hc}
}

// APIError is a non-2xx answer from the engine.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payments-sdk: server returned %d: %s", e.StatusCode, e.Message)
}

// NotFound reports whether the error is a 404, which for flow and delivery
// lookups means the correlation id is unknown (or belongs to another tenant).
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// SubmitPayment sends one payment through the engine.
//
// The returned Outcome is meaningful even when the flow was rejected: a
// 422 answer decodes into an Outcome in FLOW_REJECTED with the reject
// acknowledgement in ClientAck. Only transport failures and non-flow
// errors (auth, malformed envelope) surface as an error.
func (c *Client) SubmitPayment(ctx context.Context, req PaymentRequest) (*Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("payments-sdk: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/api/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payments-sdk: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payments-sdk: submit failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("payments-sdk: read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusUnprocessableEntity:
	default:
		return nil, decodeError(resp.StatusCode, respBody)
	}

	var outcome Outcome
	if err := json.Unmarshal(respBody, &outcome); err != nil {
		return nil, fmt.Errorf("payments-sdk: parse outcome: %w", err)
	}

	switch outcome.State {
	case StateFlowRejected:
		if c.config.OnRejected != nil {
			c.config.OnRejected(&outcome)
		}
	case StateFallbackEmitted:
		if c.config.OnFallback != nil {
			c.config.OnFallback(&outcome)
		}
	}
	return &outcome, nil
}

// Flow fetches the current status of one flow by correlation id.
func (c *Client) Flow(ctx context.Context, correlationID string) (*FlowStatus, error) {
	var status FlowStatus
	if err := c.get(ctx, "/api/v1/flows/"+url.PathEscape(correlationID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Transitions fetches the full audit trail of one flow, oldest first.
func (c *Client) Transitions(ctx context.Context, correlationID string) ([]TrailEntry, error) {
	var trail struct {
		CorrelationID string       `json:"correlationId"`
		Entries       []TrailEntry `json:"entries"`
	}
	path := "/api/v1/flows/" + url.PathEscape(correlationID) + "/transitions"
	if err := c.get(ctx, path, &trail); err != nil {
		return nil, err
	}
	return trail.Entries, nil
}

// Deliveries fetches the webhook deliveries spawned by one flow.
func (c *Client) Deliveries(ctx context.Context, correlationID string) ([]Delivery, error) {
	var out []Delivery
	path := "/api/v1/webhooks/deliveries/" + url.PathEscape(correlationID)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeliveryHistory lists the tenant's finished deliveries, newest first.
// messageType filters when non-empty; limit 0 means no limit.
func (c *Client) DeliveryHistory(ctx context.Context, messageType string, limit int) ([]Delivery, error) {
	q := url.Values{}
	if messageType != "" {
		q.Set("messageType", messageType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/webhooks/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Delivery
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ServicesHealth reports breaker and probe state for the tenant's
// downstream services.
func (c *Client) ServicesHealth(ctx context.Context) (*ServicesHealth, error) {
	var out ServicesHealth
	if err := c.get(ctx, "/api/v1/services/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InvalidateCache drops the engine's cached policy for this tenant, so the
// next flow resolves against fresh configuration.
func (c *Client) InvalidateCache(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/api/v1/admin/cache/invalidate", bytes.NewReader([]byte(`{"scope":"tenant"}`)))
	if err != nil {
		return fmt.Errorf("payments-sdk: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("payments-sdk: invalidate failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, body)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// WaitForFlow polls until the flow reaches a terminal state or ctx expires.
// Not-found answers are tolerated while polling: an asynchronous flow may
// not have recorded its first transition when the receipt comes back.
// every defaults to 2s when zero.
func (c *Client) WaitForFlow(ctx context.Context, correlationID string, every time.Duration) (*FlowStatus, error) {
	if every <= 0 {
		every = 2 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		status, err := c.Flow(ctx, correlationID)
		if err != nil {
			var apiErr *APIError
			if !errors.As(err, &apiErr) || !apiErr.NotFound() {
				return nil, err
			}
		} else if status.Terminal {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("payments-sdk: waiting for flow %s: %w", correlationID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("payments-sdk: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("payments-sdk: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("payments-sdk: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("payments-sdk: parse response: %w", err)
	}
	return nil
}

func decodeError(code int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return &APIError{StatusCode: code, Message: e.Error}
	}
	return &APIError{StatusCode: code, Message: http.StatusText(code)}
}
