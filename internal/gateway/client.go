package gateway

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
	"strings"
	"time"
)

const (
	requestTimeout = 30 * time.Second
	maxAttempts    = 3
)

// Client issues the gateway REST calls the payment flow depends on. It is
// constructed once from configuration and shared; it holds no per-request
// state beyond the credential cache.
type Client struct {
	http        *http.Client
	credentials *Credentials
	version     *Version
	environment string
	baseURL     string

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

type ClientParams struct {
	Credentials *Credentials
	Version     *Version
	Environment string

	// BaseURL overrides the version's environment URL when set. Used for
	// proxies and tests.
	BaseURL string
}

func NewClient(params ClientParams) *Client {
	c := &Client{
		http:        &http.Client{Timeout: requestTimeout},
		credentials: params.Credentials,
		version:     params.Version,
		environment: params.Environment,
		baseURL:     params.BaseURL,
		sleep:       sleepCtx,
	}

	if c.baseURL == "" {
		c.baseURL = c.version.BaseURL(c.environment)
	}

	slog.Info("gateway client configured",
		"environment", c.environment,
		"api_version", c.version.String(),
		"base_url", c.baseURL)

	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CallOptions carries per-request correlation settings.
type CallOptions struct {
	// IdempotencyKey, when set, is sent instead of a generated one so
	// retries of the same logical operation collapse upstream.
	IdempotencyKey string
	// ScenarioKey drives sandbox test scenarios; ignored on versions
	// without scenario support.
	ScenarioKey string
}

// CreateCustomer registers a customer upstream.
func (c *Client) CreateCustomer(ctx context.Context, req CustomerRequest, opts CallOptions) (*Customer, error) {
	var cust Customer
	if _, err := c.do(ctx, http.MethodPost, "/customers", req, &cust, true, opts); err != nil {
		return nil, err
	}

	return &cust, nil
}

// FindCustomerByEmail looks up an existing customer. A nil Customer with a
// nil error means no customer carries that email.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var customers []Customer

	path := "/customers?email=" + url.QueryEscape(email)
	if _, err := c.do(ctx, http.MethodGet, path, nil, &customers, false, CallOptions{}); err != nil {
		var gerr *Error
		if errors.As(err, &gerr) && gerr.Code == CodeNotFound {
			return nil, nil
		}

		return nil, err
	}

	if len(customers) == 0 {
		return nil, nil
	}

	return &customers[0], nil
}

// CreatePaymentMethod registers a payment method upstream. Card payloads
// must already be encrypted.
func (c *Client) CreatePaymentMethod(ctx context.Context, req PaymentMethodRequest, opts CallOptions) (*PaymentMethod, error) {
	var pm PaymentMethod
	if _, err := c.do(ctx, http.MethodPost, "/payment-methods", req, &pm, true, opts); err != nil {
		return nil, err
	}

	return &pm, nil
}

// CreateCharge initiates a charge. The returned Charge may carry a
// NextAction the caller must satisfy before the charge completes.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest, opts CallOptions) (*Charge, bool, error) {
	var charge Charge

	cacheHit, err := c.do(ctx, http.MethodPost, "/charges", req, &charge, true, opts)
	if err != nil {
		return nil, false, err
	}

	return &charge, cacheHit, nil
}

// AuthorizeCharge submits an authorization (PIN, OTP or AVS) for a charge
// awaiting one.
func (c *Client) AuthorizeCharge(ctx context.Context, chargeID string, auth Authorization, opts CallOptions) (*Charge, error) {
	body := struct {
		Authorization Authorization `json:"authorization"`
	}{Authorization: auth}

	var charge Charge
	if _, err := c.do(ctx, http.MethodPut, "/charges/"+chargeID, body, &charge, true, opts); err != nil {
		return nil, err
	}

	return &charge, nil
}

// GetCharge fetches a charge for verification.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	var charge Charge
	if _, err := c.do(ctx, http.MethodGet, "/charges/"+chargeID, nil, &charge, false, CallOptions{}); err != nil {
		return nil, err
	}

	return &charge, nil
}

// do executes one API call with version-compatible headers and the retry
// policy: server errors back off exponentially up to the attempt budget,
// client errors fail immediately. It reports whether the gateway served
// the call from its idempotency cache.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any, idempotent bool, opts CallOptions) (bool, error) {
	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("encoding request body: %w", err)
		}
	}

	headers := c.headers(ctx, idempotent, opts)
	u := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimPrefix(endpoint, "/"))

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cacheHit, err := c.doOnce(ctx, method, u, headers, payload, out)
		if err == nil {
			return cacheHit, nil
		}

		lastErr = err

		var gerr *Error
		if !errors.As(err, &gerr) || !gerr.Retryable() || attempt == maxAttempts {
			return false, err
		}

		delay := retryDelay(attempt)
		slog.Warn("gateway request failed, retrying",
			"method", method, "endpoint", endpoint,
			"attempt", attempt, "delay", delay, "error", gerr.LogMessage())

		if err := c.sleep(ctx, delay); err != nil {
			return false, err
		}
	}

	return false, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, url string, headers map[string]string, payload []byte, out any) (bool, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	cacheHit := resp.Header.Get("X-Idempotency-Cache-Hit") == "true"

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var env errorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return cacheHit, classify(resp.StatusCode, nil)
		}

		return cacheHit, classify(resp.StatusCode, &env)
	}

	if out == nil {
		return cacheHit, nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return cacheHit, fmt.Errorf("decoding response: %w", err)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return cacheHit, fmt.Errorf("decoding response data: %w", err)
	}

	return cacheHit, nil
}

func (c *Client) headers(ctx context.Context, idempotent bool, opts CallOptions) map[string]string {
	base := c.credentials.AuthHeaders(ctx)

	if idempotent {
		key := opts.IdempotencyKey
		if key == "" {
			key = c.credentials.NewIdempotencyKey()
		}

		base["X-Idempotency-Key"] = key
	}

	base["X-Trace-Id"] = c.credentials.NewTraceID()

	if opts.ScenarioKey != "" {
		base["X-Scenario-Key"] = opts.ScenarioKey
	}

	return c.version.CompatibleHeaders(base, HeaderOptions{
		IncludeV4Headers: true,
		IncludeScenarios: opts.ScenarioKey != "",
	})
}
