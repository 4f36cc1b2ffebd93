package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientConfig configures the HTTP adapter.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration // per attempt
	MaxRetries int
	Backoff    time.Duration // first retry delay, doubled each attempt
	RPS        float64       // 0 disables client-side limiting
}

// Client is a stateless JSON-over-HTTP adapter for the payment provider.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewClient builds the adapter. hc may be nil.
func NewClient(cfg ClientConfig, hc *http.Client, log *zap.SugaredLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if hc == nil {
		hc = &http.Client{}
	}
	c := &Client{cfg: cfg, http: hc, log: log}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return c
}

type initiateBody struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	ReturnURL string `json:"return_url"`
}

type initiateResp struct {
	TransactionID string `json:"transaction_id"`
	PaymentURL    string `json:"payment_url"`
}

type verifyResp struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

// Initiate creates a payment. Retries reuse one Idempotency-Key.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (Initiation, error) {
	body, err := json.Marshal(initiateBody{
		Amount:    req.Amount.StringFixed(2),
		Currency:  req.Currency,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		return Initiation{}, err
	}
	idemKey := uuid.NewString()

	var out initiateResp
	status, err := c.do(ctx, http.MethodPost, "/payments", body, idemKey, &out)
	if err != nil {
		return Initiation{}, err
	}
	if status >= 400 {
		return Initiation{}, fmt.Errorf("%w: initiate returned %d", ErrRejected, status)
	}
	if out.TransactionID == "" {
		return Initiation{}, fmt.Errorf("%w: empty transaction id", ErrRejected)
	}
	c.log.Infow("payment initiated", "transaction_id", out.TransactionID, "amount", req.Amount.StringFixed(2), "currency", req.Currency)
	return Initiation{TransactionID: out.TransactionID, PaymentURL: out.PaymentURL}, nil
}

// Verify asks the provider for the payment state. An unknown id is reported
// as a failed, unsettled payment rather than an error.
func (c *Client) Verify(ctx context.Context, transactionID string) (Verification, error) {
	var out verifyResp
	status, err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(transactionID), nil, "", &out)
	if err != nil {
		return Verification{}, err
	}
	if status == http.StatusNotFound {
		return Verification{TransactionID: transactionID, Status: StatusFailed}, nil
	}
	if status >= 400 {
		return Verification{}, fmt.Errorf("%w: verify returned %d", ErrRejected, status)
	}
	amount := decimal.Zero
	if out.Amount != "" {
		amount, err = decimal.NewFromString(out.Amount)
		if err != nil {
			return Verification{}, fmt.Errorf("%w: bad amount %q", ErrRejected, out.Amount)
		}
	}
	v := Verification{
		TransactionID: transactionID,
		Settled:       isSettled(out.Status),
		Status:        out.Status,
		Amount:        amount,
		Currency:      strings.ToUpper(out.Currency),
	}
	c.log.Infow("payment verified", "transaction_id", transactionID, "status", v.Status)
	return v, nil
}

// do performs the request with retries on transport errors and 5xx. It
// returns the final status code for non-retryable responses and decodes
// 2xx bodies into out.
func (c *Client) do(ctx context.Context, method, path string, body []byte, idemKey string, out interface{}) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.Backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return 0, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}

		status, err := c.attempt(ctx, method, path, body, idemKey, out)
		if err == nil && status < 500 {
			return status, nil
		}
		if err == nil {
			err = fmt.Errorf("status %d", status)
		}
		lastErr = err
		c.log.Warnw("payment gateway call failed", "method", method, "path", path, "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte, idemKey string, out interface{}) (int, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(actx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, rdr)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
