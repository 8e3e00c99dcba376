package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxRetries    = 3
	baseRetryWait = 250 * time.Millisecond
	recvWindow    = 5000
)

// APIError is a non-2xx answer from the exchange. Code and Msg come from the
// JSON error body when one is present.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("http %d: code %d: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("http %d", e.Status)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger

	apiKey    string
	secretKey string
	now       func() time.Time
	retryWait time.Duration
}

// New builds a client. A nil limiter disables client-side rate limiting.
func New(baseURL string, timeout time.Duration, limiter *rate.Limiter, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
		limiter:   limiter,
		log:       log,
		now:       time.Now,
		retryWait: baseRetryWait,
	}
}

// WithCredentials returns a copy able to send signed requests.
func (c *Client) WithCredentials(apiKey, secretKey string) *Client {
	cp := *c
	cp.apiKey = apiKey
	cp.secretKey = secretKey
	return &cp
}

// Get sends an unsigned public request and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, false, out)
}

// Signed sends a request carrying timestamp, recvWindow and an HMAC-SHA256
// signature of the query string.
func (c *Client) Signed(ctx context.Context, method, path string, params url.Values, out any) error {
	if c.apiKey == "" || c.secretKey == "" {
		return errors.New("api credentials are required for signed requests")
	}
	return c.do(ctx, method, path, params, true, out)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		err := c.once(ctx, method, path, params, signed, out)
		if err == nil {
			return nil
		}
		lastErr = err
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// order placement is not retried here; the executor owns that retry
		// so it can keep the client order id stable
		if method != http.MethodGet {
			return err
		}
		if attempt == maxRetries {
			break
		}
		c.log.Debug("rest request retry", zap.String("path", path), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryWait << attempt):
		}
	}
	return fmt.Errorf("request failed after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) once(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	query := url.Values{}
	for k, v := range params {
		query[k] = append([]string(nil), v...)
	}
	if signed {
		query.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		query.Set("recvWindow", strconv.Itoa(recvWindow))
	}
	encoded := query.Encode()
	if signed {
		encoded += "&signature=" + Sign(c.secretKey, encoded)
	}
	target := c.baseURL + path
	if encoded != "" {
		target += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
