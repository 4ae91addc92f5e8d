package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/logging"
	"wheel-trader/pkg/utils"
)

// HTTPConfig tunes the shared REST transport.
type HTTPConfig struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             utils.RetryConfig

	// Breaker opens after this many consecutive failures and stays open
	// for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultHTTPConfig returns conservative defaults for retail broker APIs.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:           15 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		Retry:             utils.DefaultRetryConfig(),
		BreakerFailures:   5,
		BreakerCooldown:   30 * time.Second,
	}
}

// restClient is the rate-limited, circuit-broken JSON client shared by the
// broker integrations.
type restClient struct {
	provider string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	retry    utils.RetryConfig
	logger   zerolog.Logger
}

func newRESTClient(provider, baseURL string, cfg HTTPConfig, logger zerolog.Logger) *restClient {
	if cfg.Timeout <= 0 {
		cfg = DefaultHTTPConfig()
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	rc := &restClient{
		provider: provider,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1)),
		retry:    cfg.Retry,
		logger:   logger.With().Str("provider", provider).Logger(),
	}
	rc.retry.ShouldRetry = isTransient

	rc.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    provider,
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Client errors say nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			rc.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return rc
}

// request describes one API call.
type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	headers map[string]string
}

// do executes req and decodes a JSON response into out (which may be nil).
func (c *restClient) do(ctx context.Context, req request, out any) error {
	start := time.Now()
	err := utils.Retry(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.once(ctx, req, out)
		})
		switch err {
		case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests:
			return apperrors.Wrap(apperrors.ErrCircuitOpen, c.provider)
		}
		return err
	})
	logging.LogAPICall(logging.ForContext(ctx, c.logger), req.method, req.path, time.Since(start), err)
	return err
}

func (c *restClient) once(ctx context.Context, req request, out any) error {
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", req.path, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return fmt.Errorf("building %s request: %w", req.path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewBrokerError(c.provider, 0, req.path, apperrors.Wrap(apperrors.ErrConnectionFailed, err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewBrokerError(c.provider, resp.StatusCode, "reading response", apperrors.ErrConnectionFailed)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewBrokerError(c.provider, resp.StatusCode, "decoding response",
			apperrors.Wrap(apperrors.ErrMalformedRecord, err.Error()))
	}
	return nil
}

// statusError maps an HTTP failure onto the error taxonomy.
func (c *restClient) statusError(status int, body []byte) error {
	msg := extractErrorMessage(body)

	var sentinel error
	switch {
	case status == http.StatusUnauthorized:
		sentinel = apperrors.ErrSessionExpired
	case status == http.StatusForbidden:
		sentinel = apperrors.ErrNotAuthenticated
	case status == http.StatusNotFound:
		sentinel = apperrors.ErrDataNotFound
	case status == http.StatusTooManyRequests:
		sentinel = apperrors.ErrRateLimited
	case status >= 500:
		sentinel = apperrors.ErrConnectionFailed
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		sentinel = apperrors.ErrOrderRejected
	}
	return apperrors.NewBrokerError(c.provider, status, msg, sentinel)
}

// extractErrorMessage pulls a message out of common error payload shapes.
func extractErrorMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Fault   struct {
			FaultString string `json:"faultstring"`
		} `json:"fault"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return truncate(string(body), 200)
	}

	if len(payload.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var s string
		if json.Unmarshal(payload.Error, &s) == nil && s != "" {
			return s
		}
	}
	if payload.Message != "" {
		return payload.Message
	}
	if payload.Fault.FaultString != "" {
		return payload.Fault.FaultString
	}
	return truncate(string(body), 200)
}

// isTransient reports whether err is worth retrying.
func isTransient(err error) bool {
	if apperrors.Is(err, apperrors.ErrRateLimited) || apperrors.Is(err, apperrors.ErrConnectionFailed) {
		return true
	}
	var netErr net.Error
	return apperrors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
