// Package mutation performs product-scoped POST mutations against the storefront and
// decodes their JSON results.
package mutation

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

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"finitefield.org/storefront-sync/internal/observability"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultTokenHeader  = "X-CSRFToken"
	requestIDHeader     = "X-Request-ID"
	requestedWithHeader = "X-Requested-With"
	productPlaceholder  = "{productId}"
	maxBodyBytes        = 1 << 20
)

var (
	// ErrNetworkFailure indicates no usable response was received.
	ErrNetworkFailure = errors.New("mutation: network failure")
	// ErrMalformedResponse indicates the response body was not the expected JSON object.
	ErrMalformedResponse = errors.New("mutation: malformed response")
	// ErrInvalidRequest indicates the endpoint or product reference could not form a request.
	ErrInvalidRequest = errors.New("mutation: invalid request")
)

// Endpoint is a path template containing the {productId} placeholder, e.g. /cart/add/{productId}/.
type Endpoint string

// Path substitutes the escaped product reference into the template.
func (e Endpoint) Path(ref ProductRef) (string, error) {
	tmpl := strings.TrimSpace(string(e))
	if !strings.Contains(tmpl, productPlaceholder) {
		return "", fmt.Errorf("%w: endpoint %q lacks %s", ErrInvalidRequest, tmpl, productPlaceholder)
	}
	if !ref.Valid() {
		return "", fmt.Errorf("%w: empty product reference", ErrInvalidRequest)
	}
	return strings.ReplaceAll(tmpl, productPlaceholder, url.PathEscape(strings.TrimSpace(string(ref)))), nil
}

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Mutator is implemented by Client; widgets depend on this so tests can substitute it.
type Mutator interface {
	Mutate(ctx context.Context, endpoint Endpoint, ref ProductRef, token string) (Result, error)
}

// Client issues mutation requests against one storefront origin. Requests are never
// retried: adding to the cart is not idempotent.
type Client struct {
	base        *url.URL
	http        HTTPClient
	tokenHeader string
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	logger      *zap.Logger
	tracer      trace.Tracer
	meter       metric.Meter
	requests    metric.Int64Counter
	latency     metric.Float64Histogram
	newID       func() string
}

// Option customises a Client.
type Option func(*Client)

// WithTokenHeader overrides the header carrying the CSRF token.
func WithTokenHeader(name string) Option {
	return func(c *Client) {
		if strings.TrimSpace(name) != "" {
			c.tokenHeader = strings.TrimSpace(name)
		}
	}
}

// WithTimeout bounds each mutation. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCircuitBreaker makes calls fail fast after failures consecutive network
// failures, until cooldown has passed.
func WithCircuitBreaker(failures int, cooldown time.Duration) Option {
	return func(c *Client) {
		if failures <= 0 {
			return
		}
		c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        "storefront-mutations",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(failures)
			},
			IsSuccessful: func(err error) bool {
				// Only transport failures say anything about the storefront's health.
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(c *Client) {
		if m != nil {
			c.meter = m
		}
	}
}

// WithIDGenerator overrides the X-Request-ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewClient constructs a client for the storefront at baseURL. httpClient should carry
// the session cookie jar so requests travel with same-origin credentials.
func NewClient(baseURL string, httpClient HTTPClient, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("mutation: base URL is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("mutation: parse base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("mutation: base URL %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		base:        parsed,
		http:        httpClient,
		tokenHeader: defaultTokenHeader,
		timeout:     defaultTimeout,
		logger:      zap.NewNop(),
		tracer:      observability.Tracer("mutation"),
		meter:       observability.Meter("mutation"),
		newID:       func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(c)
	}

	c.requests, err = c.meter.Int64Counter(
		"storefront.mutation.requests",
		metric.WithDescription("Count of mutation requests by endpoint and outcome"),
	)
	if err != nil {
		c.logger.Warn("mutation: unable to register request metric", zap.Error(err))
	}
	c.latency, err = c.meter.Float64Histogram(
		"storefront.mutation.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of mutation requests"),
	)
	if err != nil {
		c.logger.Warn("mutation: unable to register latency metric", zap.Error(err))
	}
	return c, nil
}

// Mutate POSTs to endpoint for ref with token attached. A 401 yields
// OutcomeUnauthenticated and no error; every other status has its body decoded.
func (c *Client) Mutate(ctx context.Context, endpoint Endpoint, ref ProductRef, token string) (Result, error) {
	path, err := endpoint.Path(ref)
	if err != nil {
		return Result{}, err
	}
	target, err := c.resolve(path)
	if err != nil {
		return Result{}, err
	}
	requestID := c.newID()

	ctx, span := c.tracer.Start(ctx, "mutation.Mutate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("storefront.endpoint", string(endpoint)),
		attribute.String("storefront.product_id", observability.SanitizeProductRef(string(ref))),
		attribute.String("storefront.request_id", requestID),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logger := c.logger.With(
		zap.String("endpoint", string(endpoint)),
		zap.String("product_id", observability.SanitizeProductRef(string(ref))),
		zap.String("request_id", requestID),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader([]byte("{}")))
	if err != nil {
		span.SetStatus(codes.Error, "build request")
		return Result{}, fmt.Errorf("%w: build request: %w", ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestedWithHeader, "XMLHttpRequest")
	req.Header.Set(requestIDHeader, requestID)
	if token != "" {
		req.Header.Set(c.tokenHeader, token)
	}

	started := time.Now()
	resp, err := c.do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "network failure")
		logger.Debug("mutation request failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		c.record(ctx, endpoint, "network_failure", 0, time.Since(started))
		return Result{}, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	logger.Debug("mutation response", zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(started)))

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		c.record(ctx, endpoint, "unauthenticated", resp.StatusCode, time.Since(started))
		return Result{Outcome: OutcomeUnauthenticated, Status: resp.StatusCode}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		c.record(ctx, endpoint, "network_failure", resp.StatusCode, time.Since(started))
		return Result{}, fmt.Errorf("%w: read body: %w", ErrNetworkFailure, err)
	}
	result, err := decode(resp.StatusCode, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed response")
		c.record(ctx, endpoint, "malformed", resp.StatusCode, time.Since(started))
		return Result{}, err
	}
	c.record(ctx, endpoint, "completed", resp.StatusCode, time.Since(started))
	return result, nil
}

func (c *Client) record(ctx context.Context, endpoint Endpoint, outcome string, status int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint", string(endpoint)),
		attribute.String("outcome", outcome),
		attribute.Int("status", status),
	)
	if c.requests != nil {
		c.requests.Add(ctx, 1, attrs)
	}
	if c.latency != nil {
		c.latency.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.http.Do(req)
	}
	return c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
}

func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse("/" + strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return c.base.ResolveReference(ref).String(), nil
}

func decode(status int, body []byte) (Result, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Result{}, fmt.Errorf("%w: status %d: empty body", ErrMalformedResponse, status)
	}
	var p payload
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return Result{}, fmt.Errorf("%w: status %d: %w", ErrMalformedResponse, status, err)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return Result{}, fmt.Errorf("%w: status %d: trailing data after JSON object", ErrMalformedResponse, status)
	}
	return p.toResult(status), nil
}
