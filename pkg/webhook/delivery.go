package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/mnemom/aip/pkg/types"
)

// perEndpointRPS caps outbound attempts to a single subscriber, so a
// burst of retries against one slow endpoint can't starve the
// process's outbound connection pool.
const perEndpointRPS = 5

// RetrySchedule is the bounded, fixed delay sequence between delivery
// attempts. Exhausting it without a 2xx response counts as final
// failure for that delivery.
var RetrySchedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// MaxAttempts is 1 (the initial attempt) plus one retry per schedule
// entry.
var MaxAttempts = len(RetrySchedule) + 1

// AttemptTimeout bounds a single webhook POST.
const AttemptTimeout = 5 * time.Second

// DisableThreshold is the number of consecutive failed deliveries
// (across events) after which an endpoint is auto-disabled. It is a
// fixed value; there is no per-account override.
const DisableThreshold = 10

const ResponseBodyTruncateLen = 2048

// EndpointStore is the durable home for webhook endpoint registration
// state, including the consecutive-failure counter auto-disable reads
// and resets.
type EndpointStore interface {
	ActiveEndpointsForAccount(ctx context.Context, accountID, eventType string) ([]types.WebhookEndpoint, error)
	RecordSuccess(ctx context.Context, endpointID string) error
	RecordFailure(ctx context.Context, endpointID string) (consecutiveFailures int, err error)
	Disable(ctx context.Context, endpointID, reason string) error
}

// DeliveryStore persists the per-(event,endpoint) delivery row.
type DeliveryStore interface {
	Create(ctx context.Context, d types.WebhookDelivery) error
	Update(ctx context.Context, d types.WebhookDelivery) error
	DueForRetry(ctx context.Context, now time.Time) ([]types.WebhookDelivery, error)
}

// HTTPDoer is the narrow http.Client contract Sender needs, so tests
// can substitute a stub transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sender performs one webhook HTTP attempt, behind a circuit breaker
// keyed per endpoint so a single unreachable subscriber can't starve
// attempts to every other endpoint sharing this process's goroutine
// pool.
type Sender struct {
	client    HTTPDoer
	breakers  map[string]*gobreaker.CircuitBreaker
	limiters  map[string]*rate.Limiter
	threshold int
}

func NewSender(client HTTPDoer) *Sender {
	if client == nil {
		client = &http.Client{Timeout: AttemptTimeout}
	}
	return &Sender{
		client:    client,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		limiters:  make(map[string]*rate.Limiter),
		threshold: DisableThreshold,
	}
}

func (s *Sender) breakerFor(endpointID string) *gobreaker.CircuitBreaker {
	if cb, ok := s.breakers[endpointID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook:" + endpointID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	s.breakers[endpointID] = cb
	return cb
}

func (s *Sender) limiterFor(endpointID string) *rate.Limiter {
	if l, ok := s.limiters[endpointID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(perEndpointRPS), perEndpointRPS)
	s.limiters[endpointID] = l
	return l
}

// AttemptResult is the outcome of one delivery attempt.
type AttemptResult struct {
	Success      bool
	StatusCode   int
	ResponseBody string
	Err          error
	LatencyMs    int64
}

// Attempt performs one signed POST to endpoint.URL carrying envelope,
// behind endpoint's circuit breaker.
func (s *Sender) Attempt(ctx context.Context, endpoint types.WebhookEndpoint, env Envelope) AttemptResult {
	body, err := env.Marshal()
	if err != nil {
		return AttemptResult{Err: fmt.Errorf("webhook: marshal envelope: %w", err)}
	}

	if err := s.limiterFor(endpoint.EndpointID).Wait(ctx); err != nil {
		return AttemptResult{Err: fmt.Errorf("webhook: rate limit wait: %w", err)}
	}

	start := time.Now()
	cb := s.breakerFor(endpoint.EndpointID)
	out, err := cb.Execute(func() (any, error) {
		return s.doOnce(ctx, endpoint, body, env.CreatedAt.Unix())
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return AttemptResult{Err: err, LatencyMs: latency}
	}
	result := out.(AttemptResult)
	result.LatencyMs = latency
	return result
}

func (s *Sender) doOnce(ctx context.Context, endpoint types.WebhookEndpoint, body []byte, ts int64) (AttemptResult, error) {
	ctx, cancel := context.WithTimeout(ctx, AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return AttemptResult{}, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(VersionHeader, "1")

	req.Header.Set(SignatureHeader, Sign(endpoint.SigningSecret, ts, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return AttemptResult{}, fmt.Errorf("webhook: post failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, ResponseBodyTruncateLen))

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	return AttemptResult{
		Success:      success,
		StatusCode:   resp.StatusCode,
		ResponseBody: string(respBody),
	}, nil
}
