// Package resilience wraps outbound calls the gateway makes to
// services outside its own process — the upstream LLM provider and the
// analysis model — with a per-target circuit breaker, so a provider
// outage degrades to fast failures (and the pipeline's fail-open
// handling) instead of piling up slow timeouts.
package resilience

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mnemom/aip/pkg/integrity"
)

// BreakerConfig tunes one circuit breaker. Chosen to trip fast against
// a flapping upstream without false-tripping on an ordinary burst of
// slow requests.
var BreakerConfig = gobreaker.Settings{
	MaxRequests: 3,
	Interval:    30 * time.Second,
	Timeout:     20 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		return counts.Requests >= 8 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
	},
}

// Breakers keys one circuit breaker per named target (a provider, the
// analysis model) so an outage in one does not trip the others.
type Breakers struct {
	named map[string]*gobreaker.CircuitBreaker
}

func NewBreakers() *Breakers {
	return &Breakers{named: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *Breakers) For(name string) *gobreaker.CircuitBreaker {
	if cb, ok := b.named[name]; ok {
		return cb
	}
	cfg := BreakerConfig
	cfg.Name = name
	cb := gobreaker.NewCircuitBreaker(cfg)
	b.named[name] = cb
	return cb
}

// Transport wraps an http.RoundTripper with a named circuit breaker,
// used as the gateway's reverse-proxy Transport per upstream provider.
// An open breaker fails the request immediately with ErrBreakerOpen
// rather than hanging on a doomed retry; the gateway's proxy error
// handler answers such a failure, like any other transport error, with
// a 502 and X-AIP-Verdict: error.
type Transport struct {
	Base    http.RoundTripper
	Breaker *gobreaker.CircuitBreaker
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	result, err := t.Breaker.Execute(func() (any, error) {
		resp, err := base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, fmt.Errorf("resilience: upstream %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		if resp, ok := result.(*http.Response); ok && resp != nil {
			// A 5xx still counts as a breaker failure, but the caller
			// gets the real response back rather than a synthetic one.
			return resp, nil
		}
		return nil, fmt.Errorf("resilience: %w", err)
	}
	return result.(*http.Response), nil
}

// AnalysisClient wraps an integrity.AnalysisClient with a circuit
// breaker, so a stalled analysis model trips open and the integrity
// engine fails open immediately instead of blocking every request
// behind a string of timeouts.
type AnalysisClient struct {
	Inner   integrity.AnalysisClient
	Breaker *gobreaker.CircuitBreaker
}

func (c *AnalysisClient) Complete(ctx context.Context, systemPrompt, userPrompt string) ([]byte, error) {
	result, err := c.Breaker.Execute(func() (any, error) {
		return c.Inner.Complete(ctx, systemPrompt, userPrompt)
	})
	if err != nil {
		return nil, fmt.Errorf("resilience: analysis model: %w", err)
	}
	return result.([]byte), nil
}

var _ integrity.AnalysisClient = (*AnalysisClient)(nil)
