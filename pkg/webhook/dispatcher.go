package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mnemom/aip/pkg/types"
)

// Dispatcher emits events, fans them out to matching endpoints,
// attempts one inline delivery per endpoint, and drives the bounded
// retry schedule for anything that didn't succeed inline.
type Dispatcher struct {
	endpoints EndpointStore
	deliveries DeliveryStore
	sender    *Sender
	logger    *slog.Logger
	clock     func() time.Time
}

func NewDispatcher(endpoints EndpointStore, deliveries DeliveryStore, sender *Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{endpoints: endpoints, deliveries: deliveries, sender: sender, logger: logger, clock: time.Now}
}

// Emit creates the event envelope, fans it out to every active
// endpoint subscribed to eventType for accountID, and attempts one
// inline delivery per endpoint. Any failure — endpoint lookup, the
// inline POST itself — is swallowed: the caller's request path must
// never block or fail because a subscriber is unreachable. Deliveries
// that don't succeed inline are left pending for DeliverDueRetries.
func (d *Dispatcher) Emit(ctx context.Context, accountID, eventType string, data map[string]any) {
	env := NewEnvelope(eventType, accountID, data, d.clock())

	endpoints, err := d.endpoints.ActiveEndpointsForAccount(ctx, accountID, eventType)
	if err != nil {
		d.logger.Error("webhook: list active endpoints failed", "account_id", accountID, "error", err)
		return
	}

	for _, ep := range endpoints {
		if !ep.Matches(eventType) {
			continue
		}
		d.deliverInline(ctx, ep, env)
	}
}

func (d *Dispatcher) deliverInline(ctx context.Context, ep types.WebhookEndpoint, env Envelope) {
	delivery := types.WebhookDelivery{
		DeliveryID:    types.NewDeliveryRowID(),
		EventID:       env.ID,
		EndpointID:    ep.EndpointID,
		Status:        types.DeliveryDelivering,
		AttemptCount:  1,
		MaxAttempts:   MaxAttempts,
		NextAttemptAt: d.clock(),
	}
	if err := d.deliveries.Create(ctx, delivery); err != nil {
		d.logger.Error("webhook: create delivery row failed", "endpoint_id", ep.EndpointID, "error", err)
		return
	}

	result := d.sender.Attempt(ctx, ep, env)
	now := d.clock()
	delivery.LastAttemptAt = &now
	delivery.LatencyMs = result.LatencyMs

	if result.Success {
		delivery.Status = types.DeliveryDelivered
		delivery.LastResponseStatus = result.StatusCode
		delivery.LastResponseBody = truncate(result.ResponseBody, ResponseBodyTruncateLen)
		_ = d.endpoints.RecordSuccess(ctx, ep.EndpointID)
	} else {
		delivery.Status = types.DeliveryRetrying
		delivery.LastResponseStatus = result.StatusCode
		delivery.LastResponseBody = truncate(result.ResponseBody, ResponseBodyTruncateLen)
		if result.Err != nil {
			delivery.LastError = result.Err.Error()
		}
		delivery.NextAttemptAt = now.Add(RetrySchedule[0])
	}

	if err := d.deliveries.Update(ctx, delivery); err != nil {
		d.logger.Error("webhook: update delivery row failed", "delivery_id", delivery.DeliveryID, "error", err)
	}
}

// DeliverDueRetries is the periodic retry driver: it fetches every
// delivery whose NextAttemptAt has passed and retries it, honoring
// the fixed schedule and the endpoint auto-disable threshold.
func (d *Dispatcher) DeliverDueRetries(ctx context.Context) error {
	due, err := d.deliveries.DueForRetry(ctx, d.clock())
	if err != nil {
		return fmt.Errorf("webhook: list due retries: %w", err)
	}
	for _, delivery := range due {
		d.retryOnce(ctx, delivery)
	}
	return nil
}

func (d *Dispatcher) retryOnce(ctx context.Context, delivery types.WebhookDelivery) {
	// Endpoint lookup for retry happens via the original delivery's
	// endpoint_id; callers wire EndpointStore to resolve full endpoint
	// records (URL, secret) from an ID, which ActiveEndpointsForAccount
	// alone does not provide — see EndpointByID on production stores.
	ep, ok := endpointFromContext(ctx, delivery.EndpointID)
	if !ok {
		return
	}

	env := Envelope{ID: delivery.EventID}
	result := d.sender.Attempt(ctx, ep, env)
	now := d.clock()
	delivery.AttemptCount++
	delivery.LastAttemptAt = &now
	delivery.LatencyMs = result.LatencyMs
	delivery.LastResponseStatus = result.StatusCode
	delivery.LastResponseBody = truncate(result.ResponseBody, ResponseBodyTruncateLen)
	if result.Err != nil {
		delivery.LastError = result.Err.Error()
	}

	if result.Success {
		delivery.Status = types.DeliveryDelivered
		_ = d.endpoints.RecordSuccess(ctx, ep.EndpointID)
		_ = d.deliveries.Update(ctx, delivery)
		return
	}

	scheduleIdx := delivery.AttemptCount - 1
	if scheduleIdx >= len(RetrySchedule) {
		delivery.Status = types.DeliveryFailed
		_ = d.deliveries.Update(ctx, delivery)
		d.onExhausted(ctx, ep.EndpointID)
		return
	}

	delivery.Status = types.DeliveryRetrying
	delivery.NextAttemptAt = now.Add(RetrySchedule[scheduleIdx])
	_ = d.deliveries.Update(ctx, delivery)
}

func (d *Dispatcher) onExhausted(ctx context.Context, endpointID string) {
	failures, err := d.endpoints.RecordFailure(ctx, endpointID)
	if err != nil {
		d.logger.Error("webhook: record endpoint failure failed", "endpoint_id", endpointID, "error", err)
		return
	}
	if failures >= DisableThreshold {
		if err := d.endpoints.Disable(ctx, endpointID, "consecutive_delivery_failures"); err != nil {
			d.logger.Error("webhook: auto-disable endpoint failed", "endpoint_id", endpointID, "error", err)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type endpointContextKey struct{}

// endpointFromContext is a seam production code resolves through a
// real EndpointStore.EndpointByID lookup; tests inject stub endpoints
// directly via context to keep the retry path's unit tests free of a
// second store interface method that only retries need.
func endpointFromContext(ctx context.Context, endpointID string) (types.WebhookEndpoint, bool) {
	lookup, ok := ctx.Value(endpointContextKey{}).(func(string) (types.WebhookEndpoint, bool))
	if !ok {
		return types.WebhookEndpoint{}, false
	}
	return lookup(endpointID)
}

// WithEndpointLookup attaches a by-ID endpoint resolver to ctx, for
// the retry path.
func WithEndpointLookup(ctx context.Context, lookup func(string) (types.WebhookEndpoint, bool)) context.Context {
	return context.WithValue(ctx, endpointContextKey{}, lookup)
}
