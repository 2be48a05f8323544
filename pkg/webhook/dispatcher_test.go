package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mnemom/aip/pkg/types"
)

type fakeEndpointStore struct {
	mu          sync.Mutex
	endpoints   []types.WebhookEndpoint
	failures    map[string]int
	disabled    map[string]string
	successes   map[string]int
}

func newFakeEndpointStore(eps ...types.WebhookEndpoint) *fakeEndpointStore {
	return &fakeEndpointStore{
		endpoints: eps,
		failures:  make(map[string]int),
		disabled:  make(map[string]string),
		successes: make(map[string]int),
	}
}

func (f *fakeEndpointStore) ActiveEndpointsForAccount(ctx context.Context, accountID, eventType string) ([]types.WebhookEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.WebhookEndpoint
	for _, ep := range f.endpoints {
		if ep.AccountID == accountID && ep.IsActive {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (f *fakeEndpointStore) RecordSuccess(ctx context.Context, endpointID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[endpointID] = 0
	f.successes[endpointID]++
	return nil
}

func (f *fakeEndpointStore) RecordFailure(ctx context.Context, endpointID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[endpointID]++
	return f.failures[endpointID], nil
}

func (f *fakeEndpointStore) Disable(ctx context.Context, endpointID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled[endpointID] = reason
	return nil
}

type fakeDeliveryStore struct {
	mu        sync.Mutex
	created   []types.WebhookDelivery
	updated   []types.WebhookDelivery
	dueQueue  []types.WebhookDelivery
}

func (f *fakeDeliveryStore) Create(ctx context.Context, d types.WebhookDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, d)
	return nil
}

func (f *fakeDeliveryStore) Update(ctx context.Context, d types.WebhookDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, d)
	return nil
}

func (f *fakeDeliveryStore) DueForRetry(ctx context.Context, now time.Time) ([]types.WebhookDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dueQueue, nil
}

func TestDispatcher_Emit_DeliversInlineOnSuccess(t *testing.T) {
	ep := testEndpoint()
	endpoints := newFakeEndpointStore(ep)
	deliveries := &fakeDeliveryStore{}
	doer := &stubDoer{responses: []stubResponse{{status: 200, body: "ok"}}}
	sender := NewSender(doer)

	d := NewDispatcher(endpoints, deliveries, sender, nil)
	d.Emit(context.Background(), ep.AccountID, EventCheckpointCreated, map[string]any{"checkpoint_id": "ckpt-1"})

	require.Len(t, deliveries.created, 1)
	require.Len(t, deliveries.updated, 1)
	require.Equal(t, types.DeliveryDelivered, deliveries.updated[0].Status)
	require.Equal(t, 1, endpoints.successes[ep.EndpointID])
}

func TestDispatcher_Emit_LeavesFailedInlineForRetry(t *testing.T) {
	ep := testEndpoint()
	endpoints := newFakeEndpointStore(ep)
	deliveries := &fakeDeliveryStore{}
	doer := &stubDoer{responses: []stubResponse{{status: 500, body: "boom"}}}
	sender := NewSender(doer)

	d := NewDispatcher(endpoints, deliveries, sender, nil)
	d.Emit(context.Background(), ep.AccountID, EventCheckpointCreated, nil)

	require.Len(t, deliveries.updated, 1)
	require.Equal(t, types.DeliveryRetrying, deliveries.updated[0].Status)
	require.False(t, deliveries.updated[0].NextAttemptAt.IsZero())
}

func TestDispatcher_Emit_SkipsEndpointsNotSubscribed(t *testing.T) {
	ep := testEndpoint()
	ep.EventTypes = []string{EventNudgeCreated}
	endpoints := newFakeEndpointStore(ep)
	deliveries := &fakeDeliveryStore{}
	sender := NewSender(&stubDoer{responses: []stubResponse{{status: 200}}})

	d := NewDispatcher(endpoints, deliveries, sender, nil)
	d.Emit(context.Background(), ep.AccountID, EventCheckpointCreated, nil)

	require.Empty(t, deliveries.created)
}

func TestDispatcher_RetryOnce_SucceedsAndResetsFailures(t *testing.T) {
	ep := testEndpoint()
	endpoints := newFakeEndpointStore(ep)
	endpoints.failures[ep.EndpointID] = 3
	deliveries := &fakeDeliveryStore{}
	sender := NewSender(&stubDoer{responses: []stubResponse{{status: 200, body: "ok"}}})

	d := NewDispatcher(endpoints, deliveries, sender, nil)
	ctx := WithEndpointLookup(context.Background(), func(id string) (types.WebhookEndpoint, bool) {
		if id == ep.EndpointID {
			return ep, true
		}
		return types.WebhookEndpoint{}, false
	})

	delivery := types.WebhookDelivery{
		DeliveryID: "del-1", EventID: "evt-1", EndpointID: ep.EndpointID,
		Status: types.DeliveryRetrying, AttemptCount: 1, MaxAttempts: MaxAttempts,
	}
	d.retryOnce(ctx, delivery)

	require.Len(t, deliveries.updated, 1)
	require.Equal(t, types.DeliveryDelivered, deliveries.updated[0].Status)
	require.Equal(t, 0, endpoints.failures[ep.EndpointID])
}

func TestDispatcher_RetryOnce_ExhaustsScheduleAndDisablesEndpoint(t *testing.T) {
	ep := testEndpoint()
	endpoints := newFakeEndpointStore(ep)
	endpoints.failures[ep.EndpointID] = DisableThreshold - 1
	deliveries := &fakeDeliveryStore{}
	sender := NewSender(&stubDoer{responses: []stubResponse{{status: 500, body: "boom"}}})

	d := NewDispatcher(endpoints, deliveries, sender, nil)
	ctx := WithEndpointLookup(context.Background(), func(id string) (types.WebhookEndpoint, bool) {
		return ep, true
	})

	delivery := types.WebhookDelivery{
		DeliveryID: "del-1", EventID: "evt-1", EndpointID: ep.EndpointID,
		Status: types.DeliveryRetrying, AttemptCount: MaxAttempts, MaxAttempts: MaxAttempts,
	}
	d.retryOnce(ctx, delivery)

	require.Len(t, deliveries.updated, 1)
	require.Equal(t, types.DeliveryFailed, deliveries.updated[0].Status)
	require.Equal(t, DisableThreshold, endpoints.failures[ep.EndpointID])
	require.Contains(t, endpoints.disabled, ep.EndpointID)
}

func TestDispatcher_RetryOnce_SchedulesNextAttemptWhenNotExhausted(t *testing.T) {
	ep := testEndpoint()
	endpoints := newFakeEndpointStore(ep)
	deliveries := &fakeDeliveryStore{}
	sender := NewSender(&stubDoer{responses: []stubResponse{{status: 500}}})

	d := NewDispatcher(endpoints, deliveries, sender, nil)
	ctx := WithEndpointLookup(context.Background(), func(id string) (types.WebhookEndpoint, bool) {
		return ep, true
	})

	delivery := types.WebhookDelivery{
		DeliveryID: "del-1", EventID: "evt-1", EndpointID: ep.EndpointID,
		Status: types.DeliveryRetrying, AttemptCount: 1, MaxAttempts: MaxAttempts,
	}
	d.retryOnce(ctx, delivery)

	require.Len(t, deliveries.updated, 1)
	require.Equal(t, types.DeliveryRetrying, deliveries.updated[0].Status)
	require.Empty(t, endpoints.disabled)
}

func TestDispatcher_RetryOnce_MissingEndpointLookupIsNoop(t *testing.T) {
	ep := testEndpoint()
	endpoints := newFakeEndpointStore(ep)
	deliveries := &fakeDeliveryStore{}
	sender := NewSender(&stubDoer{responses: []stubResponse{{status: 200}}})

	d := NewDispatcher(endpoints, deliveries, sender, nil)
	delivery := types.WebhookDelivery{DeliveryID: "del-1", EndpointID: ep.EndpointID}
	d.retryOnce(context.Background(), delivery)

	require.Empty(t, deliveries.updated)
}
