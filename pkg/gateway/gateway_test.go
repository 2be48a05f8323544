package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemom/aip/pkg/alignmentcard"
	"github.com/mnemom/aip/pkg/checkpointstore"
	"github.com/mnemom/aip/pkg/gateway"
	"github.com/mnemom/aip/pkg/provider"
	"github.com/mnemom/aip/pkg/types"
)

type memAgentStore struct {
	byHash map[string]types.Agent
}

func newMemAgentStore() *memAgentStore { return &memAgentStore{byHash: map[string]types.Agent{}} }

func (m *memAgentStore) GetByHash(ctx context.Context, hash string) (types.Agent, error) {
	a, ok := m.byHash[hash]
	if !ok {
		return types.Agent{}, checkpointstore.ErrNotFound
	}
	return a, nil
}

func (m *memAgentStore) Create(ctx context.Context, a types.Agent) error {
	m.byHash[a.AgentHash] = a
	return nil
}

func (m *memAgentStore) SetContainment(ctx context.Context, agentID string, status types.ContainmentStatus) (types.ContainmentStatus, error) {
	for h, a := range m.byHash {
		if a.ID == agentID {
			previous := a.ContainmentStatus
			a.ContainmentStatus = status
			m.byHash[h] = a
			return previous, nil
		}
	}
	return "", checkpointstore.ErrNotFound
}

func newTestGateway(t *testing.T, upstream *httptest.Server) *gateway.Gateway {
	t.Helper()
	base, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	return gateway.New(gateway.Config{
		Providers: map[provider.Name]gateway.ProviderTarget{
			provider.Anthropic: {Name: provider.Anthropic, BaseURL: base, CredentialHeader: "x-api-key"},
		},
		DefaultEnforcementMode: types.EnforcementObserve,
	}, gateway.Deps{
		Agents: newMemAgentStore(),
		Cards:  alignmentcard.NewMemStore(types.AlignmentCard{}),
		Clock:  time.Now,
	})
}

func TestHandlerFor_EngineDisabled_PassesThroughWithDisabledVerdict(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"claude-3","content":[{"type":"text","text":"hi"}]}`))
	}))
	defer upstream.Close()

	g := newTestGateway(t, upstream)
	handler := g.HandlerFor(provider.Anthropic)
	require.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodPost, "/anthropic/v1/messages", nil)
	req.Header.Set("x-api-key", "sk-test-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, gateway.VerdictDisabled, rec.Header().Get(gateway.HeaderVerdict))
}

func TestHandlerFor_UnknownProvider_ReturnsNil(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	g := newTestGateway(t, upstream)
	assert.Nil(t, g.HandlerFor(provider.OpenAI))
}
