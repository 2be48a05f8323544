package webhook

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mnemom/aip/pkg/types"
)

func fixedTime() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

type stubDoer struct {
	responses []stubResponse
	calls     int
	lastReq   *http.Request
}

type stubResponse struct {
	status int
	body   string
	err    error
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	s.lastReq = req
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	r := s.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(strings.NewReader(r.body)),
	}, nil
}

func testEndpoint() types.WebhookEndpoint {
	return types.WebhookEndpoint{
		EndpointID:    "whe-1",
		AccountID:     "acct-1",
		URL:           "https://example.com/hooks",
		SigningSecret: "whsec_test",
		IsActive:      true,
	}
}

func TestSender_Attempt_SuccessOn2xx(t *testing.T) {
	doer := &stubDoer{responses: []stubResponse{{status: 200, body: "ok"}}}
	s := NewSender(doer)

	env := NewEnvelope(EventCheckpointCreated, "acct-1", map[string]any{"x": 1}, fixedTime())
	result := s.Attempt(context.Background(), testEndpoint(), env)

	require.True(t, result.Success)
	require.Equal(t, 200, result.StatusCode)
	require.NotEmpty(t, doer.lastReq.Header.Get(SignatureHeader))
	require.Equal(t, "1", doer.lastReq.Header.Get(VersionHeader))
}

func TestSender_Attempt_FailureOn5xx(t *testing.T) {
	doer := &stubDoer{responses: []stubResponse{{status: 500, body: "boom"}}}
	s := NewSender(doer)

	env := NewEnvelope(EventCheckpointCreated, "acct-1", nil, fixedTime())
	result := s.Attempt(context.Background(), testEndpoint(), env)

	require.False(t, result.Success)
	require.Equal(t, 500, result.StatusCode)
}

func TestSender_Attempt_TruncatesResponseBody(t *testing.T) {
	big := strings.Repeat("a", ResponseBodyTruncateLen+500)
	doer := &stubDoer{responses: []stubResponse{{status: 200, body: big}}}
	s := NewSender(doer)

	env := NewEnvelope(EventCheckpointCreated, "acct-1", nil, fixedTime())
	result := s.Attempt(context.Background(), testEndpoint(), env)

	require.LessOrEqual(t, len(result.ResponseBody), ResponseBodyTruncateLen)
}
