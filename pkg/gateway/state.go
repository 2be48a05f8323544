package gateway

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/mnemom/aip/pkg/provider"
	"github.com/mnemom/aip/pkg/types"
)

// requestState carries everything resolved on the request path (agent
// identity, quota decision, provider) through to the response path,
// where httputil.ReverseProxy's ModifyResponse only has access to the
// outbound *http.Request, not the handler's local variables.
type requestState struct {
	Provider   provider.Name
	Agent      types.Agent
	AccountID  string
	Card       types.AlignmentCard
	Quota      types.QuotaDecision
	SessionID  string
	Disabled   bool
	Credential string
	Span       trace.Span
}

type requestStateKey struct{}

func withRequestState(req *http.Request, st *requestState) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), requestStateKey{}, st))
}

func requestStateFrom(req *http.Request) *requestState {
	st, _ := req.Context().Value(requestStateKey{}).(*requestState)
	if st == nil {
		return &requestState{}
	}
	return st
}
